package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmehdipour/newsletter/internal/config"
	"github.com/jmehdipour/newsletter/internal/db"
	"github.com/jmehdipour/newsletter/internal/dispatcher"
	"github.com/jmehdipour/newsletter/internal/jobqueue"
	"github.com/jmehdipour/newsletter/internal/kafka"
	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmehdipour/newsletter/internal/ratelimit"
	"github.com/jmehdipour/newsletter/internal/render"
	"github.com/jmehdipour/newsletter/internal/repository"
	"github.com/jmehdipour/newsletter/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Run the send worker pool (one email per delivery)",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, log, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		// 2) DB connection (MySQL)
		dbx, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		content := repository.NewSQLContentStore(dbx,
			repository.NewPostsRepository(dbx),
			repository.NewSubscribersRepository(dbx),
			repository.NewDeliveriesRepository(dbx))
		queue := jobqueue.NewClient(repository.NewJobsRepository(dbx), log)

		// 3) providers -> dispatcher
		provs, err := buildProviders(cfg, log)
		if err != nil {
			return err
		}
		disp := dispatcher.NewDispatcher(provs, cfg.Sender.MaxAttempts)

		// 4) shared rate limiter
		var limiter ratelimit.Limiter
		switch cfg.Sender.Limiter {
		case "redis":
			rdb, err := db.OpenRedis(cfg.Redis)
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer func() { _ = rdb.Close() }()
			limiter = ratelimit.NewRedis(rdb, "newsletter", cfg.Sender.RatePerSec)
		default:
			limiter = ratelimit.NewLocal(cfg.Sender.RatePerSec, cfg.Sender.Burst)
		}

		// 5) delivery events (optional)
		var events worker.EventPublisher
		if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic != "" {
			producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.WriteTimeout)
			defer producer.Close()
			events = producer
		}

		renderer := render.New(cfg.Email.ClientURL, cfg.Email.Subject, cfg.Email.Brand)
		w := worker.NewSender(content, disp, limiter, renderer, events, log)

		consumer := queue.Consume(model.QueueSendEmail, cfg.Sender.Workers, w.Handle)
		tune(consumer, cfg.Queue)

		// 6) graceful shutdown
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		serveMetrics(ctx, log)

		log.Info("send worker started",
			zap.Int("workers", consumer.Concurrency),
			zap.Float64("rate_per_sec", cfg.Sender.RatePerSec),
			zap.String("limiter", cfg.Sender.Limiter),
			zap.Int("providers", len(provs)))
		return consumer.Run(ctx)
	},
}

func buildProviders(cfg config.Config, log *zap.Logger) ([]dispatcher.Provider, error) {
	var provs []dispatcher.Provider
	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}

		var s dispatcher.Sender
		switch pc.Kind {
		case "http":
			if strings.TrimSpace(pc.BaseURL) == "" {
				return nil, fmt.Errorf("provider %q: base_url is required", pc.Name)
			}
			s = dispatcher.NewHTTPProvider(pc.Name, strings.TrimRight(pc.BaseURL, "/"), pc.Path, pc.Token, pc.TimeoutMs)
		case "postmark":
			pm := dispatcher.NewPostmarkProvider(pc.Name, pc.Token, pc.AccountToken, cfg.Email.From, cfg.Email.ReplyTo, pc.TimeoutMs)
			if pc.BaseURL != "" {
				pm = pm.WithBaseURL(pc.BaseURL)
			}
			s = pm
		case "log":
			s = dispatcher.NewLogProvider(pc.Name, log)
		default:
			return nil, fmt.Errorf("provider %q: unknown kind %q", pc.Name, pc.Kind)
		}

		provs = append(provs, dispatcher.Guard(s, pc.Breaker.FailThreshold, time.Duration(pc.Breaker.OpenForMs)*time.Millisecond))
	}
	if len(provs) == 0 {
		return nil, fmt.Errorf("no providers enabled in config")
	}
	return provs, nil
}
