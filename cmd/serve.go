package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/newsletter/internal/db"
	httpSrv "github.com/jmehdipour/newsletter/internal/http"
	"github.com/jmehdipour/newsletter/internal/jobqueue"
	"github.com/jmehdipour/newsletter/internal/metrics"
	"github.com/jmehdipour/newsletter/internal/ratelimit"
	"github.com/jmehdipour/newsletter/internal/repository"
	"github.com/jmehdipour/newsletter/internal/service/posts"
	"github.com/jmehdipour/newsletter/internal/service/subscribers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		mysqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.OpenRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		// reports are optional; an empty DSN disables them
		var reports repository.CHDeliveriesRepository
		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.OpenClickHouse(cfg.ClickHouse)
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() { _ = chDB.Close() }()
			reports = repository.NewCHDeliveriesRepository(chDB)
		}

		// repos (MySQL)
		postsRepo := repository.NewPostsRepository(mysqlDB)
		subsRepo := repository.NewSubscribersRepository(mysqlDB)
		delsRepo := repository.NewDeliveriesRepository(mysqlDB)
		content := repository.NewSQLContentStore(mysqlDB, postsRepo, subsRepo, delsRepo)
		queue := jobqueue.NewClient(repository.NewJobsRepository(mysqlDB), log)

		metrics.MustRegister(prometheus.DefaultRegisterer)

		server := httpSrv.NewServer(httpSrv.Deps{
			Posts:          posts.New(content, queue, log, cfg.Queue.PublishRetry.Policy()),
			Subscribers:    subscribers.New(subsRepo, log),
			Authors:        repository.NewAuthorsRepository(mysqlDB),
			Reports:        reports,
			SubscribeLimit: ratelimit.NewFixedWindow(redisClient, "rl:sub:", cfg.RateLimit.Limit, cfg.RateLimit.Window),
			Gatherer:       prometheus.DefaultGatherer,
			Log:            log,
			LogLevel:       cfg.Log.Level,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}
