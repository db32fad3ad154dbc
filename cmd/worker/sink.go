package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/newsletter/internal/db"
	"github.com/jmehdipour/newsletter/internal/kafka"
	"github.com/jmehdipour/newsletter/internal/repository"
	"github.com/jmehdipour/newsletter/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sinkCmd = &cobra.Command{
	Use:   "sink",
	Short: "Copy delivery events from Kafka into ClickHouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, log, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		// 2) ClickHouse
		chDB, err := db.OpenClickHouse(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()

		// 3) kafka consumer
		groupID := cfg.Kafka.GroupID
		if groupID == "" {
			groupID = "newsletter-sink"
		}
		consumer := kafka.NewConsumer(kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.Topic,
			GroupID:        groupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		})
		defer consumer.Close()

		w := worker.NewSink(consumer, repository.NewCHDeliveriesRepository(chDB), log)

		// tune knobs
		if cfg.Sink.BatchSize > 0 {
			w.BatchSize = cfg.Sink.BatchSize
		}
		if cfg.Sink.BatchWait > 0 {
			w.BatchWait = cfg.Sink.BatchWait
		}

		// 4) graceful shutdown
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		serveMetrics(ctx, log)

		log.Info("sink started",
			zap.String("topic", cfg.Kafka.Topic),
			zap.String("group", groupID),
			zap.Int("batch_size", w.BatchSize),
			zap.Duration("batch_wait", w.BatchWait))
		return w.Run(ctx)
	},
}
