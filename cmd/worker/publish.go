package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/newsletter/internal/db"
	"github.com/jmehdipour/newsletter/internal/jobqueue"
	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmehdipour/newsletter/internal/repository"
	"github.com/jmehdipour/newsletter/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Run the publish worker (flips posts and fans out send jobs)",
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

		// 3) repositories
		content := repository.NewSQLContentStore(dbx,
			repository.NewPostsRepository(dbx),
			repository.NewSubscribersRepository(dbx),
			repository.NewDeliveriesRepository(dbx))
		queue := jobqueue.NewClient(repository.NewJobsRepository(dbx), log)

		// 4) consumer; publishing is serialized on purpose
		w := worker.NewPublisher(content, queue, log, cfg.Queue.SendRetry.Policy())
		consumer := queue.Consume(model.QueuePublishPost, 1, w.Handle)
		tune(consumer, cfg.Queue)

		// 5) graceful shutdown
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		serveMetrics(ctx, log)

		log.Info("publish worker started",
			zap.String("queue", model.QueuePublishPost),
			zap.Duration("poll_interval", consumer.PollInterval))
		return consumer.Run(ctx)
	},
}
