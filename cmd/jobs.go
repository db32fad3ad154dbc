package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmehdipour/newsletter/internal/db"
	"github.com/jmehdipour/newsletter/internal/jobqueue"
	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmehdipour/newsletter/internal/repository"
	"github.com/jmehdipour/newsletter/internal/service/posts"
	"github.com/spf13/cobra"
)

var (
	deadQueue string
	deadLimit int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and repair the job queue",
}

var jobsDeadCmd = &cobra.Command{
	Use:   "dead",
	Short: "List jobs that exhausted their retries or failed permanently",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := bootstrap()
		if err != nil {
			return err
		}

		sqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		jobs, err := repository.NewJobsRepository(sqlDB).ListDead(cmd.Context(), deadQueue, deadLimit)
		if err != nil {
			return fmt.Errorf("list dead jobs: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	},
}

var jobsEnqueuePublishCmd = &cobra.Command{
	Use:   "enqueue-publish <slug>",
	Short: "Enqueue the publish job of a stored post again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		sqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		content := repository.NewSQLContentStore(sqlDB,
			repository.NewPostsRepository(sqlDB),
			repository.NewSubscribersRepository(sqlDB),
			repository.NewDeliveriesRepository(sqlDB))
		queue := jobqueue.NewClient(repository.NewJobsRepository(sqlDB), log)
		svc := posts.New(content, queue, log, cfg.Queue.PublishRetry.Policy())

		jobID, err := svc.Requeue(cmd.Context(), args[0])
		switch {
		case errors.Is(err, posts.ErrAlreadyQueued):
			fmt.Fprintf(cmd.OutOrStdout(), "%s: publish job already queued\n", args[0])
			return nil
		case err != nil:
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: enqueued %s\n", args[0], jobID)
		return nil
	},
}

func init() {
	jobsDeadCmd.Flags().StringVar(&deadQueue, "queue", model.QueueSendEmail, "queue name")
	jobsDeadCmd.Flags().IntVar(&deadLimit, "limit", 50, "max jobs to list")
	jobsCmd.AddCommand(jobsDeadCmd)
	jobsCmd.AddCommand(jobsEnqueuePublishCmd)
}
