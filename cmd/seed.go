package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/newsletter/internal/db"
	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmehdipour/newsletter/internal/repository"
	"github.com/jmehdipour/newsletter/internal/service/subscribers"
	"github.com/jmehdipour/newsletter/internal/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedSubscribers int

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo authors and subscribers",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}

		// 2) connect MySQL
		sqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		ctx := cmd.Context()
		if err := seedAuthors(ctx, repository.NewAuthorsRepository(sqlDB)); err != nil {
			return err
		}
		n, err := seedReaders(ctx, subscribers.New(repository.NewSubscribersRepository(sqlDB), log), seedSubscribers)
		if err != nil {
			return err
		}

		log.Info("seed completed", zap.Int("new_subscribers", n))
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedSubscribers, "subscribers", 25, "number of demo subscribers")
}

// seedAuthors upserts deterministic demo authors keyed by api_key.
func seedAuthors(ctx context.Context, repo repository.AuthorsRepository) error {
	now := time.Now().UTC()
	authors := []model.Author{
		{Name: "Editorial", APIKey: "11111111111111111111111111111111", Status: "active"},
		{Name: "Guest Writers", APIKey: "22222222222222222222222222222222", Status: "active"},
		{Name: "Former Staff", APIKey: "44444444444444444444444444444444", Status: "suspended"},
	}
	for _, a := range authors {
		a.ID = util.NewIDAt(now)
		a.CreatedAt, a.UpdatedAt = now, now
		if err := repo.Upsert(ctx, a); err != nil {
			return fmt.Errorf("upsert author %q: %w", a.Name, err)
		}
	}
	return nil
}

// seedReaders subscribes reader<N>@example.com; existing subscribers are left alone.
func seedReaders(ctx context.Context, svc *subscribers.Service, count int) (int, error) {
	created := 0
	for i := 1; i <= count; i++ {
		_, isNew, err := svc.Subscribe(ctx, fmt.Sprintf("reader%d@example.com", i))
		if err != nil && !errors.Is(err, subscribers.ErrAlreadySubscribed) {
			return created, fmt.Errorf("subscribe reader%d: %w", i, err)
		}
		if isNew {
			created++
		}
	}
	return created, nil
}
