package cmd

import (
	"context"
	"fmt"

	"github.com/jmehdipour/newsletter/internal/db"
	"github.com/jmehdipour/newsletter/migrations"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var skipClickHouse bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create MySQL and ClickHouse tables (idempotent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		// 1) MySQL
		sqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		scripts, err := migrations.MySQL()
		if err != nil {
			return fmt.Errorf("read mysql migrations: %w", err)
		}
		if err := apply(ctx, sqlDB, scripts, log); err != nil {
			return err
		}

		// 2) ClickHouse
		if skipClickHouse || cfg.ClickHouse.DSN == "" {
			log.Info("clickhouse migrations skipped")
			return nil
		}
		chDB, err := db.OpenClickHouse(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()

		scripts, err = migrations.ClickHouse()
		if err != nil {
			return fmt.Errorf("read clickhouse migrations: %w", err)
		}
		if err := apply(ctx, chDB, scripts, log); err != nil {
			return err
		}

		log.Info("migration complete")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&skipClickHouse, "skip-clickhouse", false, "only migrate MySQL")
}

func apply(ctx context.Context, dbx *sqlx.DB, scripts []migrations.Script, log *zap.Logger) error {
	for _, s := range scripts {
		for i, stmt := range s.Statements() {
			if _, err := dbx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec %s statement %d: %w", s.Name, i+1, err)
			}
		}
		log.Info("migration applied", zap.String("script", s.Name))
	}
	return nil
}
