package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmehdipour/newsletter/internal/config"
	"github.com/jmehdipour/newsletter/internal/jobqueue"
	"github.com/jmehdipour/newsletter/internal/logger"
	"github.com/jmehdipour/newsletter/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var metricsAddr string

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	cmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address (disabled when empty)")

	// attach subcommands
	cmd.AddCommand(publishCmd)
	cmd.AddCommand(sendCmd)
	cmd.AddCommand(sinkCmd)

	return cmd
}

func bootstrap(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger: %w", err)
	}
	metrics.MustRegister(prometheus.DefaultRegisterer)
	return cfg, log, nil
}

// tune applies the queue knobs shared by every job consumer.
func tune(c *jobqueue.Consumer, q config.QueueConfig) {
	if q.PollInterval > 0 {
		c.PollInterval = q.PollInterval
	}
	if q.LockTimeout > 0 {
		c.LockTimeout = q.LockTimeout
	}
	if q.RecoverInterval > 0 {
		c.RecoverInterval = q.RecoverInterval
	}
}

// serveMetrics exposes the default registry until ctx is done.
func serveMetrics(ctx context.Context, log *zap.Logger) {
	if metricsAddr == "" {
		return
	}
	srv := &http.Server{
		Addr:              metricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server exited", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
