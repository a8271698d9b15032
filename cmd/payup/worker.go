package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"payup/internal/app"
	"payup/internal/config"
)

func workerCmd() *cobra.Command {
	var (
		withRelay   bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume webhook jobs and deliver them to merchants",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := app.NewLogger(cfg.Log)

			c, err := connect(cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)

			dispatcher := c.Dispatcher()
			g.Go(func() error {
				logger.Info("webhook worker started", slog.String("queue", cfg.Queue.Driver))
				return c.Queue.Consume(ctx, dispatcher.Handle())
			})

			if withRelay {
				relay := c.Relay()
				g.Go(func() error {
					return relay.Run(ctx)
				})
			}

			if metricsAddr != "" && cfg.Metrics.Enabled {
				serveMetrics(ctx, g, c, metricsAddr, cfg.Metrics.Path, logger)
			}

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("webhook worker stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&withRelay, "relay", true, "also run the outbox relay in this process")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address for the metrics endpoint (empty disables)")

	return cmd
}

func relayCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Republish outbox messages whose enqueue did not complete",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := app.NewLogger(cfg.Log)

			c, err := connect(cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			relay := c.Relay()
			g.Go(func() error {
				return relay.Run(ctx)
			})

			if metricsAddr != "" && cfg.Metrics.Enabled {
				serveMetrics(ctx, g, c, metricsAddr, cfg.Metrics.Path, logger)
			}

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for the metrics endpoint (empty disables)")

	return cmd
}

func connect(cfg *config.Config, logger *slog.Logger) (*app.Container, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.NewContainer(ctx, cfg, logger)
}

func serveMetrics(ctx context.Context, g *errgroup.Group, c *app.Container, addr, path string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(path, c.MetricsHandler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Info("metrics listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}
