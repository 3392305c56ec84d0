package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devghori1264/aerophoenix/lockerd/internal/api"
	"github.com/devghori1264/aerophoenix/lockerd/internal/cache"
	"github.com/devghori1264/aerophoenix/lockerd/internal/config"
	"github.com/devghori1264/aerophoenix/lockerd/internal/dispatch"
	"github.com/devghori1264/aerophoenix/lockerd/internal/hardware"
	"github.com/devghori1264/aerophoenix/lockerd/internal/identity"
	"github.com/devghori1264/aerophoenix/lockerd/internal/inventory"
	"github.com/devghori1264/aerophoenix/lockerd/internal/logging"
	natsclient "github.com/devghori1264/aerophoenix/lockerd/internal/nats"
	"github.com/devghori1264/aerophoenix/lockerd/internal/server"
	"github.com/devghori1264/aerophoenix/lockerd/internal/storage"
	"github.com/devghori1264/aerophoenix/lockerd/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:          "lockerd",
		Short:        "Machine allocation and lifecycle daemon",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "path to a YAML config file")
	f.String("http-addr", ":8080", "HTTP listen address")
	f.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	f.String("store", storage.BackendBadger, "state store backend (badger, sqlite, memory)")
	f.String("db", "", "state store path (defaults to ./data/badger or ./data/lockerd.db by backend)")
	f.String("hardware-addr", "localhost:50051", "hardware gRPC service address")
	f.String("nats-url", "", "NATS URL for lifecycle events (disabled when empty)")
	f.String("inventory", "", "YAML machine inventory to seed on startup")
	f.String("log-level", "info", "log level")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tp, shutdownTracing, err := telemetry.Setup(cfg.Tracing.Enabled, "lockerd", os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, shutdownTracing(context.Background()))
	}()

	store, err := storage.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		err = errors.Join(err, store.Close())
	}()

	if cfg.Inventory.Path != "" {
		inv, err := inventory.Load(cfg.Inventory.Path)
		if err != nil {
			return err
		}
		created, err := inventory.Seed(ctx, store, inv)
		if err != nil {
			return fmt.Errorf("seed inventory: %w", err)
		}
		logger.Info("inventory seeded", zap.Int("created", created), zap.Int("total", len(inv.Machines)))
	}

	hw, err := hardware.Dial(cfg.Hardware.Addr, cfg.Hardware.Timeout)
	if err != nil {
		return err
	}
	defer hw.Close()

	cache.SetSharedTTL(cfg.Cache.TTL)
	machines := cache.Shared()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithTracer(telemetry.Tracer(tp)),
	}
	if cfg.NATS.URL != "" {
		pub, err := natsclient.NewPublisher(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		opts = append(opts, server.WithEvents(pub))
	}
	srv := server.New(store, machines, hw, opts...)

	if len(cfg.Auth.Tokens) == 0 {
		logger.Warn("no auth tokens configured; every request will be rejected")
	}
	d := dispatch.New(srv, identity.NewStaticGate(cfg.Auth.Tokens...),
		dispatch.WithLogger(logger),
		dispatch.WithLegacyUnroutable(cfg.Dispatch.LegacyUnroutable))

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewHTTPHandler(d, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsMux := http.NewServeMux()
	api.RegisterMetrics(metricsMux, nil)
	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP API listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Prometheus metrics available", zap.String("addr", cfg.Metrics.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Cache.PurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := machines.Purge(); n > 0 {
					logger.Debug("purged expired cache entries", zap.Int("removed", n))
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(httpServer.Shutdown(shutdownCtx), metricsServer.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
