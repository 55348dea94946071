package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/engine"
	"github.com/xraph/reportflow/keyspace"
	"github.com/xraph/reportflow/notify"
	"github.com/xraph/reportflow/render"
)

// healthInterval is how often serve pings the stores.
const healthInterval = 30 * time.Second

func newServeCommand(load func() (*Config, error)) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler poller, worker pool and stuck-run sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply store migrations before starting")
	return cmd
}

func serve(parent context.Context, cfg *Config, migrate bool) error {
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.closeClients(context.WithoutCancel(ctx)); cerr != nil {
			logger.Error("close clients", slog.String("error", cerr.Error()))
		}
	}()
	if migrate {
		if err := b.Migrate(ctx); err != nil {
			_ = b.store.Close()
			return fmt.Errorf("migrate: %w", err)
		}
	}

	data, err := b.dataAccess(ctx, logger)
	if err != nil {
		_ = b.store.Close()
		return err
	}

	rep, err := reportflow.New(
		reportflow.WithConfig(cfg.Reporter()),
		reportflow.WithLogger(logger),
		reportflow.WithStore(b.store),
	)
	if err != nil {
		_ = b.store.Close()
		return err
	}

	opts := []engine.Option{
		engine.WithDataAccess(data),
		engine.WithRenderer(render.NewLocal(cfg.Artifacts)),
	}
	if cfg.Redis.URL != "" {
		client, err := b.redisClient(ctx)
		if err != nil {
			_ = b.store.Close()
			return err
		}
		opts = append(opts, engine.WithNotifier(notify.NewRedis(client, keyspace.New(cfg.Env))))
	}
	eng, err := engine.Build(rep, opts...)
	if err != nil {
		_ = b.store.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := eng.Start(gctx); err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		logger.Info("reportd started",
			slog.String("env", keyspace.NormalizeEnv(cfg.Env)),
			slog.String("records", cfg.Store.Records),
			slog.String("queue", cfg.Store.Queue),
		)
		<-gctx.Done()
		logger.Info("reportd stopping")
		return eng.Stop(context.WithoutCancel(gctx))
	})
	g.Go(func() error {
		ticker := time.NewTicker(healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := b.store.Ping(gctx); err != nil && gctx.Err() == nil {
					logger.Warn("store ping failed", slog.String("error", err.Error()))
				}
			}
		}
	})
	return g.Wait()
}
