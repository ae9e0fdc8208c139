package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/fllgameday/refcalc/internal/config"
	"github.com/fllgameday/refcalc/internal/database"
	"github.com/fllgameday/refcalc/internal/handler/health"
	"github.com/fllgameday/refcalc/internal/migrations"
	"github.com/fllgameday/refcalc/internal/season"
	"github.com/fllgameday/refcalc/internal/server"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	seasons, err := season.Load()
	if err != nil {
		return fmt.Errorf("loading seasons: %w", err)
	}
	seasons.SetLogger(logger)
	logger.Info("seasons loaded", "count", len(seasons.List()), "current", seasons.Current().Slug())

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	store := server.NewDocStore(db)
	if cfg.SeedDemo {
		if err := server.SeedDemo(ctx, logger, store); err != nil {
			return fmt.Errorf("seeding demo data: %w", err)
		}
	}

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, store, seasons, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, map[string]health.Checker{
			"sqlite": health.DB{DB: db},
			"seasons": health.CheckerFunc(func(context.Context) error {
				if len(seasons.List()) == 0 {
					return errors.New("no seasons loaded")
				}
				return nil
			}),
		}).Routes())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}
