package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	nsAdapter "github.com/nimlime/nimsuggestd/internal/adapter/nimsuggest"
	nsnats "github.com/nimlime/nimsuggestd/internal/adapter/nats"
	nsotel "github.com/nimlime/nimsuggestd/internal/adapter/otel"
	"github.com/nimlime/nimsuggestd/internal/adapter/ristretto"
	"github.com/nimlime/nimsuggestd/internal/adapter/ws"
	"github.com/nimlime/nimsuggestd/internal/config"
	"github.com/nimlime/nimsuggestd/internal/limit"
	"github.com/nimlime/nimsuggestd/internal/logger"
	"github.com/nimlime/nimsuggestd/internal/port/broadcast"
	"github.com/nimlime/nimsuggestd/internal/service"
)

// app holds the wired core shared by every subcommand.
type app struct {
	cfg   *config.Config
	svc   *service.NimsuggestService
	hub   *ws.Hub
	queue *nsnats.Queue
	cache *ristretto.Cache

	closers []func(ctx context.Context) error
}

// newApp loads configuration and wires logging, telemetry, event
// publishing and the nimsuggest service. Marker watching stops with ctx.
func newApp(ctx context.Context) (_ *app, err error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)

	a := &app{cfg: cfg}
	a.closers = append(a.closers, func(context.Context) error {
		closeLog.Close()
		return nil
	})
	defer func() {
		if err != nil {
			_ = a.release(context.Background())
		}
	}()

	// --- Infrastructure ---

	shutdownOtel, err := nsotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	a.closers = append(a.closers, shutdownOtel)

	metrics, err := nsotel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	a.cache, err = ristretto.New(cfg.Router.CacheMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("root cache: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		a.cache.Close()
		return nil
	})

	a.hub = ws.NewHub()
	broadcasters := []broadcast.Broadcaster{a.hub}

	if cfg.Events.NATSURL != "" {
		a.queue, err = nsnats.Connect(ctx, cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		broadcasters = append(broadcasters, a.queue)
		a.closers = append(a.closers, func(context.Context) error { return a.queue.Drain() })
	}

	// --- Services ---

	roots := service.NewRootFinder(&cfg.Router, a.cache)
	if cfg.Router.WatchMarkers {
		if err := roots.Watch(ctx); err != nil {
			slog.Warn("project marker watching disabled", "error", err)
		}
	}

	launcher := nsAdapter.NewLauncher(&cfg.Nimsuggest, limit.NewPool(cfg.Nimsuggest.MaxConcurrentStarts), cfg.Features.Debug)
	observer := service.NewEventObserver(metrics, broadcasters...)
	router := service.NewRouter(&cfg.Session, roots, launcher, observer)
	a.svc = service.NewNimsuggestService(router, &cfg.Features)

	slog.Info("nimsuggestd ready",
		"mode", cfg.Nimsuggest.Mode,
		"query_timeout", cfg.Session.QueryTimeout,
		"nats", cfg.Events.NATSURL != "",
		"otel", cfg.OTEL.Endpoint != "",
	)
	return a, nil
}

// close stops every session and releases infrastructure in reverse order.
func (a *app) close(ctx context.Context) error {
	err := a.svc.Shutdown(ctx)
	a.hub.Close()
	return errors.Join(err, a.release(ctx))
}

func (a *app) release(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}
