// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the runtime components together and owns their lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/rtmp2hls/internal/api"
	"github.com/ManuGH/rtmp2hls/internal/config"
	"github.com/ManuGH/rtmp2hls/internal/ingest/manager"
	"github.com/ManuGH/rtmp2hls/internal/ingest/observer"
	"github.com/ManuGH/rtmp2hls/internal/ledger"
	"github.com/ManuGH/rtmp2hls/internal/liveness"
	"github.com/ManuGH/rtmp2hls/internal/log"
	"github.com/ManuGH/rtmp2hls/internal/pipeline/bus"
	"github.com/ManuGH/rtmp2hls/internal/telemetry"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// ErrMissingConfig is returned by Bootstrap without a config holder.
var ErrMissingConfig = errors.New("daemon: config holder is required")

// Option customizes Bootstrap.
type Option func(*options)

type options struct {
	managerOpts []manager.Option
	listener    net.Listener
}

// WithManagerOptions appends options to the session manager.
func WithManagerOptions(opts ...manager.Option) Option {
	return func(o *options) { o.managerOpts = append(o.managerOpts, opts...) }
}

// WithListener serves the API on l instead of listening on the configured address.
func WithListener(l net.Listener) Option {
	return func(o *options) { o.listener = l }
}

// App owns the long-lived runtime: manager, control API, ledger consumer and
// config reload wiring.
type App struct {
	logger    zerolog.Logger
	cfgHolder *config.ConfigHolder
	manager   *manager.Manager
	server    *http.Server
	listener  net.Listener
	ledger    *ledger.Store
	bus       bus.Bus
	live      liveness.Client
	tracing   *telemetry.Provider

	reloadSignal os.Signal
}

// Bootstrap builds every component from the current config. The returned App
// holds open resources; call Close after Run returns.
func Bootstrap(ctx context.Context, holder *config.ConfigHolder, version string, opts ...Option) (*App, error) {
	if holder == nil {
		return nil, ErrMissingConfig
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := holder.Get()
	a := &App{
		logger:       log.WithComponent("daemon"),
		cfgHolder:    holder,
		bus:          bus.NewMemoryBus(),
		reloadSignal: syscall.SIGHUP,
	}

	preflight(a.logger, cfg)

	tp, err := telemetry.NewProvider(ctx, cfg, version)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.tracing = tp

	live, err := liveness.New(ctx, cfg.Liveness)
	if err != nil {
		// liveness is best-effort; a missing Redis must not keep sessions from starting
		a.logger.Warn().Err(err).Str(log.FieldEvent, "liveness.unavailable").Msg("liveness disabled")
		live = liveness.Noop{}
	}
	a.live = live

	if cfg.Ledger.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0o750); err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("ledger dir: %w", err)
		}
		store, err := ledger.Open(ctx, cfg.Ledger.Path)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		a.ledger = store
	}

	obs := observer.Multi{observer.Log{}, observer.Metrics{}, observer.Bus{B: a.bus}}
	mopts := append([]manager.Option{
		manager.WithLiveness(a.live),
		manager.WithObserver(obs),
	}, o.managerOpts...)
	a.manager = manager.New(cfg, mopts...)

	var apiOpts []api.Option
	if a.ledger != nil {
		apiOpts = append(apiOpts, api.WithHistory(a.ledger))
	}
	apiCfg := api.Config{RateLimit: cfg.Server.RateLimit}
	if cfg.Telemetry.Enabled {
		apiCfg.ServiceName = telemetry.ServiceName(cfg)
	}
	srv := api.New(apiCfg, a.manager, apiOpts...)

	a.listener = o.listener
	if a.listener == nil {
		l, err := net.Listen("tcp", cfg.Server.ListenAddr)
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("listen %s: %w", cfg.Server.ListenAddr, err)
		}
		a.listener = l
	}
	a.server = &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return a, nil
}

// Addr is the address the control API listens on.
func (a *App) Addr() net.Addr { return a.listener.Addr() }

// Manager exposes the session manager.
func (a *App) Manager() *manager.Manager { return a.manager }

// Run starts every subsystem and blocks until ctx is cancelled or one fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// The ledger stops only after the manager has published every exit.
	ledgerCtx, stopLedger := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLedger()

	g.Go(func() error {
		defer stopLedger()
		return a.manager.Run(gctx)
	})

	g.Go(func() error {
		a.logger.Info().
			Str(log.FieldEvent, "api.listening").
			Str("addr", a.listener.Addr().String()).
			Msg("control API listening")
		if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn().Err(err).Msg("api shutdown incomplete")
		}
		return nil
	})

	if a.ledger != nil {
		g.Go(func() error {
			return a.ledger.Consume(ledgerCtx, a.bus)
		})
	}

	// Config watcher is best-effort: startup does not fail if it cannot start.
	if err := a.cfgHolder.StartWatcher(gctx); err != nil {
		a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
	}

	applyCh := make(chan config.AppConfig, 1)
	a.cfgHolder.RegisterListener(applyCh)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case cfg := <-applyCh:
				a.apply(gctx, cfg)
			}
		}
	})

	if a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-gctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")
					if err := a.cfgHolder.Reload(gctx); err != nil {
						a.logger.Warn().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("config reload failed")
					}
				}
			}
		})
	}

	err := g.Wait()
	a.cfgHolder.Stop()
	return err
}

func (a *App) apply(ctx context.Context, cfg config.AppConfig) {
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		a.logger.Warn().Err(err).Str("log_level", cfg.LogLevel).Msg("log level not applied")
	}
	if err := a.manager.ApplyConfig(ctx, cfg); err != nil && ctx.Err() == nil {
		a.logger.Warn().Err(err).Msg("manager did not accept reloaded config")
	}
}

// Close releases the resources opened by Bootstrap.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.listener != nil {
		// Serve closes the listener; a second close is harmless
		_ = a.listener.Close()
	}
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	if a.live != nil {
		errs = append(errs, a.live.Close())
	}
	if a.tracing != nil {
		errs = append(errs, a.tracing.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// preflight logs environment problems that will make every spawn fail.
func preflight(logger zerolog.Logger, cfg config.AppConfig) {
	if _, err := exec.LookPath(cfg.FFmpeg.Bin); err != nil {
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "startup.ffmpeg_missing").
			Str("bin", cfg.FFmpeg.Bin).
			Msg("ffmpeg binary not found; publish requests will fail")
	}
	for _, dir := range []string{cfg.HLS.Root, cfg.FFmpeg.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, dir).Msg("cannot create directory")
		}
	}
	if cfg.Record.Enabled && cfg.Record.Root != "" {
		if err := os.MkdirAll(cfg.Record.Root, 0o750); err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, cfg.Record.Root).Msg("cannot create directory")
		}
	}
}
