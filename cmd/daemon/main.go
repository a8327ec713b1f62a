// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/rtmp2hls/internal/config"
	"github.com/ManuGH/rtmp2hls/internal/daemon"
	xglog "github.com/ManuGH/rtmp2hls/internal/log"
	"github.com/ManuGH/rtmp2hls/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "rtmp2hls",
		Version: version.Version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = resolveDefaultConfigPath()
	}

	loader := config.NewLoader(path, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: version.Version,
	})
	logger = xglog.WithComponent("daemon")

	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str("event", "config.loaded").
		Str("source", source).
		Str("path", path).
		Int("port_min", cfg.Ports.Min).
		Int("port_max", cfg.Ports.Max).
		Msg("configuration loaded")

	holder := config.NewConfigHolder(cfg, loader, path)
	app, err := daemon.Bootstrap(ctx, holder, version.Version)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "startup.failed").Msg("failed to start daemon")
	}

	runErr := app.Run(ctx)
	if err := app.Close(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("cleanup incomplete")
	}
	if runErr != nil {
		logger.Fatal().Err(runErr).Str("event", "daemon.failed").Msg("daemon stopped with error")
	}
	logger.Info().Str("event", "daemon.stopped").Msg("daemon stopped")
}
