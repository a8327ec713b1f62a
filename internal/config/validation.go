// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"strings"
	"time"
)

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if cfg.Ports.Min < 1 || cfg.Ports.Min > 65535 {
		add("ports.min %d out of range 1..65535", cfg.Ports.Min)
	}
	if cfg.Ports.Max < 1 || cfg.Ports.Max > 65535 {
		add("ports.max %d out of range 1..65535", cfg.Ports.Max)
	}
	if cfg.Ports.Min > cfg.Ports.Max {
		add("ports.min %d greater than ports.max %d", cfg.Ports.Min, cfg.Ports.Max)
	}
	if cfg.Ports.Probe && cfg.Ports.ProbeMaxTries <= 0 {
		add("ports.probe_max_tries must be positive when probing is enabled")
	}

	if cfg.Session.Duration < MinSessionDuration {
		add("session.duration %s below minimum %s", cfg.Session.Duration, MinSessionDuration)
	}
	if cfg.Session.ExistReplyDelay < 0 {
		add("session.exist_reply_delay must not be negative")
	}
	if cfg.Session.RespawnMinInterval < 0 {
		add("session.respawn_min_interval must not be negative")
	}

	positive := map[string]time.Duration{
		"supervisor.spawn_settle":             cfg.Supervisor.SpawnSettle,
		"supervisor.spawn_max_wait":           cfg.Supervisor.SpawnMaxWait,
		"supervisor.poll_interval":            cfg.Supervisor.PollInterval,
		"supervisor.monitor_poll_timeout":     cfg.Supervisor.MonitorPollTimeout,
		"supervisor.terminate_poll_timeout":   cfg.Supervisor.TerminatePollTimeout,
		"supervisor.rollback_poll_timeout":    cfg.Supervisor.RollbackPollTimeout,
		"supervisor.terminate_retry_interval": cfg.Supervisor.TerminateRetryInterval,
		"runner.begin_poll_interval":          cfg.Runner.BeginPollInterval,
		"runner.end_poll_interval":            cfg.Runner.EndPollInterval,
		"runner.end_grace_window":             cfg.Runner.EndGraceWindow,
		"worker.tick_interval":                cfg.Worker.TickInterval,
	}
	for _, key := range slices.Sorted(maps.Keys(positive)) {
		if positive[key] <= 0 {
			add("%s must be positive, got %s", key, positive[key])
		}
	}
	if cfg.Supervisor.TerminateRetries <= 0 {
		add("supervisor.terminate_retries must be positive")
	}

	if strings.TrimSpace(cfg.FFmpeg.Bin) == "" {
		add("ffmpeg.bin is required")
	}
	if cfg.FFmpeg.HLSListSize < 0 {
		add("ffmpeg.hls_list_size must not be negative")
	}
	if cfg.HLS.Root == "" {
		add("hls.root is required")
	}
	if cfg.Record.Enabled && cfg.Record.Root == "" {
		add("record.root is required when recording is enabled")
	}

	if cfg.Server.PublicIP != "" && net.ParseIP(cfg.Server.PublicIP) == nil {
		add("server.public_ip %q is not an IP address", cfg.Server.PublicIP)
	}
	if cfg.Server.RateLimit < 0 {
		add("server.rate_limit must not be negative")
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Exporter {
		case "grpc", "http":
		default:
			add("telemetry.exporter %q must be grpc or http", cfg.Telemetry.Exporter)
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			add("telemetry.sampling_rate %v out of range 0..1", cfg.Telemetry.SamplingRate)
		}
	}

	return errors.Join(errs...)
}
