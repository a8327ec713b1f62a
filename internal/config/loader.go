// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseString(EnvPrefix+key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseBool(EnvPrefix+key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseInt(EnvPrefix+key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseDuration(EnvPrefix+key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseFloat(EnvPrefix+key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults.
// The file is parsed strictly, then the environment is applied, then the result is validated.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	cfg.Version = l.version

	for _, dir := range []*string{&cfg.HLS.Root, &cfg.Record.Root, &cfg.FFmpeg.LogDir} {
		if *dir == "" {
			continue
		}
		if abs, err := filepath.Abs(*dir); err == nil {
			*dir = abs
		}
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes the YAML file over cfg with STRICT parsing.
// Unknown fields cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = l.envString("LOG_SERVICE", cfg.LogService)

	cfg.Server.ListenAddr = l.envString("LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.PublicIP = l.envString("PUBLIC_IP", cfg.Server.PublicIP)
	cfg.Server.RateLimit = l.envInt("RATE_LIMIT", cfg.Server.RateLimit)

	cfg.Ports.Min = l.envInt("PORT_MIN", cfg.Ports.Min)
	cfg.Ports.Max = l.envInt("PORT_MAX", cfg.Ports.Max)
	cfg.Ports.Probe = l.envBool("PORT_PROBE", cfg.Ports.Probe)
	cfg.Ports.ProbeMaxTries = l.envInt("PORT_PROBE_MAX_TRIES", cfg.Ports.ProbeMaxTries)

	cfg.Session.Duration = l.envDuration("SESSION_DURATION", cfg.Session.Duration)
	cfg.Session.ExistReplyDelay = l.envDuration("SESSION_EXIST_REPLY_DELAY", cfg.Session.ExistReplyDelay)
	cfg.Session.RespawnMinInterval = l.envDuration("SESSION_RESPAWN_MIN_INTERVAL", cfg.Session.RespawnMinInterval)
	cfg.Session.UsePublishState = l.envBool("SESSION_USE_PUBLISH_STATE", cfg.Session.UsePublishState)

	s := &cfg.Supervisor
	s.SpawnSettle = l.envDuration("SUPERVISOR_SPAWN_SETTLE", s.SpawnSettle)
	s.SpawnMaxWait = l.envDuration("SUPERVISOR_SPAWN_MAX_WAIT", s.SpawnMaxWait)
	s.PollInterval = l.envDuration("SUPERVISOR_POLL_INTERVAL", s.PollInterval)
	s.MonitorPollTimeout = l.envDuration("SUPERVISOR_MONITOR_POLL_TIMEOUT", s.MonitorPollTimeout)
	s.TerminatePollTimeout = l.envDuration("SUPERVISOR_TERMINATE_POLL_TIMEOUT", s.TerminatePollTimeout)
	s.RollbackPollTimeout = l.envDuration("SUPERVISOR_ROLLBACK_POLL_TIMEOUT", s.RollbackPollTimeout)
	s.TerminateRetries = l.envInt("SUPERVISOR_TERMINATE_RETRIES", s.TerminateRetries)
	s.TerminateRetryInterval = l.envDuration("SUPERVISOR_TERMINATE_RETRY_INTERVAL", s.TerminateRetryInterval)

	cfg.Runner.BeginPollInterval = l.envDuration("RUNNER_BEGIN_POLL_INTERVAL", cfg.Runner.BeginPollInterval)
	cfg.Runner.EndPollInterval = l.envDuration("RUNNER_END_POLL_INTERVAL", cfg.Runner.EndPollInterval)
	cfg.Runner.EndGraceWindow = l.envDuration("RUNNER_END_GRACE_WINDOW", cfg.Runner.EndGraceWindow)

	cfg.Worker.TickInterval = l.envDuration("WORKER_TICK_INTERVAL", cfg.Worker.TickInterval)

	f := &cfg.FFmpeg
	f.Bin = l.envString("FFMPEG_BIN", f.Bin)
	f.Verbose = l.envString("FFMPEG_VERBOSE", f.Verbose)
	f.Overwrite = l.envBool("FFMPEG_OVERWRITE", f.Overwrite)
	f.VCodec = l.envString("FFMPEG_VCODEC", f.VCodec)
	f.ACodec = l.envString("FFMPEG_ACODEC", f.ACodec)
	f.HLSInitTime = l.envString("FFMPEG_HLS_INIT_TIME", f.HLSInitTime)
	f.HLSTimeAudio = l.envString("FFMPEG_HLS_TIME_AUDIO", f.HLSTimeAudio)
	f.HLSTimeVideo = l.envString("FFMPEG_HLS_TIME_VIDEO", f.HLSTimeVideo)
	f.HLSListSize = l.envInt("FFMPEG_HLS_LIST_SIZE", f.HLSListSize)
	f.LogDir = l.envString("FFMPEG_LOG_DIR", f.LogDir)

	cfg.HLS.Root = l.envString("HLS_ROOT", cfg.HLS.Root)
	cfg.HLS.PreroleDir = l.envString("HLS_PREROLE_DIR", cfg.HLS.PreroleDir)
	cfg.HLS.BaseURL = l.envString("HLS_BASE_URL", cfg.HLS.BaseURL)

	r := &cfg.Record
	r.Enabled = l.envBool("RECORD_ENABLED", r.Enabled)
	r.Root = l.envString("RECORD_ROOT", r.Root)
	r.Verbose = l.envString("RECORD_VERBOSE", r.Verbose)
	r.ArgsAudio = l.envString("RECORD_ARGS_AUDIO", r.ArgsAudio)
	r.ArgsVideo = l.envString("RECORD_ARGS_VIDEO", r.ArgsVideo)
	r.SplitSize = l.envString("RECORD_SPLIT_SIZE", r.SplitSize)

	cfg.Liveness.RedisAddr = l.envString("REDIS_ADDR", cfg.Liveness.RedisAddr)
	cfg.Liveness.RedisPassword = l.envString("REDIS_PASSWORD", cfg.Liveness.RedisPassword)
	cfg.Liveness.RedisDB = l.envInt("REDIS_DB", cfg.Liveness.RedisDB)
	cfg.Liveness.KeyPrefix = l.envString("REDIS_KEY_PREFIX", cfg.Liveness.KeyPrefix)

	cfg.Ledger.Path = l.envString("LEDGER_PATH", cfg.Ledger.Path)

	cfg.Telemetry.Enabled = l.envBool("TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ServiceName = l.envString("TELEMETRY_SERVICE_NAME", cfg.Telemetry.ServiceName)
	cfg.Telemetry.Environment = l.envString("TELEMETRY_ENVIRONMENT", cfg.Telemetry.Environment)
	cfg.Telemetry.Exporter = l.envString("TELEMETRY_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}
