// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration with precedence ENV > YAML file > defaults.
package config

import "time"

// MinSessionDuration is the shortest session lifetime accepted.
const MinSessionDuration = 10 * time.Minute

// AppConfig is the complete runtime configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	LogLevel   string `yaml:"log_level"`
	LogService string `yaml:"log_service"`

	Server     ServerConfig     `yaml:"server"`
	Ports      PortsConfig      `yaml:"ports"`
	Session    SessionConfig    `yaml:"session"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Runner     RunnerConfig     `yaml:"runner"`
	Worker     WorkerConfig     `yaml:"worker"`
	FFmpeg     FFmpegConfig     `yaml:"ffmpeg"`
	HLS        HLSConfig        `yaml:"hls"`
	Record     RecordConfig     `yaml:"record"`
	Liveness   LivenessConfig   `yaml:"liveness"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds the control API settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// PublicIP is handed to publishers in spawn responses.
	PublicIP  string `yaml:"public_ip"`
	RateLimit int    `yaml:"rate_limit"` // requests per minute per client, 0 disables
}

// PortsConfig seeds the publish port pool.
type PortsConfig struct {
	Min           int  `yaml:"min"`
	Max           int  `yaml:"max"`
	Probe         bool `yaml:"probe"`
	ProbeMaxTries int  `yaml:"probe_max_tries"`
}

type SessionConfig struct {
	Duration           time.Duration `yaml:"duration"`
	ExistReplyDelay    time.Duration `yaml:"exist_reply_delay"`
	RespawnMinInterval time.Duration `yaml:"respawn_min_interval"`
	UsePublishState    bool          `yaml:"use_publish_state"`
}

// SupervisorConfig holds the spawn, monitor and terminate timings of one session.
type SupervisorConfig struct {
	SpawnSettle            time.Duration `yaml:"spawn_settle"`
	SpawnMaxWait           time.Duration `yaml:"spawn_max_wait"`
	PollInterval           time.Duration `yaml:"poll_interval"`
	MonitorPollTimeout     time.Duration `yaml:"monitor_poll_timeout"`
	TerminatePollTimeout   time.Duration `yaml:"terminate_poll_timeout"`
	RollbackPollTimeout    time.Duration `yaml:"rollback_poll_timeout"`
	TerminateRetries       int           `yaml:"terminate_retries"`
	TerminateRetryInterval time.Duration `yaml:"terminate_retry_interval"`
}

type RunnerConfig struct {
	BeginPollInterval time.Duration `yaml:"begin_poll_interval"`
	EndPollInterval   time.Duration `yaml:"end_poll_interval"`
	// EndGraceWindow defaults to 10000s. The surrounding timings suggest a much
	// shorter window was intended; operators should set it explicitly.
	EndGraceWindow time.Duration `yaml:"end_grace_window"`
}

type WorkerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

type FFmpegConfig struct {
	Bin          string `yaml:"bin"`
	Verbose      string `yaml:"verbose"`
	Overwrite    bool   `yaml:"overwrite"`
	VCodec       string `yaml:"vcodec"`
	ACodec       string `yaml:"acodec"`
	HLSInitTime  string `yaml:"hls_init_time"`
	HLSTimeAudio string `yaml:"hls_time_audio"`
	HLSTimeVideo string `yaml:"hls_time_video"`
	HLSListSize  int    `yaml:"hls_list_size"`
	LogDir       string `yaml:"log_dir"`
}

type HLSConfig struct {
	Root       string `yaml:"root"`
	PreroleDir string `yaml:"prerole_dir"`
	BaseURL    string `yaml:"base_url"`
}

type RecordConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Root      string `yaml:"root"`
	Verbose   string `yaml:"verbose"`
	ArgsAudio string `yaml:"args_audio"`
	ArgsVideo string `yaml:"args_video"`
	SplitSize string `yaml:"split_size"`
}

// LivenessConfig points at the Redis instance tracking publish state. An empty
// address selects the no-op client.
type LivenessConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

type LedgerConfig struct {
	Path string `yaml:"path"`
}

type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	// ServiceName overrides log_service as the reported service.name.
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel:   "info",
		LogService: "rtmp2hls",
		Server: ServerConfig{
			ListenAddr: ":8088",
			PublicIP:   "127.0.0.1",
			RateLimit:  120,
		},
		Ports: PortsConfig{
			Min:           30000,
			Max:           30010,
			Probe:         true,
			ProbeMaxTries: 100,
		},
		Session: SessionConfig{
			Duration:        4*time.Hour + 10*time.Minute,
			ExistReplyDelay: time.Second,
		},
		Supervisor: SupervisorConfig{
			SpawnSettle:            100 * time.Millisecond,
			SpawnMaxWait:           10 * time.Second,
			PollInterval:           10 * time.Millisecond,
			MonitorPollTimeout:     50 * time.Millisecond,
			TerminatePollTimeout:   2 * time.Second,
			RollbackPollTimeout:    50 * time.Second,
			TerminateRetries:       10,
			TerminateRetryInterval: 10 * time.Millisecond,
		},
		Runner: RunnerConfig{
			BeginPollInterval: 100 * time.Millisecond,
			EndPollInterval:   time.Second,
			EndGraceWindow:    10000 * time.Second,
		},
		Worker: WorkerConfig{
			TickInterval: 100 * time.Millisecond,
		},
		FFmpeg: FFmpegConfig{
			Bin:          "ffmpeg",
			Verbose:      "quiet",
			Overwrite:    true,
			VCodec:       "copy",
			ACodec:       "copy",
			HLSTimeAudio: "1",
			HLSTimeVideo: "5",
			HLSListSize:  10,
			LogDir:       "/var/log/rtmp2hls",
		},
		HLS: HLSConfig{
			Root: "/var/lib/rtmp2hls/hls",
		},
		Record: RecordConfig{
			Root:    "/var/lib/rtmp2hls/record",
			Verbose: "quiet",
		},
		Liveness: LivenessConfig{
			KeyPrefix: "rtmp2hls:",
		},
		Telemetry: TelemetryConfig{
			Environment:  "production",
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
