// Package config loads the service configuration from TOML or YAML.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Config is the complete service configuration
type Config struct {
	Logging       LoggingConfig       `toml:"logging" yaml:"logging"`
	Source        SourceConfig        `toml:"source" yaml:"source"`
	Capture       CaptureConfig       `toml:"capture" yaml:"capture"`
	Supervisor    SupervisorConfig    `toml:"supervisor" yaml:"supervisor"`
	Session       SessionConfig       `toml:"session" yaml:"session"`
	Transcription TranscriptionConfig `toml:"transcription" yaml:"transcription"`
	Storage       StorageConfig       `toml:"storage" yaml:"storage"`
	Server        ServerConfig        `toml:"server" yaml:"server"`
	Metrics       MetricsConfig       `toml:"metrics" yaml:"metrics"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// SourceConfig names what to caption and how to turn it into a stream URL
type SourceConfig struct {
	Ref string `toml:"ref" yaml:"ref"`
	// Resolver is one of auto, ytdlp, direct
	Resolver  string   `toml:"resolver" yaml:"resolver"`
	YTDLPPath string   `toml:"ytdlp_path" yaml:"ytdlp_path"`
	YTDLPArgs []string `toml:"ytdlp_args" yaml:"ytdlp_args"`

	SkipProbe           bool   `toml:"skip_probe" yaml:"skip_probe"`
	ProbeTimeoutSeconds int    `toml:"probe_timeout_seconds" yaml:"probe_timeout_seconds"`
	ProbeRetries        int    `toml:"probe_retries" yaml:"probe_retries"`
	ProbeRetryDelayMs   int    `toml:"probe_retry_delay_ms" yaml:"probe_retry_delay_ms"`
	UserAgent           string `toml:"user_agent" yaml:"user_agent"`
}

// CaptureConfig contains the ffmpeg capture settings
type CaptureConfig struct {
	FFmpegPath               string `toml:"ffmpeg_path" yaml:"ffmpeg_path"`
	SampleRate               int    `toml:"sample_rate" yaml:"sample_rate"`
	Channels                 int    `toml:"channels" yaml:"channels"`
	SegmentSeconds           int    `toml:"segment_seconds" yaml:"segment_seconds"`
	ReconnectDelayMaxSeconds int    `toml:"reconnect_delay_max_seconds" yaml:"reconnect_delay_max_seconds"`
	IOTimeoutSeconds         int    `toml:"io_timeout_seconds" yaml:"io_timeout_seconds"`
	LogLevel                 string `toml:"log_level" yaml:"log_level"`
}

// SupervisorConfig tunes attempt supervision and segment detection
type SupervisorConfig struct {
	PollIntervalMs         int `toml:"poll_interval_ms" yaml:"poll_interval_ms"`
	DebounceMs             int `toml:"debounce_ms" yaml:"debounce_ms"`
	InactivityLimitSeconds int `toml:"inactivity_limit_seconds" yaml:"inactivity_limit_seconds"`
	ExitGraceMs            int `toml:"exit_grace_ms" yaml:"exit_grace_ms"`
	TerminateGraceMs       int `toml:"terminate_grace_ms" yaml:"terminate_grace_ms"`
	Window                 int `toml:"window" yaml:"window"`
	Lookback               int `toml:"lookback" yaml:"lookback"`
	HistorySize            int `toml:"history_size" yaml:"history_size"`

	// Extra patterns on top of the built-in diagnostic patterns
	IgnorePatterns  []string `toml:"ignore_patterns" yaml:"ignore_patterns"`
	TriggerPatterns []string `toml:"trigger_patterns" yaml:"trigger_patterns"`
}

// SessionConfig is the restart policy
type SessionConfig struct {
	RestartBudget  int    `toml:"restart_budget" yaml:"restart_budget"`
	RestartDelayMs int    `toml:"restart_delay_ms" yaml:"restart_delay_ms"`
	WorkDir        string `toml:"work_dir" yaml:"work_dir"`
}

// TranscriptionConfig selects and tunes the transcription engine
type TranscriptionConfig struct {
	Engine         string `toml:"engine" yaml:"engine"`
	Model          string `toml:"model" yaml:"model"`
	Language       string `toml:"language" yaml:"language"`
	Prompt         string `toml:"prompt" yaml:"prompt"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds"`

	WhisperPath   string `toml:"whisper_path" yaml:"whisper_path"`
	ServerURL     string `toml:"server_url" yaml:"server_url"`
	OpenAIAPIKey  string `toml:"openai_api_key" yaml:"openai_api_key"`
	OpenAIBaseURL string `toml:"openai_base_url" yaml:"openai_base_url"`

	// Similarity enables near-duplicate suppression when in (0, 1]
	Similarity          float64 `toml:"similarity" yaml:"similarity"`
	DrainTimeoutSeconds int     `toml:"drain_timeout_seconds" yaml:"drain_timeout_seconds"`
}

// StorageConfig contains caption persistence settings
type StorageConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// ServerConfig contains the HTTP API settings
type ServerConfig struct {
	Enabled            bool     `toml:"enabled" yaml:"enabled"`
	Addr               string   `toml:"addr" yaml:"addr"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins" yaml:"cors_allowed_origins"`
	ShutdownSeconds    int      `toml:"shutdown_seconds" yaml:"shutdown_seconds"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled     bool   `toml:"enabled" yaml:"enabled"`
	ServiceName string `toml:"service_name" yaml:"service_name"`
}

// Default values
const (
	DefaultSampleRate             = 16000
	DefaultChannels               = 1
	DefaultSegmentSeconds         = 15
	DefaultPollIntervalMs         = 1000
	DefaultDebounceMs             = 500
	DefaultInactivityLimitSeconds = 60
	DefaultRestartBudget          = 5
	DefaultRestartDelayMs         = 2000
	DefaultWindow                 = 15
	DefaultLookback               = 2
	DefaultExitGraceMs            = 2000
	DefaultTerminateGraceMs       = 2000
	DefaultDrainTimeoutSeconds    = 30
	DefaultHistorySize            = 50
	DefaultServerAddr             = "127.0.0.1:8080"
	DefaultStoragePath            = "data/captions.db"
	DefaultServiceName            = "livecaptions"
)

var (
	validLevels    = []string{"debug", "info", "warn", "error"}
	validFormats   = []string{"console", "json"}
	validResolvers = []string{"auto", "ytdlp", "direct"}
	validEngines   = []string{"whisper-cli", "whisper-server", "openai"}
)

// Default returns a configuration with every default applied
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Source: SourceConfig{
			Resolver:            "auto",
			YTDLPPath:           "yt-dlp",
			ProbeTimeoutSeconds: 10,
			ProbeRetries:        3,
			ProbeRetryDelayMs:   1000,
		},
		Capture: CaptureConfig{
			FFmpegPath:               "ffmpeg",
			SampleRate:               DefaultSampleRate,
			Channels:                 DefaultChannels,
			SegmentSeconds:           DefaultSegmentSeconds,
			ReconnectDelayMaxSeconds: 5,
			IOTimeoutSeconds:         10,
			LogLevel:                 "warning",
		},
		Supervisor: SupervisorConfig{
			PollIntervalMs:         DefaultPollIntervalMs,
			DebounceMs:             DefaultDebounceMs,
			InactivityLimitSeconds: DefaultInactivityLimitSeconds,
			ExitGraceMs:            DefaultExitGraceMs,
			TerminateGraceMs:       DefaultTerminateGraceMs,
			Window:                 DefaultWindow,
			Lookback:               DefaultLookback,
			HistorySize:            DefaultHistorySize,
		},
		Session: SessionConfig{
			RestartBudget:  DefaultRestartBudget,
			RestartDelayMs: DefaultRestartDelayMs,
		},
		Transcription: TranscriptionConfig{
			Engine:              "whisper-cli",
			Language:            "en",
			DrainTimeoutSeconds: DefaultDrainTimeoutSeconds,
		},
		Storage: StorageConfig{Path: DefaultStoragePath},
		Server:  ServerConfig{Addr: DefaultServerAddr, ShutdownSeconds: 5},
		Metrics: MetricsConfig{ServiceName: DefaultServiceName},
	}
}

// Validate fills zero values with defaults and rejects out-of-range values.
// All failures are reported together.
func (c *Config) Validate() error {
	var errs []error

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "console")
	if !slices.Contains(validLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: %v", c.Logging.Level, validLevels))
	}
	if !slices.Contains(validFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format %q is invalid; valid values: %v", c.Logging.Format, validFormats))
	}

	setDefault(&c.Source.Resolver, "auto")
	setDefault(&c.Source.YTDLPPath, "yt-dlp")
	if !slices.Contains(validResolvers, c.Source.Resolver) {
		errs = append(errs, fmt.Errorf("source.resolver %q is invalid; valid values: %v", c.Source.Resolver, validResolvers))
	}
	if c.Source.ProbeRetries < 0 {
		errs = append(errs, fmt.Errorf("source.probe_retries must be >= 0, got %d", c.Source.ProbeRetries))
	}

	setDefault(&c.Capture.FFmpegPath, "ffmpeg")
	setDefault(&c.Capture.LogLevel, "warning")
	setDefaultInt(&c.Capture.SampleRate, DefaultSampleRate)
	setDefaultInt(&c.Capture.Channels, DefaultChannels)
	setDefaultInt(&c.Capture.SegmentSeconds, DefaultSegmentSeconds)
	if c.Capture.SampleRate < 0 || c.Capture.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d is out of range [1, 192000]", c.Capture.SampleRate))
	}
	if c.Capture.Channels < 0 || c.Capture.Channels > 8 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range [1, 8]", c.Capture.Channels))
	}
	if c.Capture.SegmentSeconds < 0 {
		errs = append(errs, fmt.Errorf("capture.segment_seconds must be > 0, got %d", c.Capture.SegmentSeconds))
	}

	s := &c.Supervisor
	setDefaultInt(&s.PollIntervalMs, DefaultPollIntervalMs)
	setDefaultInt(&s.DebounceMs, DefaultDebounceMs)
	setDefaultInt(&s.InactivityLimitSeconds, DefaultInactivityLimitSeconds)
	setDefaultInt(&s.ExitGraceMs, DefaultExitGraceMs)
	setDefaultInt(&s.TerminateGraceMs, DefaultTerminateGraceMs)
	setDefaultInt(&s.Window, DefaultWindow)
	setDefaultInt(&s.Lookback, DefaultLookback)
	setDefaultInt(&s.HistorySize, DefaultHistorySize)
	for name, v := range map[string]int{
		"supervisor.poll_interval_ms":         s.PollIntervalMs,
		"supervisor.debounce_ms":              s.DebounceMs,
		"supervisor.inactivity_limit_seconds": s.InactivityLimitSeconds,
		"supervisor.exit_grace_ms":            s.ExitGraceMs,
		"supervisor.terminate_grace_ms":       s.TerminateGraceMs,
		"supervisor.window":                   s.Window,
		"supervisor.lookback":                 s.Lookback,
		"supervisor.history_size":             s.HistorySize,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %d", name, v))
		}
	}
	if s.InactivityLimitSeconds > 0 && s.PollIntervalMs > 0 &&
		time.Duration(s.PollIntervalMs)*time.Millisecond >= time.Duration(s.InactivityLimitSeconds)*time.Second {
		errs = append(errs, fmt.Errorf("supervisor.poll_interval_ms %d must be shorter than the inactivity limit", s.PollIntervalMs))
	}
	// A segment only lands once it is complete, so a healthy stream must
	// produce one well inside the inactivity limit
	if s.InactivityLimitSeconds > 0 && c.Capture.SegmentSeconds >= s.InactivityLimitSeconds {
		errs = append(errs, fmt.Errorf("capture.segment_seconds %d must be shorter than supervisor.inactivity_limit_seconds %d",
			c.Capture.SegmentSeconds, s.InactivityLimitSeconds))
	}

	if c.Session.RestartBudget < 0 {
		errs = append(errs, fmt.Errorf("session.restart_budget must be >= 0, got %d", c.Session.RestartBudget))
	}
	if c.Session.RestartDelayMs < 0 {
		errs = append(errs, fmt.Errorf("session.restart_delay_ms must be >= 0, got %d", c.Session.RestartDelayMs))
	}

	t := &c.Transcription
	setDefault(&t.Engine, "whisper-cli")
	setDefaultInt(&t.DrainTimeoutSeconds, DefaultDrainTimeoutSeconds)
	if !slices.Contains(validEngines, t.Engine) {
		errs = append(errs, fmt.Errorf("transcription.engine %q is invalid; valid values: %v", t.Engine, validEngines))
	}
	if t.Engine == "whisper-server" && t.ServerURL == "" {
		errs = append(errs, errors.New("transcription.server_url is required when engine is whisper-server"))
	}
	if t.Engine == "openai" && t.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("transcription.openai_api_key (or OPENAI_API_KEY) is required when engine is openai"))
	}
	if t.Similarity < 0 || t.Similarity > 1 {
		errs = append(errs, fmt.Errorf("transcription.similarity %.2f is out of range [0, 1]", t.Similarity))
	}
	if t.TimeoutSeconds < 0 || t.DrainTimeoutSeconds < 0 {
		errs = append(errs, errors.New("transcription timeouts must be >= 0"))
	}

	setDefault(&c.Storage.Path, DefaultStoragePath)
	setDefault(&c.Server.Addr, DefaultServerAddr)
	setDefault(&c.Metrics.ServiceName, DefaultServiceName)
	if c.Metrics.Enabled && !c.Server.Enabled {
		errs = append(errs, errors.New("metrics.enabled requires server.enabled to expose /metrics"))
	}

	return errors.Join(errs...)
}

// SegmentDuration returns the capture segment length
func (c CaptureConfig) SegmentDuration() time.Duration {
	return time.Duration(c.SegmentSeconds) * time.Second
}

// ReconnectDelayMax returns the longest reconnect backoff
func (c CaptureConfig) ReconnectDelayMax() time.Duration {
	return time.Duration(c.ReconnectDelayMaxSeconds) * time.Second
}

// IOTimeout returns the stream read timeout
func (c CaptureConfig) IOTimeout() time.Duration {
	return time.Duration(c.IOTimeoutSeconds) * time.Second
}

// PollInterval returns the supervision tick
func (c SupervisorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Debounce returns the segment readiness debounce
func (c SupervisorConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// InactivityLimit returns how long an attempt may go without a segment
func (c SupervisorConfig) InactivityLimit() time.Duration {
	return time.Duration(c.InactivityLimitSeconds) * time.Second
}

// ExitGrace returns how long trailing segments may finish after exit
func (c SupervisorConfig) ExitGrace() time.Duration {
	return time.Duration(c.ExitGraceMs) * time.Millisecond
}

// TerminateGrace returns how long a signalled process may take to exit
func (c SupervisorConfig) TerminateGrace() time.Duration {
	return time.Duration(c.TerminateGraceMs) * time.Millisecond
}

// RestartDelay returns the pause before a restart
func (c SessionConfig) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelayMs) * time.Millisecond
}

// DrainTimeout returns how long the worker may drain at shutdown
func (c TranscriptionConfig) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

// ProbeTimeout returns the direct probe request timeout
func (c SourceConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// ProbeRetryDelay returns the first probe retry delay
func (c SourceConfig) ProbeRetryDelay() time.Duration {
	return time.Duration(c.ProbeRetryDelayMs) * time.Millisecond
}

// ShutdownTimeout returns how long the HTTP server may take to stop
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownSeconds) * time.Second
}

func setDefault(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setDefaultInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
