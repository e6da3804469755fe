package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Logging   LoggingConfig   `toml:"logging"`   // Application logging settings
	Realtime  RealtimeConfig  `toml:"realtime"`  // Remote realtime translation endpoint settings
	Audio     AudioConfig     `toml:"audio"`     // Audio capture format settings
	Scheduler SchedulerConfig `toml:"scheduler"` // Audio submission policy settings
	Transport TransportConfig `toml:"transport"` // WebSocket channel settings
	Session   SessionConfig   `toml:"session"`   // Session lifecycle settings
	Storage   StorageConfig   `toml:"storage"`   // Transcription history persistence settings
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// RealtimeConfig contains settings for the remote realtime translation service
type RealtimeConfig struct {
	APIKey            string  `toml:"api_key"`             // API key for the realtime service (may also come from a credential source)
	BaseURL           string  `toml:"base_url"`            // Base URL of the service (e.g., for proxies). Defaults to https://api.openai.com
	WebSocketPath     string  `toml:"websocket_path"`      // Path portion of the realtime websocket URL (default /v1/realtime)
	Model             string  `toml:"model"`               // Realtime model to use (e.g., "gpt-4o-realtime-preview")
	Temperature       float64 `toml:"temperature"`         // Sampling temperature for responses (service minimum 0.6)
	MaxResponseTokens int     `toml:"max_response_tokens"` // Cap on response tokens (0 = service default)
	AudioOutput       bool    `toml:"audio_output"`        // Request spoken audio in addition to text
}

// AudioConfig contains audio capture format settings.
// The capture contract is fixed: mono, 16-bit little-endian PCM.
type AudioConfig struct {
	SampleRate  int    `toml:"sample_rate"`  // Target sample rate in Hz (default 24000)
	Channels    int    `toml:"channels"`     // Channel count (must be 1)
	FrameMs     int    `toml:"frame_ms"`     // Duration of one captured frame in milliseconds (default 100)
	FFmpegPath  string `toml:"ffmpeg_path"`  // Path to the ffmpeg binary used for capture (default "ffmpeg")
	InputDevice string `toml:"input_device"` // Platform input device identifier (e.g., "default" for ALSA)
	InputFormat string `toml:"input_format"` // ffmpeg input demuxer (e.g., "alsa", "avfoundation", "pulse")
	RestartSecs int    `toml:"restart_secs"` // Delay before restarting a failed capture process (default 2)
}

// SchedulerConfig contains settings for the audio submission policy engine
type SchedulerConfig struct {
	Policy              string  `toml:"policy"`                 // "semantic" (preferred) or "amplitude" (fallback)
	SilenceThreshold    float64 `toml:"silence_threshold"`      // Normalized amplitude above which a frame counts as speech
	PauseThresholdMs    int     `toml:"pause_threshold_ms"`     // Silence gap after speech that triggers a commit (amplitude policy)
	CheckIntervalMs     int     `toml:"check_interval_ms"`      // Periodic trigger evaluation interval (default 200)
	MaxBufferFrames     int     `toml:"max_buffer_frames"`      // Hard cap on accumulated frames before a forced commit
	MaxSubmissionSecs   int     `toml:"max_submission_secs"`    // Safety-net interval guaranteeing forward progress
	MinSpeechDurationMs int     `toml:"min_speech_duration_ms"` // Segments shorter than this are dropped as noise
	MinCommitFrames     int     `toml:"min_commit_frames"`      // Segments with fewer frames are dropped as noise
}

// TransportConfig contains WebSocket channel settings
type TransportConfig struct {
	HandshakeTimeoutSecs int `toml:"handshake_timeout_secs"` // WebSocket dial handshake timeout (default 45)
	KeepaliveSecs        int `toml:"keepalive_secs"`         // Keepalive probe interval (default 4)
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"` // Reconnect attempts before surfacing a terminal error (default 5)
}

// SessionConfig contains session lifecycle settings
type SessionConfig struct {
	Mode             string `toml:"mode"`               // "single" (one record per start/stop) or "continuous" (accumulate)
	Encoding         string `toml:"encoding"`           // "structured" (JSON payload) or "incremental" (text deltas)
	InputLanguage    string `toml:"input_language"`     // Source language code (empty = auto-detect)
	TargetLanguage   string `toml:"target_language"`    // Target language code (e.g., "ja")
	FinalizeTimeoutS int    `toml:"finalize_timeout_s"` // Safety-net timeout for the finalize protocol (default 10)
	PromptPath       string `toml:"prompt_path"`        // Optional path to a file overriding the session instructions
}

// StorageConfig contains transcription history persistence settings
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path"` // Path to the SQLite history database file
}

// Load loads configuration from the given TOML file
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadWithFallback loads configuration from the given path, or, if the path
// is empty, searches the default locations (configs/ then the working dir).
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}

	candidates := []string{
		filepath.Join("configs", "voxlate.toml"),
		"voxlate.toml",
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
	}

	// No config file found: run on defaults
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero values with sensible defaults
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Realtime.BaseURL == "" {
		c.Realtime.BaseURL = "https://api.openai.com"
	}
	if c.Realtime.WebSocketPath == "" {
		c.Realtime.WebSocketPath = "/v1/realtime"
	}
	if c.Realtime.Model == "" {
		c.Realtime.Model = "gpt-4o-realtime-preview"
	}
	if c.Realtime.Temperature == 0 {
		c.Realtime.Temperature = 0.8
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 24000
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.FrameMs == 0 {
		c.Audio.FrameMs = 100
	}
	if c.Audio.FFmpegPath == "" {
		c.Audio.FFmpegPath = "ffmpeg"
	}
	if c.Audio.RestartSecs == 0 {
		c.Audio.RestartSecs = 2
	}
	if c.Scheduler.Policy == "" {
		c.Scheduler.Policy = "semantic"
	}
	if c.Scheduler.SilenceThreshold == 0 {
		c.Scheduler.SilenceThreshold = 0.02
	}
	if c.Scheduler.PauseThresholdMs == 0 {
		c.Scheduler.PauseThresholdMs = 1500
	}
	if c.Scheduler.CheckIntervalMs == 0 {
		c.Scheduler.CheckIntervalMs = 200
	}
	if c.Scheduler.MaxBufferFrames == 0 {
		c.Scheduler.MaxBufferFrames = 300
	}
	if c.Scheduler.MaxSubmissionSecs == 0 {
		c.Scheduler.MaxSubmissionSecs = 30
	}
	if c.Scheduler.MinSpeechDurationMs == 0 {
		c.Scheduler.MinSpeechDurationMs = 500
	}
	if c.Scheduler.MinCommitFrames == 0 {
		c.Scheduler.MinCommitFrames = 5
	}
	if c.Transport.HandshakeTimeoutSecs == 0 {
		c.Transport.HandshakeTimeoutSecs = 45
	}
	if c.Transport.KeepaliveSecs == 0 {
		c.Transport.KeepaliveSecs = 4
	}
	if c.Transport.MaxReconnectAttempts == 0 {
		c.Transport.MaxReconnectAttempts = 5
	}
	if c.Session.Mode == "" {
		c.Session.Mode = "single"
	}
	if c.Session.Encoding == "" {
		c.Session.Encoding = "structured"
	}
	if c.Session.TargetLanguage == "" {
		c.Session.TargetLanguage = "en"
	}
	if c.Session.FinalizeTimeoutS == 0 {
		c.Session.FinalizeTimeoutS = 10
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join("data", "voxlate.db")
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}

	if c.Audio.Channels != 1 {
		return fmt.Errorf("audio capture contract is mono: channels must be 1, got %d", c.Audio.Channels)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("invalid audio sample rate: %d", c.Audio.SampleRate)
	}
	if c.Audio.FrameMs <= 0 {
		return fmt.Errorf("invalid audio frame duration: %dms", c.Audio.FrameMs)
	}

	switch c.Scheduler.Policy {
	case "semantic", "amplitude":
	default:
		return fmt.Errorf("invalid scheduler policy: %q (expected \"semantic\" or \"amplitude\")", c.Scheduler.Policy)
	}
	if c.Scheduler.SilenceThreshold < 0 || c.Scheduler.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be within [0,1], got %f", c.Scheduler.SilenceThreshold)
	}
	if c.Scheduler.MinSpeechDurationMs < 0 {
		return fmt.Errorf("min_speech_duration_ms must not be negative, got %d", c.Scheduler.MinSpeechDurationMs)
	}
	if c.Scheduler.MinCommitFrames < 0 {
		return fmt.Errorf("min_commit_frames must not be negative, got %d", c.Scheduler.MinCommitFrames)
	}
	if c.Scheduler.MaxBufferFrames <= 0 {
		return fmt.Errorf("max_buffer_frames must be positive, got %d", c.Scheduler.MaxBufferFrames)
	}

	switch c.Session.Mode {
	case "single", "continuous":
	default:
		return fmt.Errorf("invalid session mode: %q (expected \"single\" or \"continuous\")", c.Session.Mode)
	}
	if c.Session.TargetLanguage == "" {
		return fmt.Errorf("target_language is required")
	}
	switch c.Session.Encoding {
	case "structured", "incremental":
	default:
		return fmt.Errorf("invalid session encoding: %q (expected \"structured\" or \"incremental\")", c.Session.Encoding)
	}

	if c.Transport.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("max_reconnect_attempts must be positive, got %d", c.Transport.MaxReconnectAttempts)
	}

	return nil
}
