// Package config provides configuration management for Lumi.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	User    UserConfig    `mapstructure:"user" yaml:"user"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Turn    TurnConfig    `mapstructure:"turn" yaml:"turn"`
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	STT     STTConfig     `mapstructure:"stt" yaml:"stt"`
	TTS     TTSConfig     `mapstructure:"tts" yaml:"tts"`
	Reply   ReplyConfig   `mapstructure:"reply" yaml:"reply"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Summary SummaryConfig `mapstructure:"summary" yaml:"summary"`
	Events  EventsConfig  `mapstructure:"events" yaml:"events"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// UserConfig identifies the journaling user for CLI runs.
type UserConfig struct {
	ID string `mapstructure:"id" yaml:"id"`
}

// SessionConfig bounds a conversation session.
type SessionConfig struct {
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	MaxDuration  time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	CleanupDelay time.Duration `mapstructure:"cleanup_delay" yaml:"cleanup_delay"`
	HistorySize  int           `mapstructure:"history_size" yaml:"history_size"`
}

// TurnConfig configures turn-taking.
type TurnConfig struct {
	Strict          bool          `mapstructure:"strict" yaml:"strict"`
	HistorySize     int           `mapstructure:"history_size" yaml:"history_size"`
	AlwaysListening bool          `mapstructure:"always_listening" yaml:"always_listening"`
	RestartDelay    time.Duration `mapstructure:"restart_delay" yaml:"restart_delay"`
	Timeouts        StateTimeouts `mapstructure:"timeouts" yaml:"timeouts"`
}

// StateTimeouts holds per-state timeouts. Zero leaves a state unbounded.
// idle and speaking are always unbounded.
type StateTimeouts struct {
	Listening      time.Duration `mapstructure:"listening" yaml:"listening"`
	Processing     time.Duration `mapstructure:"processing" yaml:"processing"`
	WaitingForUser time.Duration `mapstructure:"waiting_for_user" yaml:"waiting_for_user"`
	WaitingForAI   time.Duration `mapstructure:"waiting_for_ai" yaml:"waiting_for_ai"`
}

// AudioConfig configures capture and voice-activity detection.
type AudioConfig struct {
	SampleRate      int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	FrameSize       int           `mapstructure:"frame_size" yaml:"frame_size"`
	VADThreshold    float64       `mapstructure:"vad_threshold" yaml:"vad_threshold"`
	SilenceDuration time.Duration `mapstructure:"silence_duration" yaml:"silence_duration"`
}

// STTConfig configures the transcription service.
type STTConfig struct {
	URL         string        `mapstructure:"url" yaml:"url"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Language    string        `mapstructure:"language" yaml:"language"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// TTSConfig configures the speech-synthesis service.
type TTSConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	APIKey  string        `mapstructure:"api_key" yaml:"-"`
	VoiceID string        `mapstructure:"voice_id" yaml:"voice_id"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ReplyConfig configures the reply-generation service.
type ReplyConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	APIKey  string        `mapstructure:"api_key" yaml:"-"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// StoreConfig configures conversation persistence.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// SummaryConfig configures the periodic summarizer.
type SummaryConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Schedule  string `mapstructure:"schedule" yaml:"schedule"`
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"`
}

// EventsConfig configures the optional Redis event mirror.
type EventsConfig struct {
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"-"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	RedisStream   string `mapstructure:"redis_stream" yaml:"redis_stream"`
	HistorySize   int    `mapstructure:"history_size" yaml:"history_size"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Console bool   `mapstructure:"console" yaml:"console"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8787",
			ShutdownTimeout: 10 * time.Second,
		},
		User: UserConfig{ID: "local"},
		Session: SessionConfig{
			IdleTimeout:  5 * time.Minute,
			MaxDuration:  30 * time.Minute,
			CleanupDelay: 5 * time.Second,
			HistorySize:  20,
		},
		Turn: TurnConfig{
			Strict:          true,
			HistorySize:     100,
			AlwaysListening: true,
			RestartDelay:    time.Second,
			Timeouts: StateTimeouts{
				Listening:      30 * time.Second,
				Processing:     20 * time.Second,
				WaitingForUser: 2 * time.Minute,
				WaitingForAI:   15 * time.Second,
			},
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			FrameSize:       1600,
			VADThreshold:    0.01,
			SilenceDuration: 1500 * time.Millisecond,
		},
		STT: STTConfig{
			URL:         "http://localhost:8788/transcribe",
			Language:    "en-US",
			Timeout:     30 * time.Second,
			MaxAttempts: 2,
			RetryDelay:  500 * time.Millisecond,
		},
		TTS: TTSConfig{
			URL:     "http://localhost:8788/synthesize",
			VoiceID: "lumi-warm",
			Timeout: 30 * time.Second,
		},
		Reply: ReplyConfig{
			URL:     "http://localhost:8788/reply",
			Timeout: 60 * time.Second,
		},
		Store: StoreConfig{
			DataDir: filepath.Join(home, ".lumi"),
		},
		Summary: SummaryConfig{
			Enabled:   true,
			Schedule:  "@every 15m",
			BatchSize: 10,
		},
		Events: EventsConfig{
			RedisStream: "lumi:events",
			HistorySize: 200,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	var errs []error
	if c.Session.IdleTimeout <= 0 {
		errs = append(errs, errors.New("session.idle_timeout must be positive"))
	}
	if c.Session.MaxDuration <= 0 {
		errs = append(errs, errors.New("session.max_duration must be positive"))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, errors.New("audio.sample_rate must be positive"))
	}
	if c.Audio.FrameSize <= 0 {
		errs = append(errs, errors.New("audio.frame_size must be positive"))
	}
	if c.Audio.VADThreshold <= 0 || c.Audio.VADThreshold >= 1 {
		errs = append(errs, fmt.Errorf("audio.vad_threshold must be in (0,1), got %v", c.Audio.VADThreshold))
	}
	if c.Audio.SilenceDuration <= 0 {
		errs = append(errs, errors.New("audio.silence_duration must be positive"))
	}
	if c.STT.MaxAttempts < 1 {
		errs = append(errs, errors.New("stt.max_attempts must be at least 1"))
	}
	if c.STT.URL == "" || c.TTS.URL == "" || c.Reply.URL == "" {
		errs = append(errs, errors.New("stt.url, tts.url and reply.url are required"))
	}
	return errors.Join(errs...)
}

// Loader reads configuration through a private viper instance.
type Loader struct {
	v        *viper.Viper
	explicit bool
}

// NewLoader creates a loader. An empty path searches ~/.lumi and the
// working directory for config.yaml.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".lumi"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LUMI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, explicit: path != ""}
}

// Load reads the file if present, applies env overrides and validates.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	setDefaults(l.v, cfg)

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || (!l.explicit && os.IsNotExist(err))
		if !missing {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Watch reloads the file on change and passes each valid result to fn.
// Invalid edits are reported through onErr and otherwise ignored.
func (l *Loader) Watch(fn func(*Config), onErr func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg := DefaultConfig()
		if err := l.v.Unmarshal(cfg); err != nil {
			onErr(fmt.Errorf("decode %s: %w", e.Name, err))
			return
		}
		if err := cfg.Validate(); err != nil {
			onErr(fmt.Errorf("invalid %s: %w", e.Name, err))
			return
		}
		fn(cfg)
	})
	l.v.WatchConfig()
}

// File returns the config file in use, or "" when running on defaults.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// setDefaults registers every key so env overrides apply even without a file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("user.id", cfg.User.ID)
	v.SetDefault("session.idle_timeout", cfg.Session.IdleTimeout)
	v.SetDefault("session.max_duration", cfg.Session.MaxDuration)
	v.SetDefault("session.cleanup_delay", cfg.Session.CleanupDelay)
	v.SetDefault("session.history_size", cfg.Session.HistorySize)
	v.SetDefault("turn.strict", cfg.Turn.Strict)
	v.SetDefault("turn.history_size", cfg.Turn.HistorySize)
	v.SetDefault("turn.always_listening", cfg.Turn.AlwaysListening)
	v.SetDefault("turn.restart_delay", cfg.Turn.RestartDelay)
	v.SetDefault("turn.timeouts.listening", cfg.Turn.Timeouts.Listening)
	v.SetDefault("turn.timeouts.processing", cfg.Turn.Timeouts.Processing)
	v.SetDefault("turn.timeouts.waiting_for_user", cfg.Turn.Timeouts.WaitingForUser)
	v.SetDefault("turn.timeouts.waiting_for_ai", cfg.Turn.Timeouts.WaitingForAI)
	v.SetDefault("audio.sample_rate", cfg.Audio.SampleRate)
	v.SetDefault("audio.frame_size", cfg.Audio.FrameSize)
	v.SetDefault("audio.vad_threshold", cfg.Audio.VADThreshold)
	v.SetDefault("audio.silence_duration", cfg.Audio.SilenceDuration)
	v.SetDefault("stt.url", cfg.STT.URL)
	v.SetDefault("stt.api_key", "")
	v.SetDefault("stt.language", cfg.STT.Language)
	v.SetDefault("stt.timeout", cfg.STT.Timeout)
	v.SetDefault("stt.max_attempts", cfg.STT.MaxAttempts)
	v.SetDefault("stt.retry_delay", cfg.STT.RetryDelay)
	v.SetDefault("tts.url", cfg.TTS.URL)
	v.SetDefault("tts.api_key", "")
	v.SetDefault("tts.voice_id", cfg.TTS.VoiceID)
	v.SetDefault("tts.timeout", cfg.TTS.Timeout)
	v.SetDefault("reply.url", cfg.Reply.URL)
	v.SetDefault("reply.api_key", "")
	v.SetDefault("reply.timeout", cfg.Reply.Timeout)
	v.SetDefault("store.data_dir", cfg.Store.DataDir)
	v.SetDefault("summary.enabled", cfg.Summary.Enabled)
	v.SetDefault("summary.schedule", cfg.Summary.Schedule)
	v.SetDefault("summary.batch_size", cfg.Summary.BatchSize)
	v.SetDefault("events.redis_addr", "")
	v.SetDefault("events.redis_password", "")
	v.SetDefault("events.redis_db", 0)
	v.SetDefault("events.redis_stream", cfg.Events.RedisStream)
	v.SetDefault("events.history_size", cfg.Events.HistorySize)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.dir", cfg.Logging.Dir)
	v.SetDefault("logging.console", cfg.Logging.Console)
}

// YAML renders the configuration without secrets.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}
