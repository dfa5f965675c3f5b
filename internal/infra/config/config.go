// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Log      LogConfig               `yaml:"log"`
	Session  SessionConfig           `yaml:"session"`
	Resolver ResolverConfig          `yaml:"resolver"`
	Sink     SinkConfig              `yaml:"sink"`
	Cache    CacheConfig             `yaml:"cache"`
	Spotify  SpotifyConfig           `yaml:"spotify"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Messages MessagesConfig          `yaml:"messages"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080" validate:"required"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// LogConfig represents logger configuration. Command-line flags win.
type LogConfig struct {
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	File  string `yaml:"file"`
}

// SessionConfig represents per-session playback configuration.
type SessionConfig struct {
	IdleTimeoutSec int     `yaml:"idle_timeout_sec" default:"300" validate:"gte=1"`
	DefaultVolume  float64 `yaml:"default_volume" default:"1.0" validate:"gte=0,lte=2"`
	PageSize       int     `yaml:"page_size" default:"10" validate:"gte=1,lte=50"`
}

// ResolverConfig represents resolution worker and provider configuration.
type ResolverConfig struct {
	Workers           int    `yaml:"workers" default:"4" validate:"gte=1,lte=16"`
	MaxAttempts       int    `yaml:"max_attempts" default:"3" validate:"gte=1,lte=10"`
	AttemptTimeoutSec int    `yaml:"attempt_timeout_sec" default:"60" validate:"gte=0"`
	SearchResults     int    `yaml:"search_results" default:"5" validate:"gte=1,lte=25"`
	PlaylistLimit     int    `yaml:"playlist_limit" default:"50" validate:"gte=1,lte=500"`
	Proxy             string `yaml:"proxy"`
	YtdlpPath         string `yaml:"ytdlp_path"`
}

// SinkConfig represents audio output configuration.
type SinkConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path" default:"ffmpeg"`
	SampleRate int    `yaml:"sample_rate" default:"48000" validate:"oneof=22050 44100 48000"`
	BufferMs   int    `yaml:"buffer_ms" default:"100" validate:"gte=10,lte=1000"`
}

// CacheConfig represents the resolution cache. An empty path disables it.
type CacheConfig struct {
	Path   string `yaml:"path"`
	TTLMin int    `yaml:"ttl_min" default:"60" validate:"gte=1"`
}

// SpotifyConfig represents Spotify API configuration. Spotify links are
// unsupported when the credentials are empty.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" validate:"required_with=ClientSecret"`
	ClientSecret string `yaml:"client_secret" validate:"required_with=ClientID"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing messages.
type MessagesConfig struct {
	DefaultError          string `yaml:"default_error" default:"request failed"`
	ResolutionFailed      string `yaml:"resolution_failed" default:"could not load track"`
	DuplicateTrack        string `yaml:"duplicate_track" default:"track is already queued"`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"track is too long or too short"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("YOUTUBE_PROXY"); v != "" {
		c.Resolver.Proxy = v
	}
	if v := os.Getenv("PLAYDECK_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "resolution_failed":
		return c.Messages.ResolutionFailed
	case "duplicate_track":
		return c.Messages.DuplicateTrack
	case "duration_limit_exceeded":
		return c.Messages.DurationLimitExceeded
	default:
		return c.Messages.DefaultError
	}
}

// MessageTable returns every configured message keyed by code.
func (c *Config) MessageTable() map[string]string {
	table := make(map[string]string)
	for _, code := range []string{"resolution_failed", "duplicate_track", "duration_limit_exceeded"} {
		if msg := c.GetMessage(code); msg != "" {
			table[code] = msg
		}
	}
	return table
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// SpotifyEnabled reports whether Spotify credentials are configured.
func (c *Config) SpotifyEnabled() bool {
	return c.Spotify.ClientID != "" && c.Spotify.ClientSecret != ""
}

// IdleTimeout returns the session idle timeout.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutSec) * time.Second
}

// AttemptTimeout returns the per-attempt resolution deadline, zero for none.
func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Resolver.AttemptTimeoutSec) * time.Second
}

// CacheTTL returns how long cached resolutions stay valid.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMin) * time.Minute
}

// Buffer returns the sink buffer length.
func (c *Config) Buffer() time.Duration {
	return time.Duration(c.Sink.BufferMs) * time.Millisecond
}
