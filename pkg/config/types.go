package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
	Realtime RealtimeConfig `yaml:"realtime"`
}

// ServerConfig holds http listener and storage settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds authentication and rate-limit settings.
type SecurityConfig struct {
	// SigningKeys are HMAC secrets accepted for user identity signatures
	// on both the HTTP and websocket surfaces.
	SigningKeys []string `yaml:"signing_keys"`
	// AllowUnauth lets unsigned identities through; test/dev only.
	AllowUnauth bool            `yaml:"allow_unauth"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig sets per-session, per-event-type ceilings per rolling
// minute. CleanupCron schedules the sweep of idle counters.
type RateLimitConfig struct {
	SendPerMin   int    `yaml:"send_per_min"`
	ReactPerMin  int    `yaml:"react_per_min"`
	EditPerMin   int    `yaml:"edit_per_min"`
	DeletePerMin int    `yaml:"delete_per_min"`
	CleanupCron  string `yaml:"cleanup_cron"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RealtimeConfig tunes the websocket surface.
type RealtimeConfig struct {
	// AuthTimeout bounds how long a fresh session may stay unauthenticated.
	AuthTimeout Duration `yaml:"auth_timeout"`
	// MaxFrameBytes caps inbound frame size.
	MaxFrameBytes SizeBytes `yaml:"max_frame_bytes"`
	// OutboundBuffer is the per-session outbound queue length; sessions
	// that fall this far behind are dropped instead of blocking the hub.
	OutboundBuffer int `yaml:"outbound_buffer"`
	// PingInterval drives transport health checks.
	PingInterval Duration `yaml:"ping_interval"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "64KB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from
// strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
