package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, applies environment overrides and defaults,
// and validates the result. An empty path yields a default config (env
// overrides still apply).
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHATSYNC_ADDR"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("CHATSYNC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("CHATSYNC_DB_PATH"); v != "" {
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHATSYNC_SIGNING_KEYS"); v != "" {
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.Security.SigningKeys = append(cfg.Security.SigningKeys, k)
			}
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.DBPath == "" {
		cfg.Server.DBPath = "./data"
	}
	rl := &cfg.Security.RateLimit
	if rl.SendPerMin <= 0 {
		rl.SendPerMin = 30
	}
	if rl.ReactPerMin <= 0 {
		rl.ReactPerMin = 60
	}
	if rl.EditPerMin <= 0 {
		rl.EditPerMin = 20
	}
	if rl.DeletePerMin <= 0 {
		rl.DeletePerMin = 20
	}
	if rl.CleanupCron == "" {
		rl.CleanupCron = "*/5 * * * *"
	}
	rt := &cfg.Realtime
	if rt.AuthTimeout.Duration() <= 0 {
		rt.AuthTimeout = Duration(5 * time.Second)
	}
	if rt.MaxFrameBytes <= 0 {
		rt.MaxFrameBytes = 64 * 1024
	}
	if rt.OutboundBuffer <= 0 {
		rt.OutboundBuffer = 64
	}
	if rt.PingInterval.Duration() <= 0 {
		rt.PingInterval = Duration(30 * time.Second)
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if (cfg.Server.TLS.CertFile == "") != (cfg.Server.TLS.KeyFile == "") {
		return fmt.Errorf("tls requires both cert_file and key_file")
	}
	if !gronx.New().IsValid(cfg.Security.RateLimit.CleanupCron) {
		return fmt.Errorf("invalid rate_limit cleanup_cron: %q", cfg.Security.RateLimit.CleanupCron)
	}
	if len(cfg.Security.SigningKeys) == 0 && !cfg.Security.AllowUnauth {
		return fmt.Errorf("no signing keys configured; set security.signing_keys or allow_unauth")
	}
	return nil
}
