package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents runtime configuration for the service.
type Config struct {
	Server    ServerConfig              `json:"server"`
	Databases map[string]DatabaseConfig `json:"databases"`
	Redis     RedisConfig               `json:"redis"`
	Upstream  UpstreamConfig            `json:"upstream"`
	RateLimit RateLimitConfig           `json:"rate_limit"`
	Logging   LoggingConfig             `json:"logging"`
}

type ServerConfig struct {
	Address    string `json:"address"`
	CORSOrigin string `json:"cors_origin"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// UpstreamConfig points at the text-generation service the relay
// streams from.
type UpstreamConfig struct {
	BaseURL        string `json:"base_url"`
	Path           string `json:"path"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout returns the upstream call deadline.
func (u UpstreamConfig) Timeout() time.Duration {
	if u.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// RateLimitConfig tunes admission control. Backend selects "memory"
// (default) or "redis" for multi-instance deployments.
type RateLimitConfig struct {
	WindowMS    int64  `json:"window_ms"`
	MaxRequests int    `json:"max_requests"`
	Backend     string `json:"backend"`
}

// Window returns the admission window duration.
func (r RateLimitConfig) Window() time.Duration {
	if r.WindowMS <= 0 {
		return time.Minute
	}
	return time.Duration(r.WindowMS) * time.Millisecond
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = "http://localhost:11434"
	}
	if cfg.Upstream.Path == "" {
		cfg.Upstream.Path = "/api/generate"
	}
	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	for name, db := range cfg.Databases {
		if db.DSN != "" && !filepath.IsAbs(db.DSN) &&
			db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	return &cfg, nil
}
