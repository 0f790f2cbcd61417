// Package config provides configuration loading and validation for the API
// server and the ranking worker. Values come from environment variables
// merged over an optional YAML file; environment always wins.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the API server and the ranking worker.
type Config struct {
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	DatabaseURL string `koanf:"database_url"`

	// RedisURL backs the leaderboard cache. Optional; unset disables caching.
	RedisURL string `koanf:"redis_url"`

	JWTSecret string `koanf:"jwt_secret"`

	// Ranking recompute cycle settings.
	CalibrationPath      string `koanf:"calibration_path"`
	RecomputeIntervalSec int    `koanf:"recompute_interval_sec"`
	RecomputeTimeoutSec  int    `koanf:"recompute_timeout_sec"`

	LeaderboardCacheTTLSec int `koanf:"leaderboard_cache_ttl_sec"`

	// TrustWeightingEnabled applies contributor trust weights when
	// assembling leaderboards.
	TrustWeightingEnabled bool `koanf:"trust_weighting_enabled"`
}

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrInvalidPort        = errors.New("PORT must be a valid integer")
)

const (
	DefaultPort                   = 8080
	DefaultEnv                    = "development"
	DefaultRecomputeIntervalSec   = 300
	DefaultRecomputeTimeoutSec    = 120
	DefaultLeaderboardCacheTTLSec = 300
	DefaultTrustWeightingEnabled  = false
)

// source resolves one key across the precedence chain: the first set
// environment variable, then the file value, then the default.
type source struct {
	k *koanf.Koanf
}

func (s source) text(fileKey, def string, envKeys ...string) string {
	for _, key := range envKeys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	if v := s.k.String(fileKey); v != "" {
		return v
	}
	return def
}

func (s source) number(fileKey string, def int, envKeys ...string) (int, error) {
	for _, key := range envKeys {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	if v := s.k.Int(fileKey); v != 0 {
		return v, nil
	}
	return def, nil
}

func (s source) flag(fileKey string, def bool, envKeys ...string) bool {
	for _, key := range envKeys {
		switch strings.ToLower(os.Getenv(key)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	if s.k.Exists(fileKey) {
		return s.k.Bool(fileKey)
	}
	return def
}

// Load builds the configuration. The returned error slice collects every
// problem found in one pass so operators see all misconfiguration at once;
// it is empty when the config is usable. A config file that cannot be read
// fails immediately.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	src := source{k: k}
	var errs []error

	port, err := src.number("port", DefaultPort, "ARENA_PORT", "PORT")
	if err != nil {
		errs = append(errs, fmt.Errorf("%v: %w", err, ErrInvalidPort))
	}
	interval, err := src.number("recompute_interval_sec", DefaultRecomputeIntervalSec, "RECOMPUTE_INTERVAL_SEC")
	if err != nil {
		errs = append(errs, err)
	}
	timeout, err := src.number("recompute_timeout_sec", DefaultRecomputeTimeoutSec, "RECOMPUTE_TIMEOUT_SEC")
	if err != nil {
		errs = append(errs, err)
	}
	cacheTTL, err := src.number("leaderboard_cache_ttl_sec", DefaultLeaderboardCacheTTLSec, "LEADERBOARD_CACHE_TTL_SEC")
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Port:                   port,
		Env:                    src.text("env", DefaultEnv, "ARENA_ENV", "ENV", "GO_ENV"),
		DatabaseURL:            src.text("database_url", "", "DATABASE_URL"),
		RedisURL:               src.text("redis_url", "", "REDIS_URL"),
		JWTSecret:              src.text("jwt_secret", "", "JWT_SECRET"),
		CalibrationPath:        src.text("calibration_path", "", "CALIBRATION_PATH"),
		RecomputeIntervalSec:   interval,
		RecomputeTimeoutSec:    timeout,
		LeaderboardCacheTTLSec: cacheTTL,
		TrustWeightingEnabled:  src.flag("trust_weighting_enabled", DefaultTrustWeightingEnabled, "TRUST_WEIGHTING_ENABLED"),
	}

	return cfg, append(errs, cfg.Validate()...)
}

// Validate reports every missing required value.
func (c *Config) Validate() []error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	return errs
}

// LogSummary returns the configuration as loggable key/value pairs with
// every secret masked.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                      strconv.Itoa(c.Port),
		"env":                       c.Env,
		"database_url":              maskURL(c.DatabaseURL),
		"redis_url":                 maskURL(c.RedisURL),
		"jwt_secret":                maskSecret(c.JWTSecret),
		"calibration_path":          c.CalibrationPath,
		"recompute_interval_sec":    strconv.Itoa(c.RecomputeIntervalSec),
		"recompute_timeout_sec":     strconv.Itoa(c.RecomputeTimeoutSec),
		"leaderboard_cache_ttl_sec": strconv.Itoa(c.LeaderboardCacheTTLSec),
		"trust_weighting_enabled":   strconv.FormatBool(c.TrustWeightingEnabled),
	}
}

// maskSecret keeps the first 4 characters of long secrets as a recognition
// aid; anything under 8 characters is fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskURL hides the password component of a connection URL.
func maskURL(s string) string {
	if s == "" {
		return "<not set>"
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return maskSecret(s)
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}
