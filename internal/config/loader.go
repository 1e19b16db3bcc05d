package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/cohortwatch/internal/db"
)

// Config is the full process configuration.
type Config struct {
	Database db.Config
	Crawl    CrawlConfig
	Server   ServerConfig
	Log      LogConfig
}

// CrawlConfig tunes the ingestion orchestrator and the document source.
type CrawlConfig struct {
	BaseURL           string
	Concurrency       int
	FetchTimeout      time.Duration
	RequestsPerSecond float64
	UserAgent         string
	MaxBodyBytes      int64
	Limit             int
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int
	AllowedOrigins []string
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string
	Development bool
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() Config {
	return Config{
		Database: db.DefaultConfig(),
		Crawl: CrawlConfig{
			BaseURL:      "https://www.ycombinator.com",
			Concurrency:  8,
			FetchTimeout: 30 * time.Second,
			UserAgent:    "cohortwatch/1.0",
			MaxBodyBytes: 5 << 20,
			Limit:        100,
		},
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config.yaml from configPath when present and applies
// COHORTWATCH_* environment overrides, e.g. COHORTWATCH_DATABASE_HOST.
// It reports whether a config file was found.
func Load(configPath string) (Config, bool, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("COHORTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"database.host", "database.port", "database.user", "database.password",
		"database.dbname", "database.sslmode", "database.max_conns", "database.min_conns",
		"database.max_conn_lifetime", "database.max_conn_idle_time",
		"crawl.base_url", "crawl.concurrency", "crawl.fetch_timeout", "crawl.requests_per_second",
		"crawl.user_agent", "crawl.max_body_bytes", "crawl.limit",
		"server.port", "server.allowed_origins",
		"log.level", "log.development",
	} {
		if err := v.BindEnv(key); err != nil {
			return cfg, false, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, false, fmt.Errorf("failed to read config: %w", err)
		}
		found = false
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("database.max_conns") {
		cfg.Database.MaxConns = v.GetInt32("database.max_conns")
	}
	if v.IsSet("database.min_conns") {
		cfg.Database.MinConns = v.GetInt32("database.min_conns")
	}
	if v.IsSet("database.max_conn_lifetime") {
		cfg.Database.MaxConnLifetime = v.GetDuration("database.max_conn_lifetime")
	}
	if v.IsSet("database.max_conn_idle_time") {
		cfg.Database.MaxConnIdleTime = v.GetDuration("database.max_conn_idle_time")
	}

	if v.IsSet("crawl.base_url") {
		cfg.Crawl.BaseURL = v.GetString("crawl.base_url")
	}
	if v.IsSet("crawl.concurrency") {
		cfg.Crawl.Concurrency = v.GetInt("crawl.concurrency")
	}
	if v.IsSet("crawl.fetch_timeout") {
		cfg.Crawl.FetchTimeout = v.GetDuration("crawl.fetch_timeout")
	}
	if v.IsSet("crawl.requests_per_second") {
		cfg.Crawl.RequestsPerSecond = v.GetFloat64("crawl.requests_per_second")
	}
	if v.IsSet("crawl.user_agent") {
		cfg.Crawl.UserAgent = v.GetString("crawl.user_agent")
	}
	if v.IsSet("crawl.max_body_bytes") {
		cfg.Crawl.MaxBodyBytes = v.GetInt64("crawl.max_body_bytes")
	}
	if v.IsSet("crawl.limit") {
		cfg.Crawl.Limit = v.GetInt("crawl.limit")
	}

	if v.IsSet("server.port") {
		cfg.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.development") {
		cfg.Log.Development = v.GetBool("log.development")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, found, err
	}
	return cfg, found, nil
}

// Validate rejects values the crawler or server cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Crawl.Concurrency < 1:
		return fmt.Errorf("crawl.concurrency must be at least 1, got %d", c.Crawl.Concurrency)
	case c.Crawl.FetchTimeout <= 0:
		return fmt.Errorf("crawl.fetch_timeout must be positive, got %s", c.Crawl.FetchTimeout)
	case c.Crawl.RequestsPerSecond < 0:
		return fmt.Errorf("crawl.requests_per_second must not be negative, got %g", c.Crawl.RequestsPerSecond)
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
