// Package config provides configuration management for the collaboration
// service. Configuration is loaded from defaults, then an optional YAML file,
// then environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jessiecms/collab/internal/slogging"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Collab   CollabConfig   `yaml:"collab"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Interface    string        `yaml:"interface"`
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level            string `yaml:"level"`
	IsDev            bool   `yaml:"is_dev"`
	LogDir           string `yaml:"log_dir"`
	MaxAgeDays       int    `yaml:"max_age_days"`
	MaxSizeMB        int    `yaml:"max_size_mb"`
	MaxBackups       int    `yaml:"max_backups"`
	AlsoLogToConsole bool   `yaml:"also_log_to_console"`
}

// CollabConfig holds collaboration core settings
type CollabConfig struct {
	// TokenKeyHex is the hex-encoded 32-byte AES key for collaboration tokens
	TokenKeyHex string `yaml:"token_key"`
	// SessionCookieName is the cookie carrying the CMS session id
	SessionCookieName string `yaml:"session_cookie_name"`
	// CleanupInterval is how often the presence/lock sweep runs
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// PresenceWindow is how recent a persisted presence row must be to count
	PresenceWindow time.Duration `yaml:"presence_window"`
	// PresenceMaxAge is when persisted presence rows become eligible for deletion
	PresenceMaxAge time.Duration `yaml:"presence_max_age"`
	// LockDuration is the lifetime of a content lock
	LockDuration time.Duration `yaml:"lock_duration"`
}

// Load reads configuration from defaults, an optional YAML file, and
// environment overrides
func Load(configFile string) (*Config, error) {
	config := getDefaultConfig()

	if configFile != "" {
		if err := loadFromYAML(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Interface:    "0.0.0.0",
			Port:         "8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "jessie",
			Database: "jessie",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
			DB:   0,
		},
		Logging: LoggingConfig{
			Level:            "info",
			IsDev:            false,
			LogDir:           "logs",
			MaxAgeDays:       7,
			MaxSizeMB:        100,
			MaxBackups:       10,
			AlsoLogToConsole: true,
		},
		Collab: CollabConfig{
			SessionCookieName: "jessie_session",
			CleanupInterval:   5 * time.Minute,
			PresenceWindow:    2 * time.Minute,
			PresenceMaxAge:    time.Hour,
			LockDuration:      30 * time.Minute,
		},
	}
}

func loadFromYAML(config *Config, filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304 - config path is operator-supplied
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, config)
}

// overrideWithEnv applies COLLAB_* environment variables over the loaded config
func overrideWithEnv(config *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				*dst = parsed
			}
		}
	}
	setBool := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			if parsed, err := strconv.ParseBool(v); err == nil {
				*dst = parsed
			}
		}
	}
	setDuration := func(dst *time.Duration, key string) {
		if v := os.Getenv(key); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				*dst = parsed
			}
		}
	}

	setString(&config.Server.Interface, "COLLAB_SERVER_INTERFACE")
	setString(&config.Server.Port, "COLLAB_SERVER_PORT")

	setString(&config.Postgres.Host, "COLLAB_POSTGRES_HOST")
	setString(&config.Postgres.Port, "COLLAB_POSTGRES_PORT")
	setString(&config.Postgres.User, "COLLAB_POSTGRES_USER")
	setString(&config.Postgres.Password, "COLLAB_POSTGRES_PASSWORD")
	setString(&config.Postgres.Database, "COLLAB_POSTGRES_DATABASE")
	setString(&config.Postgres.SSLMode, "COLLAB_POSTGRES_SSLMODE")

	setString(&config.Redis.Host, "COLLAB_REDIS_HOST")
	setString(&config.Redis.Port, "COLLAB_REDIS_PORT")
	setString(&config.Redis.Password, "COLLAB_REDIS_PASSWORD")
	setInt(&config.Redis.DB, "COLLAB_REDIS_DB")

	setString(&config.Logging.Level, "COLLAB_LOG_LEVEL")
	setString(&config.Logging.LogDir, "COLLAB_LOG_DIR")
	setBool(&config.Logging.IsDev, "COLLAB_LOG_DEV")

	setString(&config.Collab.TokenKeyHex, "COLLAB_TOKEN_KEY")
	setString(&config.Collab.SessionCookieName, "COLLAB_SESSION_COOKIE")
	setDuration(&config.Collab.CleanupInterval, "COLLAB_CLEANUP_INTERVAL")
	setDuration(&config.Collab.LockDuration, "COLLAB_LOCK_DURATION")
}

// Validate checks that required configuration values are present and sane
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Collab.TokenKeyHex == "" {
		return fmt.Errorf("collab token key is required (collab.token_key or COLLAB_TOKEN_KEY)")
	}
	if len(c.Collab.TokenKeyHex) != 64 {
		return fmt.Errorf("collab token key must be 64 hex characters (32 bytes)")
	}
	if c.Collab.CleanupInterval <= 0 {
		return fmt.Errorf("collab cleanup interval must be positive")
	}
	return nil
}

// GetLogLevel converts the configured string level to a slogging.LogLevel
func (c *Config) GetLogLevel() slogging.LogLevel {
	return slogging.ParseLogLevel(c.Logging.Level)
}

// PostgresDSN builds the GORM/pgx connection string
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Postgres.Host, c.Postgres.Port, c.Postgres.User, c.Postgres.Password,
		c.Postgres.Database, c.Postgres.SSLMode)
}
