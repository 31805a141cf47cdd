// Package config loads server settings from an optional YAML file overlaid by
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/showdown/go/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"

	BusLocal = "local"
	BusNATS  = "nats"
)

type Config struct {
	LogLevel string           `yaml:"log_level"`
	Server   ServerConfig     `yaml:"server"`
	Store    string           `yaml:"store"`
	Bus      string           `yaml:"bus"`
	Database DatabaseConfig   `yaml:"database"`
	Redis    RedisConfig      `yaml:"redis"`
	NATS     NATSConfig       `yaml:"nats"`
	Auth     AuthConfig       `yaml:"auth"`
	Gateway  GatewayConfig    `yaml:"gateway"`
	Defaults TournamentConfig `yaml:"tournament_defaults"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	StreamName    string        `yaml:"stream_name"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	TickPrefix    string        `yaml:"tick_prefix"`
	ConsumerName  string        `yaml:"consumer_name"`
	MaxAge        time.Duration `yaml:"max_age"`
}

type AuthConfig struct {
	// JWTSecret enables token auth on the websocket and admin surfaces when set.
	JWTSecret string `yaml:"jwt_secret"`
}

type GatewayConfig struct {
	CommandRate  float64 `yaml:"command_rate"`
	CommandBurst int     `yaml:"command_burst"`
}

// TournamentConfig holds the settings applied to tournaments created without them.
type TournamentConfig struct {
	Settings   models.TournamentSettings `yaml:"settings"`
	StartDelay time.Duration             `yaml:"start_delay"`
}

// Default returns the settings used when neither file nor environment says otherwise.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreMemory,
		Bus:   BusLocal,
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "showdown",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "showdown",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			StreamName:    "SHOWDOWN_EVENTS",
			SubjectPrefix: "showdown.events",
			TickPrefix:    "showdown.ticks",
			ConsumerName:  "showdown-gateway",
			MaxAge:        time.Hour,
		},
		Gateway: GatewayConfig{
			CommandRate:  5,
			CommandBurst: 10,
		},
		Defaults: TournamentConfig{
			Settings:   models.DefaultTournamentSettings(),
			StartDelay: 10 * time.Second,
		},
	}
}

// Load reads the YAML file at path when it exists and then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Server.Port = getEnvAsInt("PORT", c.Server.Port)
	c.Store = getEnv("STORE_BACKEND", c.Store)
	c.Bus = getEnv("EVENT_BUS", c.Bus)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.ConsumerName = getEnv("NATS_CONSUMER", c.NATS.ConsumerName)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
}

// Validate rejects unknown backends and tournament defaults the orchestrator would refuse.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	switch c.Bus {
	case BusLocal, BusNATS:
	default:
		return fmt.Errorf("unknown event bus %q", c.Bus)
	}
	s := c.Defaults.Settings
	if s.MaxParticipantsPerRoom < 2 {
		return fmt.Errorf("tournament_defaults.settings.max_participants_per_room must be at least 2")
	}
	if s.PerformanceTimeSec <= 0 || s.VotingTimeSec <= 0 || s.PreparationTimeSec < 0 {
		return fmt.Errorf("tournament_defaults.settings timings must be positive")
	}
	if s.AdvancePerRoom < 0 {
		return fmt.Errorf("tournament_defaults.settings.advance_per_room must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
