package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime settings. Sensitive values may be overridden
// through environment variables after the file is loaded.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Engine struct {
		SettlementRetries int `yaml:"settlement_retries"`
		SweepIntervalSec  int `yaml:"sweep_interval_sec"`
	} `yaml:"engine"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// Load reads and parses the configuration file, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a usable configuration without a config file, for
// local runs and the simulation.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	overrideWithEnv(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "venue.db"
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "venue-dev-secret"
	}
	if cfg.Engine.SettlementRetries <= 0 {
		cfg.Engine.SettlementRetries = 3
	}
	if cfg.Engine.SweepIntervalSec <= 0 {
		cfg.Engine.SweepIntervalSec = 60
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// SweepInterval returns the background sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Engine.SweepIntervalSec) * time.Second
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	return nil
}

func overrideWithEnv(cfg *Config) {
	if port := os.Getenv("VENUE_PORT"); port != "" {
		cfg.Server.Port = port
	}
	if path := os.Getenv("VENUE_DB_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if secret := os.Getenv("VENUE_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if level := os.Getenv("VENUE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
