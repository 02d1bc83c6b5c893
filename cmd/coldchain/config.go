package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration, loaded from yaml with env overrides for
// deployment-specific values.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Engine struct {
		TickIntervalSeconds int `yaml:"tick_interval_seconds"`
		SnapshotEveryTicks  int `yaml:"snapshot_every_ticks"`
	} `yaml:"engine"`

	Reconcile struct {
		RecentCompletionTTLSeconds int `yaml:"recent_completion_ttl_seconds"`
	} `yaml:"reconcile"`

	Refresh struct {
		WindowSeconds int `yaml:"window_seconds"`
	} `yaml:"refresh"`

	Audit struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		Stream        string `yaml:"stream"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"audit"`

	Inventory struct {
		Source   string `yaml:"source"` // "postgres" or "static"
		Entities []struct {
			ID   string `yaml:"id"`
			Name string `yaml:"name"`
		} `yaml:"entities"`
	} `yaml:"inventory"`
}

// DatabaseConfig holds postgres connection settings, env-driven.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
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

func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		config.Audit.URL = url
	}
	return config, nil
}

func defaultConfig() *Config {
	c := &Config{}
	c.Server.Port = "8080"
	c.Engine.TickIntervalSeconds = 1
	c.Engine.SnapshotEveryTicks = 10
	c.Reconcile.RecentCompletionTTLSeconds = 5
	c.Refresh.WindowSeconds = 2
	c.Inventory.Source = "static"
	return c
}

func (c *Config) tickInterval() time.Duration {
	return time.Duration(c.Engine.TickIntervalSeconds) * time.Second
}

func (c *Config) refreshWindow() time.Duration {
	return time.Duration(c.Refresh.WindowSeconds) * time.Second
}
