// Package config loads the YAML runtime configuration and resolves the
// deployment stage from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/khushal/pgstore/internal/storage"
)

// Stage identifies the deployment environment.
type Stage string

const (
	StageDev     Stage = "dev"
	StageStaging Stage = "staging"
	StageProd    Stage = "prod"
)

// stageEnvVar selects the stage at process start.
const stageEnvVar = "APP_ENV"

// CurrentStage reads the stage from the environment, defaulting to dev
// when unset or unrecognized.
func CurrentStage() Stage {
	raw := os.Getenv(stageEnvVar)
	switch Stage(raw) {
	case StageDev, StageStaging, StageProd:
		return Stage(raw)
	case "":
		return StageDev
	default:
		slog.Warn("unrecognized stage, falling back to dev", "env", stageEnvVar, "value", raw)
		return StageDev
	}
}

// Database describes a Postgres target. A nil Database selects the
// in-memory backends.
type Database struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	PasswordEnv  string `yaml:"password_env"`
	Name         string `yaml:"name"`
	Schema       string `yaml:"schema"`
	PoolSize     int    `yaml:"pool_size"`
	PoolOverflow int    `yaml:"pool_overflow"`
}

// Config is the root of the YAML configuration file.
type Config struct {
	Database *Database `yaml:"database"`
}

// Load parses the configuration at path. An empty path yields an empty
// configuration, which runs everything in memory.
func Load(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database == nil {
		return nil
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	return nil
}

// PoolConfig maps the database descriptor onto pool settings, resolving
// an indirect password from the named environment variable.
func (d *Database) PoolConfig() storage.PoolConfig {
	password := d.Password
	if password == "" && d.PasswordEnv != "" {
		password = os.Getenv(d.PasswordEnv)
	}
	return storage.PoolConfig{
		Host:         d.Host,
		Port:         d.Port,
		User:         d.User,
		Password:     password,
		Database:     d.Name,
		Schema:       d.Schema,
		PoolSize:     d.PoolSize,
		PoolOverflow: d.PoolOverflow,
	}
}
