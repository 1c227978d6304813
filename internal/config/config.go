// Package config loads the YAML configuration shared by the rlvr commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rlvr/internal/loop"
	"rlvr/internal/models"
	"rlvr/internal/reward"
	"rlvr/internal/training"
	"rlvr/internal/verify"
)

// Environment variables that override file values.
const (
	EnvDatabaseURL = "RLVR_DATABASE_URL"
	EnvOpenAIKey   = "OPENAI_API_KEY"
	EnvJWTSecret   = "RLVR_JWT_SECRET"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root of the configuration file.
type Config struct {
	Agent    AgentConfig     `yaml:"agent"`
	Trainer  training.Config `yaml:"trainer"`
	Loop     loop.Config     `yaml:"loop"`
	Database DatabaseConfig  `yaml:"database"`
	Server   ServerConfig    `yaml:"server"`
	LLM      LLMConfig       `yaml:"llm"`
	Log      LogConfig       `yaml:"log"`
}

// VerifierSpec names a verifier kind together with its configuration.
type VerifierSpec struct {
	Kind          string `yaml:"kind"`
	verify.Config `yaml:",inline"`
}

// AgentConfig describes the agent and the scoring units it is built from.
type AgentConfig struct {
	Name                  string         `yaml:"name"`
	LearningRate          float64        `yaml:"learning_rate"`
	MemorySize            int            `yaml:"memory_size"`
	ExplorationRate       float64        `yaml:"exploration_rate"`
	EnablePatternLearning bool           `yaml:"enable_pattern_learning"`
	StrictTimeouts        bool           `yaml:"strict_timeouts"`
	Verifiers             []VerifierSpec `yaml:"verifiers"`
	Rewards               []reward.Spec  `yaml:"rewards"`
	// Composite, when set, combines Rewards into a single composite reward.
	Composite *reward.CompositeConfig `yaml:"composite"`
}

type DatabaseConfig struct {
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	JWTSecret       string        `yaml:"jwt_secret"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LLMConfig selects the model used by llm_judge verifiers and the LLM solver.
// An empty Model disables both.
type LLMConfig struct {
	Model     string                           `yaml:"model"`
	APIKey    string                           `yaml:"api_key"`
	Providers map[string]*models.ModelProvider `yaml:"providers"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration that runs fully offline against a local
// sqlite database.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			Name:                  "rlvr-agent",
			LearningRate:          0.01,
			MemorySize:            1000,
			ExplorationRate:       0.1,
			EnablePatternLearning: true,
			Verifiers: []VerifierSpec{
				{Kind: "numeric_tolerance", Config: verify.Config{Weight: 1, EnableCache: true, Params: map[string]any{"tolerance": 1.0}}},
			},
			Rewards: []reward.Spec{
				{Kind: "linear", Config: reward.Config{Weight: 1, MinReward: -1, MaxReward: 1}},
			},
		},
		Trainer:  training.DefaultConfig(),
		Loop:     loop.DefaultConfig(),
		Database: DatabaseConfig{Dialect: "sqlite3", DSN: "rlvr.db"},
		Server:   ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load overlays the file at path on Default and applies environment
// overrides. An empty path loads defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if url := os.Getenv(EnvDatabaseURL); url != "" {
		c.Database.DSN = url
		if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
			c.Database.Dialect = "postgres"
		}
	}
	if key := os.Getenv(EnvOpenAIKey); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if secret := os.Getenv(EnvJWTSecret); secret != "" {
		c.Server.JWTSecret = secret
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Database.Dialect {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("%w: database dialect %q", ErrInvalid, c.Database.Dialect)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("%w: database dsn is empty", ErrInvalid)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log level %q", ErrInvalid, c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.Log.Format)
	}
	if r := c.Agent.ExplorationRate; r < 0 || r > 1 {
		return fmt.Errorf("%w: agent exploration_rate %v outside [0, 1]", ErrInvalid, r)
	}
	if c.Agent.MemorySize < 0 {
		return fmt.Errorf("%w: agent memory_size is negative", ErrInvalid)
	}
	if c.Agent.Composite != nil && len(c.Agent.Rewards) == 0 {
		return fmt.Errorf("%w: agent composite reward: %w", ErrInvalid, reward.ErrNoSubRewards)
	}
	for i, v := range c.Agent.Verifiers {
		if v.Kind == "" {
			return fmt.Errorf("%w: verifier %d has no kind", ErrInvalid, i)
		}
	}
	if c.Trainer.MaxEpisodes < 0 || c.Trainer.MaxStepsPerEpisode < 0 {
		return fmt.Errorf("%w: trainer limits must not be negative", ErrInvalid)
	}
	if c.Loop.MaxEpisodes < 0 || c.Loop.MaxStepsPerEpisode < 0 {
		return fmt.Errorf("%w: loop limits must not be negative", ErrInvalid)
	}
	if c.Loop.MinDifficulty > c.Loop.MaxDifficulty {
		return fmt.Errorf("%w: loop min_difficulty exceeds max_difficulty", ErrInvalid)
	}
	return nil
}
