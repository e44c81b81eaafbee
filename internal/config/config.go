// Package config loads coordinator and participant settings.
//
// Priority: defaults -> YAML file -> environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MansoorButt/kube-infra/internal/common"
)

// Config is shared by both binaries; each reads the sections it needs.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Round   RoundConfig   `yaml:"round"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
	Results ResultsConfig `yaml:"results"`
	Client  ClientConfig  `yaml:"client"`
	Model   ModelConfig   `yaml:"model"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// MaxPayloadSize bounds announced model sizes in bytes, 0 disables it.
	MaxPayloadSize int `yaml:"max_payload_size"`
}

type RoundConfig struct {
	CohortSize      int           `yaml:"cohort_size"`
	AcceptTimeout   time.Duration `yaml:"accept_timeout"`
	CompletionGrace time.Duration `yaml:"completion_grace"`
	// CohortTimeout and SubmissionTimeout of 0 mean wait forever.
	CohortTimeout     time.Duration `yaml:"cohort_timeout"`
	SubmissionTimeout time.Duration `yaml:"submission_timeout"`
	StatusInterval    time.Duration `yaml:"status_interval"`
}

type APIConfig struct {
	// Addr of the operator HTTP API, empty disables it.
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

type ResultsConfig struct {
	// Dir receives the collected models and a CSV summary, empty disables it.
	Dir string `yaml:"dir"`
}

type ClientConfig struct {
	DatasetPath      string        `yaml:"dataset_path"`
	SyntheticSamples int           `yaml:"synthetic_samples"`
	TrainTimeout     time.Duration `yaml:"train_timeout"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	DialAttempts     int           `yaml:"dial_attempts"`
	DialBackoff      time.Duration `yaml:"dial_backoff"`
}

type ModelConfig struct {
	Name     string `yaml:"name"`
	Features int    `yaml:"features"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           common.DEFAULT_SERVER_HOST,
			Port:           common.DEFAULT_SERVER_PORT,
			MaxPayloadSize: 64 << 20,
		},
		Round: RoundConfig{
			CohortSize:      common.COHORT_SIZE,
			AcceptTimeout:   common.ACCEPT_TIMEOUT,
			CompletionGrace: common.COMPLETION_GRACE,
			StatusInterval:  common.STATUS_INTERVAL,
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "logs",
		},
		Client: ClientConfig{
			SyntheticSamples: 150,
			DialTimeout:      5 * time.Second,
			DialAttempts:     10,
			DialBackoff:      2 * time.Second,
		},
		Model: ModelConfig{
			Name:     "linear",
			Features: 4,
		},
	}
}

// Load reads the optional YAML file at path over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("could not parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("SERVER_HOST"); ok {
		c.Server.Host = v
	}
	if v, ok := os.LookupEnv("SERVER_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := os.LookupEnv("FL_COHORT_SIZE"); ok {
		size, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FL_COHORT_SIZE %q: %w", v, err)
		}
		c.Round.CohortSize = size
	}
	if v, ok := os.LookupEnv("FL_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv("FL_LOG_DIR"); ok {
		c.Log.Dir = v
	}
	if v, ok := os.LookupEnv("FL_API_ADDR"); ok {
		c.API.Addr = v
	}
	if v, ok := os.LookupEnv("FL_RESULTS_DIR"); ok {
		c.Results.Dir = v
	}
	if v, ok := os.LookupEnv("FL_DATASET"); ok {
		c.Client.DatasetPath = v
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if c.Server.MaxPayloadSize < 0 {
		errs = append(errs, fmt.Errorf("max payload size must not be negative"))
	}
	if c.Round.CohortSize < 1 {
		errs = append(errs, fmt.Errorf("cohort size must be at least 1, got %d", c.Round.CohortSize))
	}
	if c.Round.AcceptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("accept timeout must be positive"))
	}
	if c.Round.CompletionGrace < 0 || c.Round.CohortTimeout < 0 || c.Round.SubmissionTimeout < 0 {
		errs = append(errs, fmt.Errorf("round timeouts must not be negative"))
	}
	if c.Model.Features < 1 {
		errs = append(errs, fmt.Errorf("model needs at least one feature"))
	}
	return errors.Join(errs...)
}

func (c *Config) ServerAddress() string {
	return common.GetServerAddress(c.Server.Host, c.Server.Port)
}
