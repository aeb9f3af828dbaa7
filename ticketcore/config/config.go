// Package config provides service configuration loaded from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Routing  RoutingConfig  `yaml:"routing"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Weaviate WeaviateConfig `yaml:"weaviate"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Badger   BadgerConfig   `yaml:"badger"`
	Tracing  TracingConfig  `yaml:"tracing"`
	LogLevel string         `yaml:"log_level"`
}

// ServerConfig configures the HTTP ingress.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RoutingConfig configures the routing loop and thresholds.
type RoutingConfig struct {
	// MaxTransitions bounds routing hops per run.
	MaxTransitions int `yaml:"max_transitions"`

	// HighUrgencyMin and DefaultMin gate the retrieval branch.
	HighUrgencyMin float64 `yaml:"high_urgency_min"`
	DefaultMin     float64 `yaml:"default_min"`

	// RetryMaxAttempts is how many times a failed collaborator call is
	// retried before the run fails.
	RetryMaxAttempts int `yaml:"retry_max_attempts"`

	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// OpenAIConfig configures the reasoning engine.
type OpenAIConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// WeaviateConfig configures the knowledge base. An empty host disables
// semantic search and the retriever reports zero coverage.
type WeaviateConfig struct {
	Host      string `yaml:"host"`
	Scheme    string `yaml:"scheme"`
	ClassName string `yaml:"class_name"`
}

// PostgresConfig configures the customer directory. An empty conn
// string disables account context in the resolver.
type PostgresConfig struct {
	ConnString string `yaml:"conn_string"`
}

// KafkaConfig configures the lifecycle event relay. No brokers means
// events stay in-process.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// BadgerConfig configures the durable store.
type BadgerConfig struct {
	Path       string        `yaml:"path"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Routing: RoutingConfig{
			MaxTransitions:   5,
			HighUrgencyMin:   0.75,
			DefaultMin:       0.60,
			RetryMaxAttempts: 2,
			RetryBackoff:     200 * time.Millisecond,
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Weaviate: WeaviateConfig{
			Scheme:    "http",
			ClassName: "SupportArticle",
		},
		Kafka: KafkaConfig{
			Topic: "udahub-ticket-events",
		},
		Badger: BadgerConfig{
			Path:       "./data/sessions",
			GCInterval: 5 * time.Minute,
		},
		Tracing: TracingConfig{
			Endpoint: "localhost:4317",
		},
		LogLevel: "info",
	}
}

// Load reads configuration from the given YAML file, falling back to
// defaults when the file is absent, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// Override from environment
	if v := os.Getenv("SUPPORTCORE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := os.Getenv("WEAVIATE_HOST"); v != "" {
		cfg.Weaviate.Host = v
	}
	if v := os.Getenv("POSTGRES_CONN_STRING"); v != "" {
		cfg.Postgres.ConnString = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("BADGER_PATH"); v != "" {
		cfg.Badger.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Routing.MaxTransitions < 1 {
		return fmt.Errorf("routing.max_transitions must be at least 1, got %d", c.Routing.MaxTransitions)
	}
	if c.Routing.HighUrgencyMin < 0 || c.Routing.HighUrgencyMin > 1 {
		return fmt.Errorf("routing.high_urgency_min must be in [0,1], got %v", c.Routing.HighUrgencyMin)
	}
	if c.Routing.DefaultMin < 0 || c.Routing.DefaultMin > 1 {
		return fmt.Errorf("routing.default_min must be in [0,1], got %v", c.Routing.DefaultMin)
	}
	if c.Routing.DefaultMin > c.Routing.HighUrgencyMin {
		return fmt.Errorf("routing.default_min (%v) must not exceed routing.high_urgency_min (%v)",
			c.Routing.DefaultMin, c.Routing.HighUrgencyMin)
	}
	if c.Routing.RetryMaxAttempts < 0 {
		return fmt.Errorf("routing.retry_max_attempts must not be negative, got %d", c.Routing.RetryMaxAttempts)
	}
	if c.Badger.Path == "" {
		return fmt.Errorf("badger.path is required")
	}
	return nil
}
