// Package config provides configuration loading and management for Semflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semflow/model"
)

// Config represents the complete Semflow configuration
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	NATS    NATSConfig    `yaml:"nats"`
	Redis   RedisConfig   `yaml:"redis"`
	Budget  BudgetConfig  `yaml:"budget"`
	Models  ModelsConfig  `yaml:"models"`
	Quality QualityConfig `yaml:"quality"`
	Events  EventsConfig  `yaml:"events"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	// Backend is one of "nats", "redis", "memory"
	Backend string `yaml:"backend"`
	// CacheTTL enables the workflow read cache when positive
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// RetainCompleted is how long finished workflows are kept before cleanup
	RetainCompleted time.Duration `yaml:"retain_completed"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `yaml:"url"`
	// Name is the client connection name
	Name string `yaml:"name"`
}

// RedisConfig configures the Redis connection
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// BudgetConfig sets the default usage limits applied to new users
type BudgetConfig struct {
	DailyLimit       float64 `yaml:"daily_limit"`
	MonthlyLimit     float64 `yaml:"monthly_limit"`
	WarningThreshold float64 `yaml:"warning_threshold"`
	HardStop         bool    `yaml:"hard_stop"`
	AutoPause        bool    `yaml:"auto_pause"`
}

// ModelsConfig holds the model catalog and selector weight presets.
// Both are versioned configuration: pricing changes ship as config updates,
// not code changes.
type ModelsConfig struct {
	// Catalog is the full list of invokable models
	Catalog []model.Info `yaml:"catalog"`
	// Presets overrides the built-in selector weight presets when non-empty
	Presets map[model.Priority]model.Weights `yaml:"presets"`
}

// QualityConfig configures the output quality gate
type QualityConfig struct {
	// CorrectionAttempts caps the auto-correction loop (0 disables it)
	CorrectionAttempts int `yaml:"correction_attempts"`
	// ReviewEnabled turns on human review escalation
	ReviewEnabled bool `yaml:"review_enabled"`
}

// EventsConfig configures execution event publishing
type EventsConfig struct {
	// SubjectPrefix is the NATS subject prefix for event frames
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig configures the Prometheus scrape endpoint
type MetricsConfig struct {
	// Addr is the listen address (empty = metrics disabled)
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:         "nats",
			CacheTTL:        5 * time.Minute,
			RetainCompleted: 7 * 24 * time.Hour,
		},
		NATS: NATSConfig{
			URL:  "nats://localhost:4222",
			Name: "semflow",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Budget: BudgetConfig{
			DailyLimit:       10.0,
			MonthlyLimit:     100.0,
			WarningThreshold: 0.8,
			HardStop:         true,
		},
		Models: ModelsConfig{
			Catalog: defaultCatalog(),
		},
		Quality: QualityConfig{
			CorrectionAttempts: 3,
			ReviewEnabled:      true,
		},
		Events: EventsConfig{
			SubjectPrefix: "semflow.events",
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
	}
}

// defaultCatalog returns the built-in model catalog. Deployments override
// pricing and endpoints in their own config.
func defaultCatalog() []model.Info {
	return []model.Info{
		{
			ID:       "claude-sonnet",
			Provider: "anthropic",
			Model:    "claude-sonnet-4",
			Capabilities: model.Capabilities{
				Text: true, Vision: true, Code: true,
				FunctionCalling: true, LargeContext: true,
			},
			Pricing:         model.Pricing{InputPer1K: 0.003, OutputPer1K: 0.015},
			ContextWindow:   200000,
			MaxOutputTokens: 8192,
			Metrics:         model.DefaultMetrics(),
		},
		{
			ID:       "gpt-4o-mini",
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Capabilities: model.Capabilities{
				Text: true, Vision: true,
				FunctionCalling: true, JSONMode: true, LargeContext: true,
			},
			Pricing:         model.Pricing{InputPer1K: 0.00015, OutputPer1K: 0.0006},
			ContextWindow:   128000,
			MaxOutputTokens: 16384,
			Metrics:         model.DefaultMetrics(),
		},
		{
			ID:       "llama3",
			Provider: "ollama",
			Model:    "llama3:8b",
			Endpoint: "http://localhost:11434",
			Capabilities: model.Capabilities{
				Text: true,
			},
			Pricing:         model.Pricing{},
			ContextWindow:   8192,
			MaxOutputTokens: 4096,
			Metrics:         model.DefaultMetrics(),
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "nats", "redis", "memory":
	default:
		return fmt.Errorf("store.backend must be nats, redis, or memory, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "nats" && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required for the nats backend")
	}
	if c.Store.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for the redis backend")
	}
	if c.Budget.DailyLimit < 0 || c.Budget.MonthlyLimit < 0 {
		return fmt.Errorf("budget limits must not be negative")
	}
	if c.Budget.WarningThreshold <= 0 || c.Budget.WarningThreshold > 1 {
		return fmt.Errorf("budget.warning_threshold must be in (0, 1]")
	}
	if len(c.Models.Catalog) == 0 {
		return fmt.Errorf("models.catalog must not be empty")
	}
	seen := make(map[string]bool, len(c.Models.Catalog))
	for _, m := range c.Models.Catalog {
		if m.ID == "" {
			return fmt.Errorf("models.catalog entries require an id")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id %q in catalog", m.ID)
		}
		seen[m.ID] = true
		if m.Provider == "" {
			return fmt.Errorf("model %s: provider is required", m.ID)
		}
		if m.Pricing.InputPer1K < 0 || m.Pricing.OutputPer1K < 0 {
			return fmt.Errorf("model %s: pricing must not be negative", m.ID)
		}
	}
	if len(c.Models.Presets) > 0 {
		if err := model.ValidatePresets(c.Models.Presets); err != nil {
			return fmt.Errorf("models.presets: %w", err)
		}
	}
	if c.Quality.CorrectionAttempts < 0 {
		return fmt.Errorf("quality.correction_attempts must not be negative")
	}
	return nil
}

// WeightPresets returns the configured presets, falling back to the built-ins.
func (c *Config) WeightPresets() map[model.Priority]model.Weights {
	if len(c.Models.Presets) > 0 {
		return c.Models.Presets
	}
	return model.DefaultWeightPresets()
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}
	if other.Store.CacheTTL != 0 {
		c.Store.CacheTTL = other.Store.CacheTTL
	}
	if other.Store.RetainCompleted != 0 {
		c.Store.RetainCompleted = other.Store.RetainCompleted
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Name != "" {
		c.NATS.Name = other.NATS.Name
	}

	if other.Redis.Addr != "" {
		c.Redis.Addr = other.Redis.Addr
	}
	if other.Redis.Password != "" {
		c.Redis.Password = other.Redis.Password
	}
	if other.Redis.DB != 0 {
		c.Redis.DB = other.Redis.DB
	}
	if other.Redis.PoolSize != 0 {
		c.Redis.PoolSize = other.Redis.PoolSize
	}

	if other.Budget.DailyLimit != 0 {
		c.Budget.DailyLimit = other.Budget.DailyLimit
	}
	if other.Budget.MonthlyLimit != 0 {
		c.Budget.MonthlyLimit = other.Budget.MonthlyLimit
	}
	if other.Budget.WarningThreshold != 0 {
		c.Budget.WarningThreshold = other.Budget.WarningThreshold
	}
	c.Budget.HardStop = other.Budget.HardStop
	c.Budget.AutoPause = other.Budget.AutoPause

	if len(other.Models.Catalog) > 0 {
		c.Models.Catalog = other.Models.Catalog
	}
	if len(other.Models.Presets) > 0 {
		c.Models.Presets = other.Models.Presets
	}

	if other.Quality.CorrectionAttempts != 0 {
		c.Quality.CorrectionAttempts = other.Quality.CorrectionAttempts
	}
	c.Quality.ReviewEnabled = other.Quality.ReviewEnabled

	if other.Events.SubjectPrefix != "" {
		c.Events.SubjectPrefix = other.Events.SubjectPrefix
	}
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}
