package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semflow/model"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "nats", cfg.Store.Backend)
	assert.Equal(t, 10.0, cfg.Budget.DailyLimit)
	assert.Equal(t, 100.0, cfg.Budget.MonthlyLimit)
	assert.NotEmpty(t, cfg.Models.Catalog)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "unknown backend",
			mutate: func(c *Config) { c.Store.Backend = "postgres" },
			want:   "store.backend",
		},
		{
			name: "nats backend without url",
			mutate: func(c *Config) {
				c.Store.Backend = "nats"
				c.NATS.URL = ""
			},
			want: "nats.url",
		},
		{
			name: "redis backend without addr",
			mutate: func(c *Config) {
				c.Store.Backend = "redis"
				c.Redis.Addr = ""
			},
			want: "redis.addr",
		},
		{
			name:   "negative daily limit",
			mutate: func(c *Config) { c.Budget.DailyLimit = -1 },
			want:   "budget limits",
		},
		{
			name:   "warning threshold above 1",
			mutate: func(c *Config) { c.Budget.WarningThreshold = 1.5 },
			want:   "warning_threshold",
		},
		{
			name:   "empty catalog",
			mutate: func(c *Config) { c.Models.Catalog = nil },
			want:   "catalog",
		},
		{
			name: "duplicate model id",
			mutate: func(c *Config) {
				c.Models.Catalog = append(c.Models.Catalog, c.Models.Catalog[0])
			},
			want: "duplicate model id",
		},
		{
			name: "model without provider",
			mutate: func(c *Config) {
				c.Models.Catalog[0].Provider = ""
			},
			want: "provider is required",
		},
		{
			name: "presets not summing to 1",
			mutate: func(c *Config) {
				presets := model.DefaultWeightPresets()
				w := presets[model.PriorityBalanced]
				w.Cost += 0.5
				presets[model.PriorityBalanced] = w
				c.Models.Presets = presets
			},
			want: "presets",
		},
		{
			name:   "negative correction attempts",
			mutate: func(c *Config) { c.Quality.CorrectionAttempts = -1 },
			want:   "correction_attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMergePrecedence(t *testing.T) {
	base := DefaultConfig()
	base.Merge(&Config{
		Store: StoreConfig{Backend: "redis", CacheTTL: time.Minute},
		Redis: RedisConfig{Addr: "redis.internal:6379", DB: 2},
		Budget: BudgetConfig{
			DailyLimit: 25, WarningThreshold: 0.9, HardStop: true, AutoPause: true,
		},
		Events:  EventsConfig{SubjectPrefix: "prod.events"},
		Quality: QualityConfig{CorrectionAttempts: 5, ReviewEnabled: true},
	})

	assert.Equal(t, "redis", base.Store.Backend)
	assert.Equal(t, time.Minute, base.Store.CacheTTL)
	assert.Equal(t, "redis.internal:6379", base.Redis.Addr)
	assert.Equal(t, 2, base.Redis.DB)
	assert.Equal(t, 25.0, base.Budget.DailyLimit)
	assert.Equal(t, 100.0, base.Budget.MonthlyLimit, "unset fields keep defaults")
	assert.Equal(t, 0.9, base.Budget.WarningThreshold)
	assert.True(t, base.Budget.AutoPause)
	assert.Equal(t, "prod.events", base.Events.SubjectPrefix)
	assert.Equal(t, 5, base.Quality.CorrectionAttempts)
	assert.Equal(t, "nats://localhost:4222", base.NATS.URL, "unset sections keep defaults")
}

func TestMergeNilIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Merge(nil)
	require.NoError(t, cfg.Validate())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Backend = "memory"
	cfg.Budget.DailyLimit = 42
	cfg.Models.Catalog[0].Pricing.InputPer1K = 0.009

	path := filepath.Join(t.TempDir(), "nested", "semflow.yaml")
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", loaded.Store.Backend)
	assert.Equal(t, 42.0, loaded.Budget.DailyLimit)
	assert.Equal(t, 0.009, loaded.Models.Catalog[0].Pricing.InputPer1K)
	require.NoError(t, loaded.Validate())
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWeightPresetsFallback(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, model.DefaultWeightPresets(), cfg.WeightPresets())

	custom := model.DefaultWeightPresets()
	w := custom[model.PriorityCost]
	w.Cost, w.Quality = 0.45, 0.15
	custom[model.PriorityCost] = w
	cfg.Models.Presets = custom
	assert.Equal(t, custom, cfg.WeightPresets())
}
