package model

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Store is the persistence port for model metadata rows. Implementations live
// in the store package; StaticStore below serves config-seeded deployments.
type Store interface {
	// ListModels returns every known model record.
	ListModels(ctx context.Context) ([]*Info, error)

	// GetModel returns a single model record.
	GetModel(ctx context.Context, id string) (*Info, error)

	// UpdateModelMetrics overwrites the metrics bundle for a model in place.
	UpdateModelMetrics(ctx context.Context, id string, m Metrics) error
}

// cacheValidity is how long a registry snapshot is served before the next
// access re-reads the store.
const cacheValidity = 5 * time.Minute

// emaRate is the exponential-moving-average update rate for online metrics.
const emaRate = 0.1

// LatencyBaseline is the latency that scores 0.5 when normalizing the speed
// metric. Faster responses score higher.
const LatencyBaseline = 2 * time.Second

// Registry caches model metadata from a Store and applies online metric
// updates. The cache is refreshed lazily on first stale access and invalidated
// whenever metrics change, so the next selection re-reads fresh data.
type Registry struct {
	store Store

	mu        sync.RWMutex
	cache     map[string]*Info
	refreshed time.Time
	validity  time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCacheValidity overrides the cache validity window.
func WithCacheValidity(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.validity = d
	}
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:    store,
		validity: cacheValidity,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// List returns a snapshot of every known model, refreshing the cache if stale.
func (r *Registry) List(ctx context.Context) ([]*Info, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Info, 0, len(r.cache))
	for _, info := range r.cache {
		out = append(out, info.Clone())
	}
	return out, nil
}

// Get returns a snapshot of a single model, refreshing the cache if stale.
func (r *Registry) Get(ctx context.Context, id string) (*Info, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.cache[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	return info.Clone(), nil
}

// Invalidate drops the cached snapshot so the next access re-reads the store.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshed = time.Time{}
}

// ensureFresh re-reads the store when the snapshot is older than the validity
// window.
func (r *Registry) ensureFresh(ctx context.Context) error {
	r.mu.RLock()
	fresh := !r.refreshed.IsZero() && time.Since(r.refreshed) < r.validity
	r.mu.RUnlock()
	if fresh {
		return nil
	}

	models, err := r.store.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("refresh model cache: %w", err)
	}

	cache := make(map[string]*Info, len(models))
	for _, m := range models {
		cache[m.ID] = m.Clone()
	}

	r.mu.Lock()
	r.cache = cache
	r.refreshed = time.Now()
	r.mu.Unlock()
	return nil
}

// UpdateMetrics applies an exponential-moving-average update after a real
// invocation. Success pulls reliability toward 1, failure toward 0. Speed is
// normalized against LatencyBaseline. The performance score only moves when a
// quality score was supplied. All scores stay clamped to [0,1].
func (r *Registry) UpdateMetrics(ctx context.Context, id string, latency time.Duration, success bool, qualityScore *float64) error {
	info, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	m := info.Metrics

	target := 0.0
	if success {
		target = 1.0
	}
	m.Reliability = clamp01(ema(m.Reliability, target))
	m.SuccessRate = m.Reliability

	m.Speed = clamp01(ema(m.Speed, latencyScore(latency)))
	if m.AvgLatency == 0 {
		m.AvgLatency = latency
	} else {
		m.AvgLatency = time.Duration(ema(float64(m.AvgLatency), float64(latency)))
	}

	if qualityScore != nil {
		m.Performance = clamp01(ema(m.Performance, clamp01(*qualityScore)))
	}

	if err := r.store.UpdateModelMetrics(ctx, id, m); err != nil {
		return fmt.Errorf("persist metrics for %s: %w", id, err)
	}

	r.Invalidate()
	return nil
}

// ema moves current toward target at the configured rate.
func ema(current, target float64) float64 {
	return current + emaRate*(target-current)
}

// latencyScore maps an observed latency onto [0,1]. The baseline scores 0.5,
// instant responses score 1, and latencies far past the baseline approach 0.
func latencyScore(latency time.Duration) float64 {
	if latency <= 0 {
		return 1
	}
	return clamp01(float64(LatencyBaseline) / float64(LatencyBaseline+latency))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// StaticStore is an in-memory Store seeded from configuration. Metric updates
// are kept in memory; deployments that need durable metrics use the KV or
// Redis stores instead.
type StaticStore struct {
	mu     sync.RWMutex
	models map[string]*Info
}

// NewStaticStore builds a store from a model catalog.
func NewStaticStore(models []*Info) *StaticStore {
	s := &StaticStore{}
	s.Replace(models)
	return s
}

// ListModels implements Store.
func (s *StaticStore) ListModels(_ context.Context) ([]*Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Info, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m.Clone())
	}
	return out, nil
}

// GetModel implements Store.
func (s *StaticStore) GetModel(_ context.Context, id string) (*Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	return m.Clone(), nil
}

// UpdateModelMetrics implements Store.
func (s *StaticStore) UpdateModelMetrics(_ context.Context, id string, metrics Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	m.Metrics = metrics
	return nil
}

// Replace swaps the full catalog. Used by config hot-reload.
func (s *StaticStore) Replace(models []*Info) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.models = make(map[string]*Info, len(models))
	for _, m := range models {
		s.models[m.ID] = m.Clone()
	}
}
