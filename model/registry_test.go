package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryGetAndList(t *testing.T) {
	reg := NewRegistry(NewStaticStore([]*Info{
		textModel("a", 0.8, 0.5),
		textModel("b", 0.6, 0.7),
	}))

	all, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got, err := reg.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	_, err = reg.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestRegistryServesCachedSnapshotUntilInvalidated(t *testing.T) {
	store := NewStaticStore([]*Info{textModel("a", 0.8, 0.5)})
	reg := NewRegistry(store, WithCacheValidity(time.Hour))

	_, err := reg.Get(context.Background(), "a")
	require.NoError(t, err)

	// Mutate the store behind the cache; the stale snapshot still serves.
	store.Replace([]*Info{textModel("b", 0.5, 0.5)})

	_, err = reg.Get(context.Background(), "a")
	assert.NoError(t, err, "cached snapshot should still hold model a")

	reg.Invalidate()
	_, err = reg.Get(context.Background(), "a")
	assert.ErrorIs(t, err, ErrUnknownModel)
	_, err = reg.Get(context.Background(), "b")
	assert.NoError(t, err)
}

func TestUpdateMetricsMovesReliability(t *testing.T) {
	m := textModel("a", 0.8, 0.5)
	m.Metrics.Reliability = 0.5
	reg := NewRegistry(NewStaticStore([]*Info{m}))

	require.NoError(t, reg.UpdateMetrics(context.Background(), "a", time.Second, true, nil))

	got, err := reg.Get(context.Background(), "a")
	require.NoError(t, err)
	// EMA at rate 0.1: 0.5 + 0.1*(1-0.5) = 0.55
	assert.InDelta(t, 0.55, got.Metrics.Reliability, 1e-9)
	assert.InDelta(t, got.Metrics.Reliability, got.Metrics.SuccessRate, 1e-9)

	require.NoError(t, reg.UpdateMetrics(context.Background(), "a", time.Second, false, nil))
	got, err = reg.Get(context.Background(), "a")
	require.NoError(t, err)
	// 0.55 + 0.1*(0-0.55) = 0.495
	assert.InDelta(t, 0.495, got.Metrics.Reliability, 1e-9)
}

func TestUpdateMetricsScoresStayClamped(t *testing.T) {
	m := textModel("a", 1.0, 0.5)
	m.Metrics.Reliability = 1.0
	m.Metrics.Speed = 1.0
	reg := NewRegistry(NewStaticStore([]*Info{m}))

	// Many successful fast calls never push any score above 1.
	for range 20 {
		q := 1.0
		require.NoError(t, reg.UpdateMetrics(context.Background(), "a", 0, true, &q))
	}

	got, err := reg.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.LessOrEqual(t, got.Metrics.Reliability, 1.0)
	assert.LessOrEqual(t, got.Metrics.Speed, 1.0)
	assert.LessOrEqual(t, got.Metrics.Performance, 1.0)

	// Many failures never push below 0.
	for range 40 {
		q := 0.0
		require.NoError(t, reg.UpdateMetrics(context.Background(), "a", time.Minute, false, &q))
	}

	got, err = reg.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.Metrics.Reliability, 0.0)
	assert.GreaterOrEqual(t, got.Metrics.Speed, 0.0)
	assert.GreaterOrEqual(t, got.Metrics.Performance, 0.0)
}

func TestUpdateMetricsPerformanceOnlyWithQualityScore(t *testing.T) {
	m := textModel("a", 0.8, 0.5)
	reg := NewRegistry(NewStaticStore([]*Info{m}))

	require.NoError(t, reg.UpdateMetrics(context.Background(), "a", time.Second, true, nil))

	got, err := reg.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, got.Metrics.Performance, 1e-9, "performance should not move without a quality score")

	q := 0.3
	require.NoError(t, reg.UpdateMetrics(context.Background(), "a", time.Second, true, &q))
	got, err = reg.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got.Metrics.Performance, 1e-9)
}

func TestUpdateMetricsUnknownModel(t *testing.T) {
	reg := NewRegistry(NewStaticStore(nil))
	err := reg.UpdateMetrics(context.Background(), "ghost", time.Second, true, nil)
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestPricingCost(t *testing.T) {
	p := Pricing{InputPer1K: 0.003, OutputPer1K: 0.015}
	assert.InDelta(t, 0.003+0.015, p.Cost(1000, 1000), 1e-9)
	assert.InDelta(t, 0.0, p.Cost(0, 0), 1e-9)
}

func TestCapabilitiesSatisfies(t *testing.T) {
	full := Capabilities{Text: true, Vision: true, Code: true, FunctionCalling: true, JSONMode: true, LargeContext: true}
	assert.True(t, full.Satisfies(Capabilities{Vision: true, Code: true}))
	assert.True(t, full.Satisfies(Capabilities{}))

	textOnly := Capabilities{Text: true}
	assert.False(t, textOnly.Satisfies(Capabilities{Vision: true}))
	assert.True(t, textOnly.Satisfies(Capabilities{Text: true}))
}
