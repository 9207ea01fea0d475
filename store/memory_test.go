package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semflow/budget"
	"github.com/c360studio/semflow/model"
	"github.com/c360studio/semflow/quality"
	"github.com/c360studio/semflow/workflow"
)

func testInstance(id string) *workflow.Instance {
	now := time.Now().UTC()
	return &workflow.Instance{
		ID:         id,
		UserID:     "alice",
		TemplateID: "research",
		Status:     workflow.StatusPending,
		Steps: []workflow.Step{
			{ID: "s1", Name: "Research", Type: workflow.StepSequential, AgentType: "research", PromptTemplate: "Research {{input}}"},
		},
		Context:   workflow.Context{Input: "topic", Metadata: map[string]string{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStoreWorkflowRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.PutWorkflow(ctx, testInstance("wf-1")))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.ID)
	assert.Equal(t, "alice", got.UserID)

	// Mutating the returned copy must not leak into the store.
	got.Status = workflow.StatusCancelled
	again, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPending, again.Status)

	list, err := s.ListWorkflows(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteWorkflow(ctx, "wf-1"))
	_, err = s.GetWorkflow(ctx, "wf-1")
	assert.ErrorIs(t, err, workflow.ErrWorkflowNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUsageLedger(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{-48 * time.Hour, -time.Hour, 0} {
		rec := &budget.Record{
			UserID:       "alice",
			Provider:     "anthropic",
			Model:        "claude-sonnet",
			InputTokens:  100 * (i + 1),
			OutputTokens: 50,
			Cost:         0.01,
			Status:       "success",
			Timestamp:    base.Add(offset),
		}
		require.NoError(t, s.AppendUsage(ctx, rec))
		assert.NotEmpty(t, rec.ID)
	}
	require.NoError(t, s.AppendUsage(ctx, &budget.Record{
		UserID: "bob", Provider: "openai", Model: "gpt-4o-mini",
		Cost: 0.02, Status: "success", Timestamp: base,
	}))

	// Window is half-open: the record at exactly `to` is excluded.
	rows, err := s.UsageBetween(ctx, "alice", base.Add(-2*time.Hour), base)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 200, rows[0].InputTokens)

	rows, err = s.UsageBetween(ctx, "alice", base.Add(-72*time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestMemoryStoreLimits(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetLimits(ctx, "alice")
	assert.ErrorIs(t, err, budget.ErrNoLimits)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutLimits(ctx, &budget.Limits{
		UserID: "alice", DailyLimit: 25, MonthlyLimit: 300,
		HardStop: true, WarningThreshold: 0.8,
	}))

	limits, err := s.GetLimits(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 25.0, limits.DailyLimit)
	assert.True(t, limits.HardStop)
}

func TestMemoryStoreModels(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetModel(ctx, "claude-sonnet")
	assert.ErrorIs(t, err, model.ErrUnknownModel)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutModel(ctx, &model.Info{
		ID: "claude-sonnet", Provider: "anthropic", Model: "claude-sonnet-4",
		Metrics: model.Metrics{Performance: 0.7, Reliability: 0.9},
	}))

	got, err := s.GetModel(ctx, "claude-sonnet")
	require.NoError(t, err)
	assert.Equal(t, 0.7, got.Metrics.Performance)

	require.NoError(t, s.UpdateModelMetrics(ctx, "claude-sonnet", model.Metrics{
		Performance: 0.8, Reliability: 0.95,
	}))
	got, err = s.GetModel(ctx, "claude-sonnet")
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.Metrics.Performance)

	err = s.UpdateModelMetrics(ctx, "nope", model.Metrics{})
	assert.ErrorIs(t, err, model.ErrUnknownModel)

	list, err := s.ListModels(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStoreBackups(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	_, err := s.LatestBackup(ctx, "wf-1")
	assert.ErrorIs(t, err, workflow.ErrNoBackup)

	for i, id := range []string{"b1", "b2"} {
		require.NoError(t, s.PutBackup(ctx, &workflow.Backup{
			ID:         id,
			WorkflowID: "wf-1",
			Instance:   testInstance("wf-1"),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	latest, err := s.LatestBackup(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "b2", latest.ID)

	first, err := s.GetBackup(ctx, "wf-1", "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", first.ID)

	_, err = s.GetBackup(ctx, "wf-1", "missing")
	assert.ErrorIs(t, err, workflow.ErrNoBackup)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreReviews(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetReview(ctx, "r1")
	assert.ErrorIs(t, err, quality.ErrReviewNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutReview(ctx, &quality.ReviewRequest{
		ID: "r1", WorkflowID: "wf-1", StepID: "s1",
		Content: "draft output", Priority: "high",
		Status: quality.ReviewStatusPending, CreatedAt: time.Now().UTC(),
	}))

	got, err := s.GetReview(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, quality.ReviewStatusPending, got.Status)
	assert.Equal(t, "high", got.Priority)
}
