package budget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memLedger is an in-memory LedgerStore for tests. The canonical store
// implementations live in the store package.
type memLedger struct {
	mu     sync.Mutex
	rows   []*Record
	limits map[string]*Limits
}

func newMemLedger() *memLedger {
	return &memLedger{limits: make(map[string]*Limits)}
}

func (l *memLedger) AppendUsage(_ context.Context, rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *rec
	l.rows = append(l.rows, &cp)
	return nil
}

func (l *memLedger) UsageBetween(_ context.Context, userID string, from, to time.Time) ([]*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*Record
	for _, rec := range l.rows {
		if rec.UserID != userID {
			continue
		}
		if rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (l *memLedger) GetLimits(_ context.Context, userID string) (*Limits, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limits, ok := l.limits[userID]
	if !ok {
		return nil, ErrNoLimits
	}
	cp := *limits
	return &cp, nil
}

func (l *memLedger) PutLimits(_ context.Context, limits *Limits) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *limits
	l.limits[limits.UserID] = &cp
	return nil
}

func spend(t *testing.T, m *Monitor, user string, cost float64) {
	t.Helper()
	require.NoError(t, m.LogUsage(context.Background(), &Record{
		UserID:   user,
		Provider: "anthropic",
		Model:    "claude-sonnet",
		Cost:     cost,
		Status:   "success",
	}))
}

func TestCanMakeRequestHardStopDenies(t *testing.T) {
	ledger := newMemLedger()
	m := NewMonitor(ledger)

	require.NoError(t, m.SetLimits(context.Background(), &Limits{
		UserID:           "alice",
		DailyLimit:       10,
		MonthlyLimit:     100,
		HardStop:         true,
		WarningThreshold: 0.8,
	}))
	spend(t, m, "alice", 9.50)

	// $1.00 would cross the $10 daily ceiling.
	dec, err := m.CanMakeRequest(context.Background(), "alice", 1.00)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "daily budget exceeded")
	assert.NotEmpty(t, dec.Suggestion)

	// $0.40 fits but lands at 99% of the daily limit: allowed with warning.
	dec, err = m.CanMakeRequest(context.Background(), "alice", 0.40)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.NotEmpty(t, dec.Warning)
}

func TestCanMakeRequestDefaultsApply(t *testing.T) {
	m := NewMonitor(newMemLedger())

	// No configured limits: $10/day default, hard stop on.
	dec, err := m.CanMakeRequest(context.Background(), "nobody", 11.0)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)

	dec, err = m.CanMakeRequest(context.Background(), "nobody", 0.01)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Empty(t, dec.Warning)
}

func TestCanMakeRequestSoftLimitWarnsInsteadOfDenying(t *testing.T) {
	m := NewMonitor(newMemLedger())
	require.NoError(t, m.SetLimits(context.Background(), &Limits{
		UserID:           "bob",
		DailyLimit:       10,
		MonthlyLimit:     100,
		HardStop:         false,
		WarningThreshold: 0.8,
	}))
	spend(t, m, "bob", 9.50)

	dec, err := m.CanMakeRequest(context.Background(), "bob", 5.0)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.NotEmpty(t, dec.Warning)
}

func TestGetCurrentUsageStatusThresholds(t *testing.T) {
	tests := []struct {
		name  string
		spent float64
		want  UsageStatus
	}{
		{"safe", 1.0, StatusSafe},
		{"warning", 8.5, StatusWarning},
		{"limit reached", 9.6, StatusLimitReached},
		{"exceeded", 10.5, StatusExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(newMemLedger())
			spend(t, m, "carol", tt.spent)

			stats, err := m.GetCurrentUsage(context.Background(), "carol")
			require.NoError(t, err)
			assert.Equal(t, tt.want, stats.Status)
			assert.InDelta(t, tt.spent, stats.TodayCost, 1e-9)
			assert.Equal(t, 1, stats.TodayRequests)
		})
	}
}

func TestLogUsageNotifiesOncePerEscalation(t *testing.T) {
	var notifications []UsageStatus
	m := NewMonitor(newMemLedger(), WithNotifier(func(_ string, status UsageStatus, _ *Stats) {
		notifications = append(notifications, status)
	}))

	spend(t, m, "dave", 1.0) // safe, no notification
	spend(t, m, "dave", 7.5) // 8.5: warning
	spend(t, m, "dave", 0.1) // still warning, no repeat
	spend(t, m, "dave", 1.0) // 9.6: limit_reached

	assert.Equal(t, []UsageStatus{StatusWarning, StatusLimitReached}, notifications)
}

func TestPredictWorkflowCost(t *testing.T) {
	m := NewMonitor(newMemLedger())
	spend(t, m, "erin", 5.0)

	steps := []StepEstimate{
		{StepID: "draft", ModelID: "m", Pricing: pricingPer1K(1.0, 2.0), InputTokens: 1000, OutputTokens: 500},
		{StepID: "review", ModelID: "m", Pricing: pricingPer1K(1.0, 2.0), InputTokens: 500, OutputTokens: 250},
	}

	pred, err := m.PredictWorkflowCost(context.Background(), "erin", steps)
	require.NoError(t, err)

	// draft: 1*1 + 0.5*2 = 2.0; review: 0.5*1 + 0.25*2 = 1.0
	assert.InDelta(t, 3.0, pred.TotalCost, 1e-9)
	assert.InDelta(t, 2.0, pred.PerStep["draft"], 1e-9)
	assert.InDelta(t, 1.0, pred.PerStep["review"], 1e-9)

	// $3 of a $5 remaining daily budget: within limits, but over 80%? No,
	// 3 < 4. Within limits message.
	assert.True(t, pred.WithinLimits)

	// A bigger workflow trips the >80%-of-remaining advisory.
	big := []StepEstimate{{StepID: "huge", Pricing: pricingPer1K(1.0, 0), InputTokens: 4500}}
	pred, err = m.PredictWorkflowCost(context.Background(), "erin", big)
	require.NoError(t, err)
	assert.True(t, pred.WithinLimits)
	assert.Contains(t, pred.Recommendation, "80%")

	// And one that cannot fit at all.
	over := []StepEstimate{{StepID: "over", Pricing: pricingPer1K(1.0, 0), InputTokens: 6000}}
	pred, err = m.PredictWorkflowCost(context.Background(), "erin", over)
	require.NoError(t, err)
	assert.False(t, pred.WithinLimits)
	assert.Contains(t, pred.Recommendation, "daily")
}

func TestSetLimitsValidation(t *testing.T) {
	m := NewMonitor(newMemLedger())

	assert.Error(t, m.SetLimits(context.Background(), &Limits{}))
	assert.Error(t, m.SetLimits(context.Background(), &Limits{UserID: "x", DailyLimit: -1}))
	assert.Error(t, m.SetLimits(context.Background(), &Limits{UserID: "x", WarningThreshold: 2}))
	assert.NoError(t, m.SetLimits(context.Background(), DefaultLimits("x")))
}
