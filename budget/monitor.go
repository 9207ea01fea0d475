package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LedgerStore is the persistence port for usage rows and per-user limits.
// Implementations live in the store package.
type LedgerStore interface {
	// AppendUsage appends an immutable ledger row.
	AppendUsage(ctx context.Context, rec *Record) error

	// UsageBetween returns a user's rows with Timestamp in [from, to).
	UsageBetween(ctx context.Context, userID string, from, to time.Time) ([]*Record, error)

	// GetLimits returns a user's configured limits or ErrNoLimits.
	GetLimits(ctx context.Context, userID string) (*Limits, error)

	// PutLimits upserts a user's limits.
	PutLimits(ctx context.Context, limits *Limits) error
}

// Notifier receives threshold-crossing notifications. The monitor fires it
// once per status transition into warning or limit_reached, not on every row.
type Notifier func(userID string, status UsageStatus, stats *Stats)

// Status thresholds evaluated on the higher of the daily/monthly percentage.
const (
	warningStatusCeiling = 0.95
	limitStatusCeiling   = 1.0
)

// Monitor is the admission gate: it decides allow/warn/deny before money is
// spent and records actual usage afterwards. Safe for concurrent use.
type Monitor struct {
	store    LedgerStore
	logger   *slog.Logger
	notify   Notifier
	defaults *Limits

	mu         sync.Mutex
	lastStatus map[string]UsageStatus
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithNotifier sets the threshold-crossing notifier.
func WithNotifier(n Notifier) MonitorOption {
	return func(m *Monitor) {
		m.notify = n
	}
}

// WithDefaultLimits overrides the limits applied to users with no stored
// configuration. The UserID field is filled per lookup.
func WithDefaultLimits(limits Limits) MonitorOption {
	return func(m *Monitor) {
		m.defaults = &limits
	}
}

// NewMonitor creates an admission monitor over the given ledger store.
func NewMonitor(store LedgerStore, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:      store,
		logger:     slog.Default(),
		lastStatus: make(map[string]UsageStatus),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// limitsFor returns the user's limits, falling back to defaults.
func (m *Monitor) limitsFor(ctx context.Context, userID string) (*Limits, error) {
	limits, err := m.store.GetLimits(ctx, userID)
	if errors.Is(err, ErrNoLimits) {
		if m.defaults != nil {
			fallback := *m.defaults
			fallback.UserID = userID
			return &fallback, nil
		}
		return DefaultLimits(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load limits for %s: %w", userID, err)
	}
	if limits.WarningThreshold == 0 {
		limits.WarningThreshold = DefaultWarningThreshold
	}
	return limits, nil
}

// CanMakeRequest decides whether a request with the given estimated cost may
// proceed. With hard-stop enabled, a request that would cross either ceiling
// is denied with the current totals in the reason. Otherwise the request is
// allowed, with a warning attached once the post-request fraction crosses the
// warning threshold of either limit.
func (m *Monitor) CanMakeRequest(ctx context.Context, userID string, estimatedCost float64) (*Decision, error) {
	limits, err := m.limitsFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats, err := m.GetCurrentUsage(ctx, userID)
	if err != nil {
		return nil, err
	}

	projectedDaily := stats.TodayCost + estimatedCost
	projectedMonthly := stats.MonthCost + estimatedCost

	if limits.HardStop {
		if projectedDaily > limits.DailyLimit {
			return &Decision{
				Allowed: false,
				Reason: fmt.Sprintf("daily budget exceeded: $%.2f used of $%.2f, request adds $%.4f",
					stats.TodayCost, limits.DailyLimit, estimatedCost),
				Suggestion: "wait until tomorrow, raise the daily limit, or pick a cheaper model",
			}, nil
		}
		if projectedMonthly > limits.MonthlyLimit {
			return &Decision{
				Allowed: false,
				Reason: fmt.Sprintf("monthly budget exceeded: $%.2f used of $%.2f, request adds $%.4f",
					stats.MonthCost, limits.MonthlyLimit, estimatedCost),
				Suggestion: "raise the monthly limit or pick a cheaper model",
			}, nil
		}
	}

	decision := &Decision{Allowed: true}

	if limits.DailyLimit > 0 && projectedDaily/limits.DailyLimit > limits.WarningThreshold {
		decision.Warning = fmt.Sprintf("request brings daily usage to $%.2f of $%.2f (%.0f%%)",
			projectedDaily, limits.DailyLimit, projectedDaily/limits.DailyLimit*100)
	} else if limits.MonthlyLimit > 0 && projectedMonthly/limits.MonthlyLimit > limits.WarningThreshold {
		decision.Warning = fmt.Sprintf("request brings monthly usage to $%.2f of $%.2f (%.0f%%)",
			projectedMonthly, limits.MonthlyLimit, projectedMonthly/limits.MonthlyLimit*100)
	}

	return decision, nil
}

// GetCurrentUsage reads today's and this month's ledger rows and derives a
// point-in-time snapshot with a status classification.
func (m *Monitor) GetCurrentUsage(ctx context.Context, userID string) (*Stats, error) {
	limits, err := m.limitsFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	monthRows, err := m.store.UsageBetween(ctx, userID, monthStart, now.Add(time.Second))
	if err != nil {
		return nil, fmt.Errorf("read month ledger for %s: %w", userID, err)
	}

	stats := &Stats{UserID: userID}
	for _, rec := range monthRows {
		tokens := rec.InputTokens + rec.OutputTokens
		stats.MonthCost += rec.Cost
		stats.MonthRequests++
		stats.MonthTokens += tokens

		if !rec.Timestamp.Before(dayStart) {
			stats.TodayCost += rec.Cost
			stats.TodayRequests++
			stats.TodayTokens += tokens
		}
	}

	stats.RemainingDaily = max(0, limits.DailyLimit-stats.TodayCost)
	stats.RemainingMonthly = max(0, limits.MonthlyLimit-stats.MonthCost)
	if limits.DailyLimit > 0 {
		stats.DailyPercent = stats.TodayCost / limits.DailyLimit
	}
	if limits.MonthlyLimit > 0 {
		stats.MonthlyPercent = stats.MonthCost / limits.MonthlyLimit
	}

	stats.Status = classify(max(stats.DailyPercent, stats.MonthlyPercent), limits.WarningThreshold)
	return stats, nil
}

// classify maps a usage fraction to a status.
func classify(fraction, warningThreshold float64) UsageStatus {
	switch {
	case fraction < warningThreshold:
		return StatusSafe
	case fraction < warningStatusCeiling:
		return StatusWarning
	case fraction < limitStatusCeiling:
		return StatusLimitReached
	default:
		return StatusExceeded
	}
}

// LogUsage appends a ledger row and fires the notifier if the user's status
// crossed into warning or limit_reached territory.
func (m *Monitor) LogUsage(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	if err := m.store.AppendUsage(ctx, rec); err != nil {
		return fmt.Errorf("append usage row: %w", err)
	}

	m.checkWarningThresholds(ctx, rec.UserID)
	return nil
}

// checkWarningThresholds notifies once per status escalation. Failures here
// are logged, never surfaced: usage is already recorded.
func (m *Monitor) checkWarningThresholds(ctx context.Context, userID string) {
	if m.notify == nil {
		return
	}

	stats, err := m.GetCurrentUsage(ctx, userID)
	if err != nil {
		m.logger.Warn("threshold check failed", "user", userID, "error", err)
		return
	}

	m.mu.Lock()
	prev := m.lastStatus[userID]
	m.lastStatus[userID] = stats.Status
	m.mu.Unlock()

	if stats.Status == prev || stats.Status == StatusSafe {
		return
	}

	m.notify(userID, stats.Status, stats)
}

// PredictWorkflowCost sums per-step cost from each model's pricing and
// compares the total against the user's current position.
func (m *Monitor) PredictWorkflowCost(ctx context.Context, userID string, steps []StepEstimate) (*CostPrediction, error) {
	limits, err := m.limitsFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats, err := m.GetCurrentUsage(ctx, userID)
	if err != nil {
		return nil, err
	}

	pred := &CostPrediction{
		PerStep:        make(map[string]float64, len(steps)),
		CurrentDaily:   stats.TodayCost,
		CurrentMonthly: stats.MonthCost,
		RemainingDaily: stats.RemainingDaily,
	}

	for _, step := range steps {
		cost := step.Pricing.Cost(step.InputTokens, step.OutputTokens)
		pred.PerStep[step.StepID] = cost
		pred.TotalCost += cost
	}

	switch {
	case stats.TodayCost+pred.TotalCost > limits.DailyLimit:
		pred.Recommendation = fmt.Sprintf("workflow cost $%.4f exceeds the remaining daily budget of $%.2f",
			pred.TotalCost, stats.RemainingDaily)
	case stats.MonthCost+pred.TotalCost > limits.MonthlyLimit:
		pred.Recommendation = fmt.Sprintf("workflow cost $%.4f exceeds the remaining monthly budget of $%.2f",
			pred.TotalCost, stats.RemainingMonthly)
	case stats.RemainingDaily > 0 && pred.TotalCost > 0.8*stats.RemainingDaily:
		pred.WithinLimits = true
		pred.Recommendation = fmt.Sprintf("workflow cost $%.4f consumes over 80%% of the remaining daily budget ($%.2f)",
			pred.TotalCost, stats.RemainingDaily)
	default:
		pred.WithinLimits = true
		pred.Recommendation = "workflow fits within current limits"
	}

	return pred, nil
}

// SetLimits upserts a user's limits after validation.
func (m *Monitor) SetLimits(ctx context.Context, limits *Limits) error {
	if limits.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if limits.DailyLimit < 0 || limits.MonthlyLimit < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if limits.WarningThreshold < 0 || limits.WarningThreshold > 1 {
		return fmt.Errorf("warning threshold must be in [0,1]")
	}
	return m.store.PutLimits(ctx, limits)
}
