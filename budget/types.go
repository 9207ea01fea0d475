// Package budget provides the usage ledger and the admission gate that
// decides, before any money is spent, whether a user's request fits inside
// their configured spending limits.
package budget

import (
	"errors"
	"time"

	"github.com/c360studio/semflow/model"
)

// Sentinel errors.
var (
	// ErrBudgetExceeded marks a denied admission decision when wrapped into
	// an error by callers.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrNoLimits is returned by ledger stores when a user has no configured
	// limits; the monitor falls back to defaults.
	ErrNoLimits = errors.New("no usage limits configured")
)

// Default limits applied when a user has none configured.
const (
	DefaultDailyLimit       = 10.0  // USD
	DefaultMonthlyLimit     = 100.0 // USD
	DefaultWarningThreshold = 0.8
)

// Limits is the per-user spending configuration.
type Limits struct {
	UserID string `json:"user_id"`

	// DailyLimit and MonthlyLimit are USD ceilings.
	DailyLimit   float64 `json:"daily_limit"`
	MonthlyLimit float64 `json:"monthly_limit"`

	// HardStop denies requests that would cross a ceiling. When false,
	// requests are allowed but flagged.
	HardStop bool `json:"hard_stop"`

	// WarningThreshold is the usage fraction at which warnings start.
	WarningThreshold float64 `json:"warning_threshold"`

	// AutoPause pauses running workflows once a ceiling is reached.
	AutoPause bool `json:"auto_pause"`
}

// DefaultLimits returns the limits applied to users with no configuration.
func DefaultLimits(userID string) *Limits {
	return &Limits{
		UserID:           userID,
		DailyLimit:       DefaultDailyLimit,
		MonthlyLimit:     DefaultMonthlyLimit,
		HardStop:         true,
		WarningThreshold: DefaultWarningThreshold,
	}
}

// Record is one immutable usage-ledger row, appended after each invocation.
type Record struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	WorkflowID   string        `json:"workflow_id,omitempty"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Cost         float64       `json:"cost"`
	Latency      time.Duration `json:"latency"`
	Status       string        `json:"status"` // "success" or "error"
	Timestamp    time.Time     `json:"timestamp"`
}

// UsageStatus classifies how close a user is to their limits.
type UsageStatus string

const (
	StatusSafe         UsageStatus = "safe"
	StatusWarning      UsageStatus = "warning"
	StatusLimitReached UsageStatus = "limit_reached"
	StatusExceeded     UsageStatus = "exceeded"
)

// Stats is a point-in-time usage snapshot for a user.
type Stats struct {
	UserID string `json:"user_id"`

	TodayCost     float64 `json:"today_cost"`
	TodayRequests int     `json:"today_requests"`
	TodayTokens   int     `json:"today_tokens"`

	MonthCost     float64 `json:"month_cost"`
	MonthRequests int     `json:"month_requests"`
	MonthTokens   int     `json:"month_tokens"`

	RemainingDaily   float64 `json:"remaining_daily"`
	RemainingMonthly float64 `json:"remaining_monthly"`

	DailyPercent   float64 `json:"daily_percent"`
	MonthlyPercent float64 `json:"monthly_percent"`

	Status UsageStatus `json:"status"`
}

// Decision is the admission gate's answer for one request.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool `json:"allowed"`

	// Reason explains a denial, with current totals.
	Reason string `json:"reason,omitempty"`

	// Warning is attached when the request is allowed but crosses the
	// warning threshold.
	Warning string `json:"warning,omitempty"`

	// Suggestion offers a way forward after a denial.
	Suggestion string `json:"suggestion,omitempty"`
}

// StepEstimate sizes one workflow step for cost prediction.
type StepEstimate struct {
	StepID       string        `json:"step_id"`
	ModelID      string        `json:"model_id"`
	Pricing      model.Pricing `json:"pricing"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
}

// CostPrediction is the result of predicting a whole workflow's cost against
// the user's current budget position.
type CostPrediction struct {
	TotalCost      float64            `json:"total_cost"`
	PerStep        map[string]float64 `json:"per_step"`
	CurrentDaily   float64            `json:"current_daily"`
	CurrentMonthly float64            `json:"current_monthly"`
	RemainingDaily float64            `json:"remaining_daily"`
	WithinLimits   bool               `json:"within_limits"`
	Recommendation string             `json:"recommendation"`
}

// DayUsage is one day's aggregate in an analytics window.
type DayUsage struct {
	Date     string  `json:"date"` // YYYY-MM-DD
	Cost     float64 `json:"cost"`
	Tokens   int     `json:"tokens"`
	Requests int     `json:"requests"`
}

// Trend classifies spending movement over an analytics window.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Analytics is the usage breakdown for a trailing window.
type Analytics struct {
	UserID     string             `json:"user_id"`
	Days       int                `json:"days"`
	Daily      []DayUsage         `json:"daily"`
	ByProvider map[string]float64 `json:"by_provider"`
	ByModel    map[string]float64 `json:"by_model"`
	TotalCost  float64            `json:"total_cost"`
	Trend      Trend              `json:"trend"`
}
