package budget

import (
	"context"
	"fmt"
	"time"
)

// trendTolerance is the relative band around "no change" that still counts as
// stable when comparing window halves.
const trendTolerance = 0.1

// GetUsageAnalytics builds a daily cost/token/request breakdown over the
// trailing window, plus provider and model cost breakdowns and a trend
// classification.
func (m *Monitor) GetUsageAnalytics(ctx context.Context, userID string, days int) (*Analytics, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}

	now := time.Now()
	windowStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
		AddDate(0, 0, -(days - 1))

	rows, err := m.store.UsageBetween(ctx, userID, windowStart, now.Add(time.Second))
	if err != nil {
		return nil, fmt.Errorf("read ledger window for %s: %w", userID, err)
	}

	analytics := &Analytics{
		UserID:     userID,
		Days:       days,
		ByProvider: make(map[string]float64),
		ByModel:    make(map[string]float64),
	}

	// Pre-seed every day in the window so the breakdown has no gaps.
	perDay := make(map[string]*DayUsage, days)
	for i := range days {
		date := windowStart.AddDate(0, 0, i).Format("2006-01-02")
		day := &DayUsage{Date: date}
		perDay[date] = day
		analytics.Daily = append(analytics.Daily, *day)
	}

	for _, rec := range rows {
		date := rec.Timestamp.Format("2006-01-02")
		day, ok := perDay[date]
		if !ok {
			continue
		}
		day.Cost += rec.Cost
		day.Tokens += rec.InputTokens + rec.OutputTokens
		day.Requests++

		analytics.ByProvider[rec.Provider] += rec.Cost
		analytics.ByModel[rec.Model] += rec.Cost
		analytics.TotalCost += rec.Cost
	}

	for i := range analytics.Daily {
		analytics.Daily[i] = *perDay[analytics.Daily[i].Date]
	}

	analytics.Trend = classifyTrend(analytics.Daily)
	return analytics, nil
}

// classifyTrend compares the mean daily cost of the first half of the window
// against the second half; a difference within 10% is stable.
func classifyTrend(daily []DayUsage) Trend {
	if len(daily) < 2 {
		return TrendStable
	}

	half := len(daily) / 2
	firstMean := meanCost(daily[:half])
	secondMean := meanCost(daily[half:])

	if firstMean == 0 {
		if secondMean == 0 {
			return TrendStable
		}
		return TrendIncreasing
	}

	change := (secondMean - firstMean) / firstMean
	switch {
	case change > trendTolerance:
		return TrendIncreasing
	case change < -trendTolerance:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func meanCost(daily []DayUsage) float64 {
	if len(daily) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range daily {
		sum += d.Cost
	}
	return sum / float64(len(daily))
}
