package quality

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/semflow/llm"
	"github.com/c360studio/semflow/model"
)

// Invoker sends a prompt to a model and returns its output. Satisfied by
// llm.Client.
type Invoker interface {
	Invoke(ctx context.Context, m *model.Info, prompt string) (*llm.Invocation, error)
}

// Correction stops early once an attempt fails to improve the overall
// score by at least this fraction of the previous score.
const minImprovement = 0.10

const defaultMaxAttempts = 3

// CorrectionResult reports the outcome of a self-correction loop.
type CorrectionResult struct {
	Output   string       `json:"output"`
	Result   *CheckResult `json:"result"`
	Attempts int          `json:"attempts"`
	Improved bool         `json:"improved"`
}

// Corrector iteratively rewrites a failing output by feeding the gate's
// issues back to the model as a correction prompt.
type Corrector struct {
	gate        *Gate
	invoker     Invoker
	maxAttempts int
	logger      *slog.Logger
}

// CorrectorOption configures a Corrector.
type CorrectorOption func(*Corrector)

// WithMaxAttempts bounds the correction loop.
func WithMaxAttempts(n int) CorrectorOption {
	return func(c *Corrector) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithCorrectorLogger sets the corrector's logger.
func WithCorrectorLogger(logger *slog.Logger) CorrectorOption {
	return func(c *Corrector) { c.logger = logger }
}

// NewCorrector creates a self-correction loop around a gate and an invoker.
func NewCorrector(gate *Gate, invoker Invoker, opts ...CorrectorOption) *Corrector {
	c := &Corrector{
		gate:        gate,
		invoker:     invoker,
		maxAttempts: defaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Correct runs up to maxAttempts correction rounds against the model and
// returns the best output seen. The loop ends early when an output passes
// without needing review, or when a round fails to improve the overall
// score by at least 10%.
func (c *Corrector) Correct(ctx context.Context, m *model.Info, output, stepType string, rules []Rule) (*CorrectionResult, error) {
	best := output
	bestResult := c.gate.Check(output, stepType, rules)
	initial := bestResult.Metrics.Overall

	result := &CorrectionResult{Output: best, Result: bestResult}
	if bestResult.Passed && !bestResult.HumanReviewRequired {
		return result, nil
	}

	prev := bestResult
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		prompt := correctionPrompt(best, prev.Issues)
		inv, err := c.invoker.Invoke(ctx, m, prompt)
		if err != nil {
			if result.Attempts == 0 {
				return result, fmt.Errorf("correction attempt %d: %w", attempt, err)
			}
			c.logger.Warn("correction attempt failed, keeping best output",
				"attempt", attempt, "error", err)
			break
		}
		result.Attempts = attempt

		candidate := c.gate.Check(inv.Content, stepType, rules)
		c.logger.Debug("correction attempt",
			"attempt", attempt,
			"overall", candidate.Metrics.Overall,
			"previous", prev.Metrics.Overall)

		if candidate.Metrics.Overall > bestResult.Metrics.Overall {
			best = inv.Content
			bestResult = candidate
		}
		if candidate.Passed && !candidate.HumanReviewRequired {
			break
		}
		if candidate.Metrics.Overall < prev.Metrics.Overall*(1+minImprovement) {
			break
		}
		prev = candidate
	}

	result.Output = best
	result.Result = bestResult
	result.Improved = bestResult.Metrics.Overall > initial
	return result, nil
}

// correctionPrompt renders the issue list as instructions for the model.
func correctionPrompt(output string, issues []Issue) string {
	var sb strings.Builder
	sb.WriteString("The following output failed quality validation.\n\n")
	sb.WriteString("## Issues\n\n")
	for _, issue := range issues {
		sb.WriteString(fmt.Sprintf("- [%s] %s: %s\n", issue.Severity, issue.Rule, issue.Message))
	}
	sb.WriteString("\n## Original Output\n\n")
	sb.WriteString(output)
	sb.WriteString("\n\nRewrite the output so that every issue above is resolved. " +
		"Keep everything that was already correct. Return only the corrected output.")
	return sb.String()
}
