package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// goodOutput is long enough and shaped enough like prose to clear the
// completeness and clarity heuristics for the default step type.
var goodOutput = strings.TrimSpace(strings.Repeat(
	"The analysis shows three distinct trends in the quarterly data. "+
		"Revenue growth remained steady across every region we examined. ", 5))

func TestCheckShortOutputAgainstRequiredLengthRule(t *testing.T) {
	gate := NewGate()
	rules := []Rule{&LengthRule{MinLength: 200, Required: true}}

	result := gate.Check("only five words right here", "summary", rules)

	assert.False(t, result.Passed)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "length", result.Issues[0].Rule)
	assert.Equal(t, SeverityMedium, result.Issues[0].Severity)
}

func TestCheckShortOutputAgainstOptionalLengthRule(t *testing.T) {
	gate := NewGate()
	rules := []Rule{&LengthRule{MinLength: 200, Required: false}}

	result := gate.Check("only five words right here", "summary", rules)

	assert.True(t, result.Passed, "non-required failures are warnings, not gate failures")
	assert.Len(t, result.Issues, 1)
}

func TestCheckPassingOutput(t *testing.T) {
	gate := NewGate()
	rules := []Rule{
		&LengthRule{MinLength: 50, Required: true},
		&KeywordsRule{Keywords: []string{"revenue"}, Required: true},
	}

	result := gate.Check(goodOutput, "summary", rules)

	assert.True(t, result.Passed)
	assert.Empty(t, result.Issues)
	assert.InDelta(t, 1.0, result.Metrics.Accuracy, 1e-9)
	assert.False(t, result.HumanReviewRequired)
	assert.Greater(t, result.Metrics.Overall, 0.6)
	assert.InDelta(t, result.Metrics.Overall, result.Confidence, 1e-9)
}

func TestCheckHighSeverityFailureForcesReview(t *testing.T) {
	gate := NewGate()
	rules := []Rule{
		&LengthRule{MinLength: 50, Required: true},
		&KeywordsRule{Forbidden: []string{"revenue"}, Required: false},
	}

	result := gate.Check(goodOutput, "summary", rules)

	assert.True(t, result.Passed, "the forbidden-term rule is not required")
	assert.True(t, result.HumanReviewRequired, "high severity failure escalates regardless")
}

func TestCheckLowAccuracyForcesReview(t *testing.T) {
	gate := NewGate()
	rules := []Rule{
		&LengthRule{MinLength: 10000, Required: false},
		&KeywordsRule{Keywords: []string{"nonexistent-term"}, Required: false},
		&LengthRule{MinLength: 10, Required: true},
	}

	result := gate.Check(goodOutput, "summary", rules)

	assert.True(t, result.Passed)
	assert.Less(t, result.Metrics.Accuracy, 0.5)
	assert.True(t, result.HumanReviewRequired)
}

func TestCheckNoRules(t *testing.T) {
	gate := NewGate()
	result := gate.Check(goodOutput, "summary", nil)

	assert.True(t, result.Passed)
	assert.InDelta(t, 1.0, result.Metrics.Accuracy, 1e-9)
}

func TestCompletenessScore(t *testing.T) {
	short := "a few words only"
	assert.Less(t, completenessScore(short, "draft"), 0.1)
	assert.InDelta(t, 1.0, completenessScore(goodOutput, "summary"), 1e-9)

	// Unknown step types use the default minimum.
	assert.Equal(t, completenessScore(short, "unknown"), completenessScore(short, ""))
}

func TestClarityScore(t *testing.T) {
	assert.Zero(t, clarityScore(""))

	normal := "The quick brown fox jumps over the lazy dog near the old river bank today. " +
		"Every sentence lands close to fifteen words with about five letters in each single word."
	degenerate := "a a a a a a a a a a a a a a a a a a a a a a a a a a a a a a a a a a a a a a a a"

	assert.Greater(t, clarityScore(normal), clarityScore(degenerate))
}

func TestMetricsClamped(t *testing.T) {
	gate := NewGate()
	result := gate.Check("", "draft", nil)

	for _, v := range []float64{
		result.Metrics.Accuracy,
		result.Metrics.Completeness,
		result.Metrics.Clarity,
		result.Metrics.Overall,
	} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}
