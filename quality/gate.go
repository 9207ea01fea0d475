package quality

import (
	"log/slog"
	"math"
	"strings"
)

// Metrics is the composite quality score bundle. All values live in [0,1].
type Metrics struct {
	Accuracy           float64 `json:"accuracy"`
	Relevance          float64 `json:"relevance"`
	Completeness       float64 `json:"completeness"`
	Clarity            float64 `json:"clarity"`
	FactualConsistency float64 `json:"factual_consistency"`
	Overall            float64 `json:"overall_quality"`
}

// CheckResult is the gate's verdict on one step output.
type CheckResult struct {
	Passed              bool    `json:"passed"`
	Confidence          float64 `json:"confidence"`
	Metrics             Metrics `json:"metrics"`
	Issues              []Issue `json:"issues,omitempty"`
	HumanReviewRequired bool    `json:"human_review_required"`
}

// Overall quality blend. Accuracy dominates because it reflects the
// caller's own rules.
const (
	accuracyWeight     = 0.30
	relevanceWeight    = 0.20
	completenessWeight = 0.20
	clarityWeight      = 0.15
	factualWeight      = 0.15
)

// Review escalation cutoffs.
const (
	reviewOverallFloor  = 0.6
	reviewAccuracyFloor = 0.5
)

// Prose that deviates far from these empirical norms reads as either
// fragmented or run-on text.
const (
	normalWordLength     = 5.0
	normalSentenceLength = 15.0
)

// Expected minimum word counts per step type, used by the completeness
// estimate. Unknown step types fall back to defaultMinWords.
var minWordsByStepType = map[string]int{
	"research": 150,
	"analysis": 120,
	"draft":    200,
	"summary":  50,
	"review":   80,
	"code":     30,
}

const defaultMinWords = 60

// Gate runs validation rules and computes composite quality metrics.
type Gate struct {
	logger *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateLogger sets the gate's logger.
func WithGateLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = logger }
}

// NewGate creates a quality gate.
func NewGate(opts ...GateOption) *Gate {
	g := &Gate{logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check evaluates an output against the given rules. Passed is true iff
// every required rule passed; non-required failures surface as issues but
// do not fail the gate. HumanReviewRequired is set when the overall score
// or the rule-pass ratio drops too low, or when a high severity rule fails.
func (g *Gate) Check(output, stepType string, rules []Rule) *CheckResult {
	result := &CheckResult{Passed: true}

	failed := 0
	highSeverityFailure := false
	for _, rule := range rules {
		issue := rule.Evaluate(output)
		if issue == nil {
			continue
		}
		failed++
		result.Issues = append(result.Issues, *issue)
		if issue.Severity == SeverityHigh {
			highSeverityFailure = true
		}
		if rule.IsRequired() {
			result.Passed = false
		}
	}

	accuracy := 1.0
	if len(rules) > 0 {
		accuracy = float64(len(rules)-failed) / float64(len(rules))
	}

	result.Metrics = Metrics{
		Accuracy:     accuracy,
		Completeness: completenessScore(output, stepType),
		Clarity:      clarityScore(output),
		// No semantic scoring backend is wired in; these two stay at a
		// neutral prior so the blend is dominated by the measured scores.
		Relevance:          0.8,
		FactualConsistency: 0.8,
	}
	result.Metrics.Overall = clamp01(accuracyWeight*result.Metrics.Accuracy +
		relevanceWeight*result.Metrics.Relevance +
		completenessWeight*result.Metrics.Completeness +
		clarityWeight*result.Metrics.Clarity +
		factualWeight*result.Metrics.FactualConsistency)

	result.Confidence = result.Metrics.Overall
	result.HumanReviewRequired = result.Metrics.Overall < reviewOverallFloor ||
		highSeverityFailure ||
		accuracy < reviewAccuracyFloor

	g.logger.Debug("quality check",
		"step_type", stepType,
		"passed", result.Passed,
		"overall", result.Metrics.Overall,
		"issues", len(result.Issues),
		"human_review", result.HumanReviewRequired)

	return result
}

// completenessScore compares the output's word count against the expected
// minimum for the step type, saturating at 1.
func completenessScore(output, stepType string) float64 {
	words := len(strings.Fields(output))
	minWords, ok := minWordsByStepType[stepType]
	if !ok {
		minWords = defaultMinWords
	}
	return clamp01(float64(words) / float64(minWords))
}

// clarityScore penalizes average word and sentence lengths far from
// typical prose.
func clarityScore(output string) float64 {
	words := strings.Fields(output)
	if len(words) == 0 {
		return 0
	}

	chars := 0
	for _, w := range words {
		chars += len(w)
	}
	avgWordLen := float64(chars) / float64(len(words))

	sentences := countSentences(output)
	if sentences == 0 {
		sentences = 1
	}
	avgSentenceLen := float64(len(words)) / float64(sentences)

	wordPenalty := math.Abs(avgWordLen-normalWordLength) / normalWordLength
	sentencePenalty := math.Abs(avgSentenceLen-normalSentenceLength) / normalSentenceLength
	return clamp01(1 - 0.5*wordPenalty - 0.5*sentencePenalty)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
