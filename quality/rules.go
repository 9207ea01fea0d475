// Package quality gates step outputs before the workflow engine marks a
// step complete. A configurable set of validation rules produces severity
// tagged issues, composite quality metrics decide whether an output passes,
// needs auto-correction, or must be escalated to a human reviewer.
package quality

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Severity classifies how serious a rule failure is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Issue is a single rule failure.
type Issue struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Required bool     `json:"required"`
}

// Rule validates one aspect of a step output. Evaluate returns nil when the
// output passes. Implementations carry strongly typed parameters; new rule
// kinds are added by registering a factory, not by extending a switch.
type Rule interface {
	// Type returns the registry name of the rule kind.
	Type() string
	// IsRequired reports whether a failure blocks the gate. Non-required
	// failures surface as warnings only.
	IsRequired() bool
	// Evaluate checks the output and returns an issue on failure.
	Evaluate(output string) *Issue
}

// Factory builds a rule from loosely typed parameters, typically decoded
// from YAML or JSON configuration.
type Factory func(params map[string]any) (Rule, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// RegisterRule registers a rule factory under a type name. Later
// registrations with the same name replace earlier ones.
func RegisterRule(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// BuildRule constructs a rule of the named type from its parameters.
func BuildRule(name string, params map[string]any) (Rule, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown rule type %q", name)
	}
	return factory(params)
}

// RuleTypes returns the registered rule type names.
func RuleTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

func init() {
	RegisterRule("length", func(params map[string]any) (Rule, error) {
		r := LengthRule{Required: boolParam(params, "required")}
		r.MinLength = intParam(params, "min_length")
		r.MaxLength = intParam(params, "max_length")
		if r.MinLength <= 0 && r.MaxLength <= 0 {
			return nil, fmt.Errorf("length rule needs min_length or max_length")
		}
		return &r, nil
	})
	RegisterRule("keywords", func(params map[string]any) (Rule, error) {
		r := KeywordsRule{
			Required:  boolParam(params, "required"),
			Keywords:  stringsParam(params, "keywords"),
			Forbidden: stringsParam(params, "forbidden"),
		}
		if len(r.Keywords) == 0 && len(r.Forbidden) == 0 {
			return nil, fmt.Errorf("keywords rule needs keywords or forbidden")
		}
		return &r, nil
	})
	RegisterRule("format", func(params map[string]any) (Rule, error) {
		format, _ := params["format"].(string)
		r := FormatRule{Required: boolParam(params, "required"), Format: format}
		switch format {
		case FormatJSON, FormatMarkdown, FormatCode:
		default:
			return nil, fmt.Errorf("unknown format %q", format)
		}
		return &r, nil
	})
	RegisterRule("coherence", func(params map[string]any) (Rule, error) {
		r := CoherenceRule{Required: boolParam(params, "required")}
		if v := intParam(params, "min_sentences"); v > 0 {
			r.MinSentences = v
		}
		return &r, nil
	})
}

func boolParam(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func stringsParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// LengthRule bounds the output length in characters.
type LengthRule struct {
	MinLength int  `json:"min_length,omitempty"`
	MaxLength int  `json:"max_length,omitempty"`
	Required  bool `json:"required"`
}

func (r *LengthRule) Type() string     { return "length" }
func (r *LengthRule) IsRequired() bool { return r.Required }

func (r *LengthRule) Evaluate(output string) *Issue {
	n := len(strings.TrimSpace(output))
	if r.MinLength > 0 && n < r.MinLength {
		return &Issue{
			Rule:     r.Type(),
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("output too short: %d chars, need at least %d", n, r.MinLength),
			Required: r.Required,
		}
	}
	if r.MaxLength > 0 && n > r.MaxLength {
		return &Issue{
			Rule:     r.Type(),
			Severity: SeverityLow,
			Message:  fmt.Sprintf("output too long: %d chars, limit %d", n, r.MaxLength),
			Required: r.Required,
		}
	}
	return nil
}

// KeywordsRule requires or forbids terms in the output. Matching is case
// insensitive.
type KeywordsRule struct {
	Keywords  []string `json:"keywords,omitempty"`
	Forbidden []string `json:"forbidden,omitempty"`
	Required  bool     `json:"required"`
}

func (r *KeywordsRule) Type() string     { return "keywords" }
func (r *KeywordsRule) IsRequired() bool { return r.Required }

func (r *KeywordsRule) Evaluate(output string) *Issue {
	lower := strings.ToLower(output)

	var missing []string
	for _, kw := range r.Keywords {
		if !strings.Contains(lower, strings.ToLower(kw)) {
			missing = append(missing, kw)
		}
	}
	if len(missing) > 0 {
		return &Issue{
			Rule:     r.Type(),
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("missing expected terms: %s", strings.Join(missing, ", ")),
			Required: r.Required,
		}
	}

	for _, kw := range r.Forbidden {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return &Issue{
				Rule:     r.Type(),
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("contains forbidden term %q", kw),
				Required: r.Required,
			}
		}
	}
	return nil
}

// Supported FormatRule formats.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatCode     = "code"
)

var (
	markdownHeaderRe = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
	codeFenceRe      = regexp.MustCompile("(?s)```.+```")
)

// FormatRule checks that the output is well formed in a given format.
type FormatRule struct {
	Format   string `json:"format"`
	Required bool   `json:"required"`
}

func (r *FormatRule) Type() string     { return "format" }
func (r *FormatRule) IsRequired() bool { return r.Required }

func (r *FormatRule) Evaluate(output string) *Issue {
	switch r.Format {
	case FormatJSON:
		if !json.Valid([]byte(strings.TrimSpace(output))) {
			return r.fail("output is not valid JSON")
		}
	case FormatMarkdown:
		if !markdownHeaderRe.MatchString(output) {
			return r.fail("output has no markdown headers")
		}
	case FormatCode:
		if !codeFenceRe.MatchString(output) {
			return r.fail("output has no fenced code block")
		}
	}
	return nil
}

func (r *FormatRule) fail(msg string) *Issue {
	return &Issue{Rule: r.Type(), Severity: SeverityHigh, Message: msg, Required: r.Required}
}

// CoherenceRule applies cheap structural checks: sentence count, excessive
// repetition, and leftover placeholder text.
type CoherenceRule struct {
	MinSentences int  `json:"min_sentences,omitempty"`
	Required     bool `json:"required"`
}

var placeholderTerms = []string{"todo", "fixme", "tbd", "[placeholder]", "[insert", "lorem ipsum"}

func (r *CoherenceRule) Type() string     { return "coherence" }
func (r *CoherenceRule) IsRequired() bool { return r.Required }

func (r *CoherenceRule) Evaluate(output string) *Issue {
	lower := strings.ToLower(output)
	for _, term := range placeholderTerms {
		if strings.Contains(lower, term) {
			return &Issue{
				Rule:     r.Type(),
				Severity: SeverityMedium,
				Message:  fmt.Sprintf("contains placeholder text: %s", term),
				Required: r.Required,
			}
		}
	}

	minSentences := r.MinSentences
	if minSentences <= 0 {
		minSentences = 1
	}
	if countSentences(output) < minSentences {
		return &Issue{
			Rule:     r.Type(),
			Severity: SeverityLow,
			Message:  fmt.Sprintf("fewer than %d complete sentences", minSentences),
			Required: r.Required,
		}
	}

	if ratio := repeatedSentenceRatio(output); ratio > 0.5 {
		return &Issue{
			Rule:     r.Type(),
			Severity: SeverityMedium,
			Message:  "output repeats the same sentences",
			Required: r.Required,
		}
	}
	return nil
}

func countSentences(s string) int {
	n := 0
	for _, sentence := range splitSentences(s) {
		if len(strings.Fields(sentence)) > 0 {
			n++
		}
	}
	return n
}

func repeatedSentenceRatio(s string) float64 {
	sentences := splitSentences(s)
	if len(sentences) < 2 {
		return 0
	}
	seen := make(map[string]bool, len(sentences))
	dupes := 0
	for _, sentence := range sentences {
		key := strings.ToLower(strings.TrimSpace(sentence))
		if key == "" {
			continue
		}
		if seen[key] {
			dupes++
		}
		seen[key] = true
	}
	return float64(dupes) / float64(len(sentences))
}

func splitSentences(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
}
