package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLengthRule(t *testing.T) {
	rule := &LengthRule{MinLength: 10, MaxLength: 30, Required: true}

	assert.Nil(t, rule.Evaluate("just about long enough"))

	issue := rule.Evaluate("too short")
	require.NotNil(t, issue)
	assert.Equal(t, SeverityMedium, issue.Severity)
	assert.True(t, issue.Required)

	issue = rule.Evaluate("this output is well past the configured maximum length")
	require.NotNil(t, issue)
	assert.Equal(t, SeverityLow, issue.Severity)
}

func TestKeywordsRule(t *testing.T) {
	rule := &KeywordsRule{Keywords: []string{"Revenue", "growth"}}

	assert.Nil(t, rule.Evaluate("revenue GROWTH was strong"), "matching is case insensitive")

	issue := rule.Evaluate("revenue was strong")
	require.NotNil(t, issue)
	assert.Contains(t, issue.Message, "growth")
	assert.Equal(t, SeverityMedium, issue.Severity)
}

func TestKeywordsRuleForbidden(t *testing.T) {
	rule := &KeywordsRule{Forbidden: []string{"as an AI"}}

	assert.Nil(t, rule.Evaluate("here is the summary"))

	issue := rule.Evaluate("As an AI, I cannot do that")
	require.NotNil(t, issue)
	assert.Equal(t, SeverityHigh, issue.Severity)
}

func TestFormatRule(t *testing.T) {
	tests := []struct {
		name   string
		format string
		output string
		pass   bool
	}{
		{"valid json", FormatJSON, `{"ok": true}`, true},
		{"invalid json", FormatJSON, `{"ok": }`, false},
		{"markdown with header", FormatMarkdown, "# Title\n\nBody", true},
		{"markdown without header", FormatMarkdown, "just text", false},
		{"fenced code", FormatCode, "```go\nfunc main() {}\n```", true},
		{"no code fence", FormatCode, "func main() {}", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &FormatRule{Format: tt.format, Required: true}
			issue := rule.Evaluate(tt.output)
			if tt.pass {
				assert.Nil(t, issue)
			} else {
				require.NotNil(t, issue)
				assert.Equal(t, SeverityHigh, issue.Severity)
			}
		})
	}
}

func TestCoherenceRule(t *testing.T) {
	rule := &CoherenceRule{}

	assert.Nil(t, rule.Evaluate("This is a complete, coherent sentence."))

	issue := rule.Evaluate("The plan is solid. TODO: fill this in later.")
	require.NotNil(t, issue)
	assert.Contains(t, issue.Message, "placeholder")

	issue = rule.Evaluate("Same sentence. Same sentence. Same sentence. Same sentence.")
	require.NotNil(t, issue)
	assert.Contains(t, issue.Message, "repeats")
}

func TestBuildRuleFromRegistry(t *testing.T) {
	rule, err := BuildRule("length", map[string]any{"min_length": 200, "required": true})
	require.NoError(t, err)

	length, ok := rule.(*LengthRule)
	require.True(t, ok)
	assert.Equal(t, 200, length.MinLength)
	assert.True(t, length.IsRequired())

	// YAML decoding hands numbers over as float64.
	rule, err = BuildRule("length", map[string]any{"min_length": float64(50)})
	require.NoError(t, err)
	assert.Equal(t, 50, rule.(*LengthRule).MinLength)

	_, err = BuildRule("length", map[string]any{})
	assert.Error(t, err, "length rule with no bounds is rejected")

	_, err = BuildRule("telepathy", nil)
	assert.Error(t, err)
}

func TestBuildKeywordsRuleFromAnySlice(t *testing.T) {
	rule, err := BuildRule("keywords", map[string]any{
		"keywords": []any{"alpha", "beta"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, rule.(*KeywordsRule).Keywords)
}

func TestBuildFormatRuleRejectsUnknownFormat(t *testing.T) {
	_, err := BuildRule("format", map[string]any{"format": "xml"})
	assert.Error(t, err)
}

func TestRegisterRuleExtension(t *testing.T) {
	RegisterRule("always-pass", func(map[string]any) (Rule, error) {
		return &LengthRule{MaxLength: 1 << 30}, nil
	})

	assert.Contains(t, RuleTypes(), "always-pass")
	rule, err := BuildRule("always-pass", nil)
	require.NoError(t, err)
	assert.Nil(t, rule.Evaluate("anything"))
}
