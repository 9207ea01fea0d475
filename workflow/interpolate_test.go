package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterpolate(t *testing.T) {
	c := &Context{
		Input:    "the question",
		Output:   "the latest answer",
		Metadata: map[string]string{"audience": "engineers", "tone": "formal"},
		History: []HistoryEntry{
			{Step: "research", Output: "three findings"},
			{Step: "draft-v1", Output: "rough draft"},
		},
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"input", "Q: {{input}}", "Q: the question"},
		{"output", "So far: {{output}}", "So far: the latest answer"},
		{"metadata", "For {{audience}}, keep it {{tone}}", "For engineers, keep it formal"},
		{"step output", "Based on {{research.output}}", "Based on three findings"},
		{"sanitized step id", "From {{draftv1.output}}", "From rough draft"},
		{"unresolved left literal", "Keep {{unknown}} and {{ghost.output}}", "Keep {{unknown}} and {{ghost.output}}"},
		{"no placeholders", "plain text", "plain text"},
		{"mixed", "{{input}} -> {{research.output}} ({{unknown}})", "the question -> three findings ({{unknown}})"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpolate(tt.template, c))
		})
	}
}

func TestInterpolateLatestExecutionWins(t *testing.T) {
	c := &Context{
		History: []HistoryEntry{
			{Step: "draft", Output: "first attempt"},
			{Step: "draft", Output: "second attempt"},
		},
	}
	assert.Equal(t, "second attempt", Interpolate("{{draft.output}}", c))
}

func TestSanitizeStepID(t *testing.T) {
	assert.Equal(t, "step_1", sanitizeStepID("step_1"))
	assert.Equal(t, "draftv2", sanitizeStepID("draft-v2!"))
	assert.Equal(t, "", sanitizeStepID("..."))
}
