package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTemplate() *Template {
	return &Template{
		ID:   "research-report",
		Name: "Research report",
		Steps: []Step{
			{ID: "research", Name: "Research", Type: StepSequential, AgentType: "research",
				PromptTemplate: "Research: {{input}}", OutputVariables: []string{"findings"}},
			{ID: "draft", Name: "Draft", Type: StepSequential, AgentType: "draft",
				PromptTemplate: "Write using {{research.output}}",
				Dependencies:   []string{"research"},
				InputVariables: []string{"findings"}},
		},
	}
}

func TestValidateTemplate(t *testing.T) {
	assert.NoError(t, ValidateTemplate(validTemplate()))
}

func TestValidateTemplateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Template)
		want   string
	}{
		{"no id", func(tpl *Template) { tpl.ID = "" }, "needs an id"},
		{"no steps", func(tpl *Template) { tpl.Steps = nil }, "no steps"},
		{"duplicate step id", func(tpl *Template) { tpl.Steps[1].ID = "research" }, "duplicate"},
		{"empty prompt", func(tpl *Template) { tpl.Steps[0].PromptTemplate = "" }, "no prompt"},
		{"negative retries", func(tpl *Template) { tpl.Steps[0].RetryCount = -1 }, "negative retry"},
		{"unknown dependency", func(tpl *Template) { tpl.Steps[1].Dependencies = []string{"ghost"} }, "unknown step"},
		{"self dependency", func(tpl *Template) { tpl.Steps[0].Dependencies = []string{"research"} }, "depends on itself"},
		{"unsatisfied input variable", func(tpl *Template) {
			tpl.Steps[1].InputVariables = []string{"sources"}
		}, "not produced"},
		{"bad rule spec", func(tpl *Template) {
			tpl.Steps[0].QualityRules = []RuleSpec{{Type: "telepathy"}}
		}, "unknown rule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := validTemplate()
			tt.mutate(tpl)
			err := ValidateTemplate(tpl)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateTemplateDetectsCycle(t *testing.T) {
	tpl := &Template{
		ID: "cyclic",
		Steps: []Step{
			{ID: "a", PromptTemplate: "p", Dependencies: []string{"c"}},
			{ID: "b", PromptTemplate: "p", Dependencies: []string{"a"}},
			{ID: "c", PromptTemplate: "p", Dependencies: []string{"b"}},
		},
	}
	err := ValidateTemplate(tpl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidateTemplateMetadataSatisfiesInputs(t *testing.T) {
	tpl := validTemplate()
	tpl.Steps[0].InputVariables = []string{"audience"}

	err := ValidateTemplate(tpl)
	require.Error(t, err)

	tpl.Metadata = map[string]string{"audience": "engineers"}
	assert.NoError(t, ValidateTemplate(tpl))
}

func TestTemplateRegistry(t *testing.T) {
	reg := NewTemplateRegistry()

	_, err := reg.Get("research-report")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	require.NoError(t, reg.Register(validTemplate()))

	got, err := reg.Get("research-report")
	require.NoError(t, err)
	assert.Equal(t, "Research report", got.Name)
	assert.Equal(t, []string{"research-report"}, reg.List())

	invalid := validTemplate()
	invalid.Steps = nil
	assert.Error(t, reg.Register(invalid), "invalid templates are rejected before registration")
}
