package workflow

import (
	"strings"
)

// Interpolate substitutes {{input}}, {{output}}, every {{metadata_key}},
// and every {{step_id.output}} found in history into a prompt template.
// Step ids are sanitized to [A-Za-z0-9_] before building the placeholder.
// Unresolved placeholders are left as literal text.
func Interpolate(template string, c *Context) string {
	if !strings.Contains(template, "{{") {
		return template
	}

	pairs := make([]string, 0, 4+2*len(c.Metadata)+2*len(c.History))
	pairs = append(pairs,
		"{{input}}", c.Input,
		"{{output}}", c.Output,
	)
	for k, v := range c.Metadata {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	// Most recent execution of a step wins.
	stepOutputs := make(map[string]string, len(c.History))
	for _, entry := range c.History {
		stepOutputs[sanitizeStepID(entry.Step)] = entry.Output
	}
	for id, out := range stepOutputs {
		pairs = append(pairs, "{{"+id+".output}}", out)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func sanitizeStepID(id string) string {
	var sb strings.Builder
	sb.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
