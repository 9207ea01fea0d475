package workflow

import (
	"fmt"
	"sync"
)

// Template is a reusable workflow definition. Steps are snapshotted into
// each instance at creation time.
type Template struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step            `json:"steps" yaml:"steps"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ValidateTemplate checks a template's step DAG before it is accepted:
// unique step ids, dependencies that reference real steps, no dependency
// cycles, and input variables that some earlier step or the workflow
// context can actually provide.
func ValidateTemplate(t *Template) error {
	if t.ID == "" {
		return fmt.Errorf("template needs an id")
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("template %s has no steps", t.ID)
	}

	byID := make(map[string]*Step, len(t.Steps))
	for i := range t.Steps {
		step := &t.Steps[i]
		if step.ID == "" {
			return fmt.Errorf("template %s: step %d has no id", t.ID, i)
		}
		if _, dup := byID[step.ID]; dup {
			return fmt.Errorf("template %s: duplicate step id %s", t.ID, step.ID)
		}
		if step.PromptTemplate == "" {
			return fmt.Errorf("template %s: step %s has no prompt template", t.ID, step.ID)
		}
		if step.RetryCount < 0 {
			return fmt.Errorf("template %s: step %s has negative retry count", t.ID, step.ID)
		}
		byID[step.ID] = step
	}

	for _, step := range t.Steps {
		for _, dep := range step.Dependencies {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("template %s: step %s depends on unknown step %s", t.ID, step.ID, dep)
			}
			if dep == step.ID {
				return fmt.Errorf("template %s: step %s depends on itself", t.ID, step.ID)
			}
		}
	}

	if cycle := findCycle(t.Steps); cycle != "" {
		return fmt.Errorf("template %s: dependency cycle through step %s", t.ID, cycle)
	}

	if err := checkVariables(t); err != nil {
		return fmt.Errorf("template %s: %w", t.ID, err)
	}

	// Rule specs must resolve against the registry now, not at runtime.
	for i := range t.Steps {
		if _, err := t.Steps[i].BuildRules(); err != nil {
			return fmt.Errorf("template %s: %w", t.ID, err)
		}
	}
	return nil
}

// findCycle runs a three-color DFS over the dependency edges and returns
// a step id on a cycle, or "".
func findCycle(steps []Step) string {
	deps := make(map[string][]string, len(steps))
	for _, step := range steps {
		deps[step.ID] = step.Dependencies
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if hit := visit(dep); hit != "" {
					return hit
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, step := range steps {
		if color[step.ID] == white {
			if hit := visit(step.ID); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// checkVariables verifies every declared input variable is produced by a
// dependency's output variables, by the template metadata, or by the
// built-in context variables.
func checkVariables(t *Template) error {
	produced := map[string]bool{"input": true, "output": true}
	for k := range t.Metadata {
		produced[k] = true
	}

	outputsByStep := make(map[string][]string, len(t.Steps))
	for _, step := range t.Steps {
		outputsByStep[step.ID] = step.OutputVariables
	}

	for _, step := range t.Steps {
		available := make(map[string]bool, len(produced))
		for k := range produced {
			available[k] = true
		}
		for _, dep := range step.Dependencies {
			for _, out := range outputsByStep[dep] {
				available[out] = true
			}
			available[dep+".output"] = true
		}
		for _, in := range step.InputVariables {
			if !available[in] {
				return fmt.Errorf("step %s: input variable %q is not produced by any dependency", step.ID, in)
			}
		}
	}
	return nil
}

// TemplateRegistry holds validated templates. Safe for concurrent use.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateRegistry creates an empty registry.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{templates: make(map[string]*Template)}
}

// Register validates and stores a template. Re-registering an id replaces
// the previous version.
func (r *TemplateRegistry) Register(t *Template) error {
	if err := ValidateTemplate(t); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
	return nil
}

// Get returns a template by id.
func (r *TemplateRegistry) Get(id string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return t, nil
}

// List returns the registered template ids.
func (r *TemplateRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	return ids
}
