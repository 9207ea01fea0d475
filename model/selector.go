package model

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Requirements describes what a workflow step needs from a model.
type Requirements struct {
	// TaskType is the kind of work ("code", "vision", "analysis", "chat").
	// Used for the task-alignment score component.
	TaskType string `json:"task_type"`

	// Required capabilities are hard filters.
	Required Capabilities `json:"required"`

	// MinContextWindow filters out models with smaller context windows.
	MinContextWindow int `json:"min_context_window,omitempty"`

	// MaxCost is an optional per-request USD ceiling, evaluated against the
	// estimated token counts below. Zero means no ceiling.
	MaxCost float64 `json:"max_cost,omitempty"`

	// QualityThreshold filters out models whose performance score is lower.
	QualityThreshold float64 `json:"quality_threshold,omitempty"`

	// Priority picks the scoring preset.
	Priority Priority `json:"priority"`

	// EstimatedInputTokens and EstimatedOutputTokens size the request for
	// cost estimation. Zero values fall back to nominal sizes.
	EstimatedInputTokens  int `json:"estimated_input_tokens,omitempty"`
	EstimatedOutputTokens int `json:"estimated_output_tokens,omitempty"`
}

// Nominal request sizes used for cost estimation when the caller does not
// supply estimates.
const (
	defaultInputTokens  = 1000
	defaultOutputTokens = 500
)

// maxFallbacks caps the fallback chain returned by Select.
const maxFallbacks = 3

// capabilityBonus is added per extra useful capability beyond the hard
// requirements (vision, function calling, large context).
const capabilityBonus = 0.02

// Selection is the result of ranking models for a requirement set.
type Selection struct {
	// Primary is the top-ranked model.
	Primary *Info `json:"primary"`

	// Fallbacks are the next best models, at most three.
	Fallbacks []*Info `json:"fallbacks,omitempty"`

	// EstimatedCost is the USD cost of the request on the primary model.
	EstimatedCost float64 `json:"estimated_cost"`

	// Confidence reflects how decisively the primary won, in [0,1].
	Confidence float64 `json:"confidence"`

	// Reasoning is a human-readable summary of why the primary was chosen.
	Reasoning string `json:"reasoning"`
}

// Selector ranks models against task requirements using weighted scoring
// presets. Safe for concurrent use.
type Selector struct {
	registry *Registry
	presets  map[Priority]Weights
}

// NewSelector creates a selector with the default weight presets.
func NewSelector(registry *Registry) *Selector {
	return &Selector{
		registry: registry,
		presets:  DefaultWeightPresets(),
	}
}

// NewSelectorWithPresets creates a selector with configured presets.
// The presets must pass ValidatePresets.
func NewSelectorWithPresets(registry *Registry, presets map[Priority]Weights) (*Selector, error) {
	if err := ValidatePresets(presets); err != nil {
		return nil, err
	}
	return &Selector{registry: registry, presets: presets}, nil
}

// Registry exposes the underlying registry so callers can feed metric updates
// back after invocations.
func (s *Selector) Registry() *Registry {
	return s.registry
}

// scored pairs a model with its computed score components.
type scored struct {
	info       *Info
	score      float64
	components map[string]float64
}

// Select ranks the models the user can invoke and returns the best match with
// up to three fallbacks.
//
// accessible lists the model IDs the user holds provider credentials for; nil
// means every registered model. exclude removes models already tried (used by
// retry paths to avoid reselecting a failing model).
func (s *Selector) Select(ctx context.Context, req Requirements, accessible []string, exclude map[string]bool) (*Selection, error) {
	all, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	candidates := filterAccessible(all, accessible, exclude)
	if len(candidates) == 0 {
		return nil, ErrNoAccessibleModel
	}

	capable := s.filterCapable(candidates, req)
	if len(capable) == 0 {
		return nil, fmt.Errorf("%w: task=%s priority=%s", ErrNoCapableModel, req.TaskType, req.Priority)
	}

	weights, ok := s.presets[req.Priority]
	if !ok {
		weights = s.presets[PriorityBalanced]
	}

	ranked := make([]scored, 0, len(capable))
	for _, m := range capable {
		sc, components := scoreModel(m, req, weights)
		ranked = append(ranked, scored{info: m, score: sc, components: components})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	primary := ranked[0]
	fallbacks := make([]*Info, 0, maxFallbacks)
	for _, sc := range ranked[1:] {
		if len(fallbacks) == maxFallbacks {
			break
		}
		fallbacks = append(fallbacks, sc.info)
	}

	inTokens, outTokens := req.EstimatedInputTokens, req.EstimatedOutputTokens
	if inTokens == 0 {
		inTokens = defaultInputTokens
	}
	if outTokens == 0 {
		outTokens = defaultOutputTokens
	}

	return &Selection{
		Primary:       primary.info,
		Fallbacks:     fallbacks,
		EstimatedCost: primary.info.Pricing.Cost(inTokens, outTokens),
		Confidence:    selectionConfidence(ranked),
		Reasoning:     buildReasoning(primary, req.Priority),
	}, nil
}

// filterAccessible keeps models the user can invoke and that are not excluded.
func filterAccessible(all []*Info, accessible []string, exclude map[string]bool) []*Info {
	var allowed map[string]bool
	if accessible != nil {
		allowed = make(map[string]bool, len(accessible))
		for _, id := range accessible {
			allowed[id] = true
		}
	}

	out := make([]*Info, 0, len(all))
	for _, m := range all {
		if allowed != nil && !allowed[m.ID] {
			continue
		}
		if exclude[m.ID] {
			continue
		}
		out = append(out, m)
	}
	return out
}

// filterCapable applies the hard requirement filters.
func (s *Selector) filterCapable(candidates []*Info, req Requirements) []*Info {
	inTokens, outTokens := req.EstimatedInputTokens, req.EstimatedOutputTokens
	if inTokens == 0 {
		inTokens = defaultInputTokens
	}
	if outTokens == 0 {
		outTokens = defaultOutputTokens
	}

	out := make([]*Info, 0, len(candidates))
	for _, m := range candidates {
		if !m.Capabilities.Satisfies(req.Required) {
			continue
		}
		if req.MinContextWindow > 0 && m.ContextWindow < req.MinContextWindow {
			continue
		}
		if req.MaxCost > 0 && m.Pricing.Cost(inTokens, outTokens) > req.MaxCost {
			continue
		}
		if req.QualityThreshold > 0 && m.Metrics.Performance < req.QualityThreshold {
			continue
		}
		out = append(out, m)
	}
	return out
}

// scoreModel computes the weighted score plus a small bonus for extra useful
// capabilities beyond the hard requirements.
func scoreModel(m *Info, req Requirements, w Weights) (float64, map[string]float64) {
	components := map[string]float64{
		"task_alignment": taskAlignment(req.TaskType, m.Capabilities),
		"quality":        m.Metrics.Performance,
		"speed":          m.Metrics.Speed,
		"cost":           m.Metrics.CostEfficiency,
		"reliability":    m.Metrics.Reliability,
	}

	score := w.TaskAlignment*components["task_alignment"] +
		w.Quality*components["quality"] +
		w.Speed*components["speed"] +
		w.Cost*components["cost"] +
		w.Reliability*components["reliability"]

	if m.Capabilities.Vision && !req.Required.Vision {
		score += capabilityBonus
	}
	if m.Capabilities.FunctionCalling && !req.Required.FunctionCalling {
		score += capabilityBonus
	}
	if m.Capabilities.LargeContext && !req.Required.LargeContext {
		score += capabilityBonus
	}

	return score, components
}

// taskAlignment scores how well the model's capabilities match the task type.
func taskAlignment(taskType string, caps Capabilities) float64 {
	switch taskType {
	case "code":
		if caps.Code {
			return 1.0
		}
		return 0.4
	case "vision":
		if caps.Vision {
			return 1.0
		}
		return 0.0
	case "analysis":
		if caps.LargeContext {
			return 1.0
		}
		return 0.6
	case "extraction":
		if caps.JSONMode || caps.FunctionCalling {
			return 1.0
		}
		return 0.5
	default:
		if caps.Text {
			return 0.8
		}
		return 0.5
	}
}

// selectionConfidence scores how decisively the primary won: a clear gap to
// the runner-up yields high confidence, a photo finish less so.
func selectionConfidence(ranked []scored) float64 {
	if len(ranked) == 1 {
		return clamp01(ranked[0].score)
	}
	gap := ranked[0].score - ranked[1].score
	return clamp01(0.5 + ranked[0].score/2 + gap)
}

// buildReasoning summarizes which score components were strong for the chosen
// model.
func buildReasoning(top scored, priority Priority) string {
	names := map[string]string{
		"task_alignment": "task fit",
		"quality":        "quality",
		"speed":          "speed",
		"cost":           "cost efficiency",
		"reliability":    "reliability",
	}

	var strong []string
	for _, key := range []string{"task_alignment", "quality", "speed", "cost", "reliability"} {
		if top.components[key] >= 0.7 {
			strong = append(strong, names[key])
		}
	}

	if len(strong) == 0 {
		return fmt.Sprintf("%s is the best available match for %s priority", top.info.ID, priority)
	}
	return fmt.Sprintf("%s selected for %s priority: strong %s", top.info.ID, priority, strings.Join(strong, ", "))
}
