package model

import "fmt"

// Priority selects a named scoring preset for model selection.
type Priority string

const (
	// PriorityCost favors cheap models.
	PriorityCost Priority = "cost"
	// PriorityQuality favors high performance scores.
	PriorityQuality Priority = "quality"
	// PrioritySpeed favors low-latency models.
	PrioritySpeed Priority = "speed"
	// PriorityBalanced weighs all components evenly-ish.
	PriorityBalanced Priority = "balanced"
)

// IsValid reports whether the priority names a known preset.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCost, PriorityQuality, PrioritySpeed, PriorityBalanced:
		return true
	}
	return false
}

// ParsePriority converts a string to a Priority, returning PriorityBalanced
// for unknown values.
func ParsePriority(s string) Priority {
	p := Priority(s)
	if !p.IsValid() {
		return PriorityBalanced
	}
	return p
}

// Weights are the scoring component weights for one priority preset.
// Each preset must sum to 1 (see Validate).
type Weights struct {
	TaskAlignment float64 `json:"task_alignment" yaml:"task_alignment"`
	Quality       float64 `json:"quality" yaml:"quality"`
	Speed         float64 `json:"speed" yaml:"speed"`
	Cost          float64 `json:"cost" yaml:"cost"`
	Reliability   float64 `json:"reliability" yaml:"reliability"`
}

// weightSumTolerance allows for float rounding in configured presets.
const weightSumTolerance = 1e-6

// Validate checks that every component is non-negative and the preset sums to 1.
func (w Weights) Validate() error {
	components := []struct {
		name  string
		value float64
	}{
		{"task_alignment", w.TaskAlignment},
		{"quality", w.Quality},
		{"speed", w.Speed},
		{"cost", w.Cost},
		{"reliability", w.Reliability},
	}

	sum := 0.0
	for _, c := range components {
		if c.value < 0 {
			return fmt.Errorf("weight %s must not be negative, got %g", c.name, c.value)
		}
		sum += c.value
	}

	if sum < 1-weightSumTolerance || sum > 1+weightSumTolerance {
		return fmt.Errorf("weights must sum to 1, got %g", sum)
	}
	return nil
}

// DefaultWeightPresets returns the built-in priority presets. Deployments can
// override these from configuration; overrides are validated at load time.
func DefaultWeightPresets() map[Priority]Weights {
	return map[Priority]Weights{
		PriorityCost: {
			TaskAlignment: 0.15,
			Quality:       0.10,
			Speed:         0.10,
			Cost:          0.50,
			Reliability:   0.15,
		},
		PriorityQuality: {
			TaskAlignment: 0.20,
			Quality:       0.50,
			Speed:         0.05,
			Cost:          0.10,
			Reliability:   0.15,
		},
		PrioritySpeed: {
			TaskAlignment: 0.15,
			Quality:       0.10,
			Speed:         0.50,
			Cost:          0.10,
			Reliability:   0.15,
		},
		PriorityBalanced: {
			TaskAlignment: 0.20,
			Quality:       0.25,
			Speed:         0.15,
			Cost:          0.20,
			Reliability:   0.20,
		},
	}
}

// ValidatePresets checks a full preset table. Every known priority must be
// present and each entry must sum to 1.
func ValidatePresets(presets map[Priority]Weights) error {
	for _, p := range []Priority{PriorityCost, PriorityQuality, PrioritySpeed, PriorityBalanced} {
		w, ok := presets[p]
		if !ok {
			return fmt.Errorf("missing weight preset for priority %q", p)
		}
		if err := w.Validate(); err != nil {
			return fmt.Errorf("preset %q: %w", p, err)
		}
	}
	return nil
}
