// Package workflow implements the orchestration state machine. It creates
// workflow instances from templates, executes steps by calling the model
// selector, the admission gate, and the quality gate in order, persists
// state after every transition, and supports pause, resume, cancel, retry,
// backup, and restore.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/semflow/quality"
)

// Sentinel errors surfaced by the engine.
var (
	ErrTemplateNotFound   = errors.New("template not found")
	ErrStepNotFound       = errors.New("step not found")
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrDependenciesNotMet = errors.New("step dependencies not met")
	ErrNoBackup           = errors.New("no backup found")
)

// Status is a workflow's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// validTransitions is the state machine. completed and cancelled are
// terminal; failed is retry-able back into running.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:  {StatusRunning, StatusCancelled},
	StatusFailed:  {StatusRunning, StatusCancelled},
}

// CanTransitionTo reports whether the transition s -> next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leads out of s.
func (s Status) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// StepType controls how a step is scheduled relative to its siblings.
type StepType string

const (
	StepSequential  StepType = "sequential"
	StepParallel    StepType = "parallel"
	StepConditional StepType = "conditional"
)

// RuleSpec is a quality rule reference in a step definition, resolved
// against the quality rule registry at execution time.
type RuleSpec struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Step is an immutable per-execution step definition, copied from the
// template when the workflow instance is created.
type Step struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Type           StepType `json:"type" yaml:"type"`
	AgentType      string   `json:"agent_type" yaml:"agent_type"`
	Model          string   `json:"model,omitempty" yaml:"model,omitempty"`
	PromptTemplate string   `json:"prompt_template" yaml:"prompt_template"`
	Dependencies   []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	TimeoutMS      int      `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	RetryCount     int      `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`

	InputVariables  []string `json:"input_variables,omitempty" yaml:"input_variables,omitempty"`
	OutputVariables []string `json:"output_variables,omitempty" yaml:"output_variables,omitempty"`

	QualityRules []RuleSpec `json:"quality_rules,omitempty" yaml:"quality_rules,omitempty"`
}

// Timeout returns the step's execution deadline, zero when unset.
func (s *Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// BuildRules resolves the step's rule specs against the rule registry.
func (s *Step) BuildRules() ([]quality.Rule, error) {
	if len(s.QualityRules) == 0 {
		return nil, nil
	}
	rules := make([]quality.Rule, 0, len(s.QualityRules))
	for _, spec := range s.QualityRules {
		rule, err := quality.BuildRule(spec.Type, spec.Params)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", s.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// HistoryEntry records one completed step execution.
type HistoryEntry struct {
	Step      string        `json:"step"`
	Timestamp time.Time     `json:"timestamp"`
	Input     string        `json:"input"`
	Output    string        `json:"output"`
	Duration  time.Duration `json:"duration"`
}

// Context carries a workflow's input, accumulated output, free-form
// metadata, and the append-only execution history.
type Context struct {
	Input    string            `json:"input"`
	Output   string            `json:"output"`
	Metadata map[string]string `json:"metadata,omitempty"`
	History  []HistoryEntry    `json:"history,omitempty"`
}

// Clone returns a deep copy.
func (c *Context) Clone() *Context {
	cp := Context{Input: c.Input, Output: c.Output}
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.History = append([]HistoryEntry(nil), c.History...)
	return &cp
}

// HasExecuted reports whether a step id appears in the history.
func (c *Context) HasExecuted(stepID string) bool {
	for _, entry := range c.History {
		if entry.Step == stepID {
			return true
		}
	}
	return false
}

// StatusChange is one entry in an instance's status history.
type StatusChange struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Instance is a workflow run.
type Instance struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	TemplateID  string `json:"template_id,omitempty"`
	Status      Status `json:"status"`
	CurrentStep string `json:"current_step,omitempty"`
	Steps       []Step `json:"steps"`

	Context Context `json:"context"`

	// Progress is completed steps over total steps, 0-100.
	Progress float64 `json:"progress"`

	// TotalCost only grows while the instance is running.
	TotalCost float64 `json:"total_cost"`

	ErrorMessage string `json:"error_message,omitempty"`

	// RetryBudget maps step id to remaining retries, floored at 0.
	RetryBudget map[string]int `json:"retry_budget,omitempty"`

	StatusHistory []StatusChange `json:"status_history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Step returns the step definition with the given id.
func (w *Instance) Step(id string) (*Step, error) {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrStepNotFound, id)
}

// Transition moves the instance to the next status, recording the change.
func (w *Instance) Transition(next Status, reason string) error {
	if w.Status == next {
		return nil
	}
	if !w.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.Status, next)
	}
	now := time.Now()
	w.StatusHistory = append(w.StatusHistory, StatusChange{
		From:   w.Status,
		To:     next,
		At:     now,
		Reason: reason,
	})
	w.Status = next
	w.UpdatedAt = now
	return nil
}

// Clone returns a deep copy of the instance.
func (w *Instance) Clone() *Instance {
	cp := *w
	cp.Steps = append([]Step(nil), w.Steps...)
	cp.Context = *w.Context.Clone()
	cp.StatusHistory = append([]StatusChange(nil), w.StatusHistory...)
	if w.RetryBudget != nil {
		cp.RetryBudget = make(map[string]int, len(w.RetryBudget))
		for k, v := range w.RetryBudget {
			cp.RetryBudget[k] = v
		}
	}
	return &cp
}

// ComputeProgress derives progress from history length versus step count.
func (w *Instance) ComputeProgress() float64 {
	if len(w.Steps) == 0 {
		return 0
	}
	done := 0
	for _, step := range w.Steps {
		if w.Context.HasExecuted(step.ID) {
			done++
		}
	}
	return float64(done) / float64(len(w.Steps)) * 100
}

// ExecutionResult is what a single step execution returns. Failures are
// reported here rather than as errors past the execution boundary.
type ExecutionResult struct {
	StepID   string         `json:"step_id"`
	Success  bool           `json:"success"`
	Output   string         `json:"output,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Duration time.Duration  `json:"duration"`
	Error    string         `json:"error,omitempty"`

	ModelID string               `json:"model_id,omitempty"`
	Cost    float64              `json:"cost,omitempty"`
	Quality *quality.CheckResult `json:"quality,omitempty"`
}
