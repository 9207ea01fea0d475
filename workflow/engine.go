package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/semflow/budget"
	"github.com/c360studio/semflow/llm"
	"github.com/c360studio/semflow/model"
	"github.com/c360studio/semflow/quality"
)

// Invoker sends a prompt to a model. Satisfied by llm.Client.
type Invoker interface {
	Invoke(ctx context.Context, m *model.Info, prompt string) (*llm.Invocation, error)
}

// ModelSelector ranks models for a requirement set. Satisfied by
// model.Selector.
type ModelSelector interface {
	Select(ctx context.Context, req model.Requirements, accessible []string, exclude map[string]bool) (*model.Selection, error)
}

// MetricsUpdater records observed latency, success, and quality per model.
// Satisfied by model.Registry.
type MetricsUpdater interface {
	UpdateMetrics(ctx context.Context, id string, latency time.Duration, success bool, qualityScore *float64) error
}

// Admission gates spending before invocation and records usage after.
// Satisfied by budget.Monitor.
type Admission interface {
	CanMakeRequest(ctx context.Context, userID string, estimatedCost float64) (*budget.Decision, error)
	LogUsage(ctx context.Context, rec *budget.Record) error
}

// QualityGate validates step outputs. Satisfied by quality.Gate.
type QualityGate interface {
	Check(output, stepType string, rules []quality.Rule) *quality.CheckResult
}

// Recorder receives execution counters. Satisfied by observe.Metrics.
type Recorder interface {
	StepExecuted(success bool, duration time.Duration)
	ModelSelected(modelID string)
	AdmissionDecision(allowed, warned bool)
	SpendRecorded(usd float64)
}

// AccessFunc resolves the model IDs a user holds credentials for. A nil
// return means every registered model.
type AccessFunc func(ctx context.Context, userID string) []string

// Engine is the orchestration coordinator. All state lives in the injected
// stores; engine instances hold no workflow data of their own and several
// can run against the same store.
type Engine struct {
	store     Store
	backups   BackupStore
	templates *TemplateRegistry
	selector  ModelSelector
	admission Admission
	gate      QualityGate
	invoker   Invoker

	metrics    MetricsUpdater
	recorder   Recorder
	emitter    Emitter
	corrector  *quality.Corrector
	reviewer   *quality.Reviewer
	accessible AccessFunc
	priority   model.Priority
	logger     *slog.Logger

	// Per-workflow mutexes serialize access at the persistence boundary.
	// Operations on different workflows never contend.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithBackupStore enables Backup and Restore.
func WithBackupStore(backups BackupStore) EngineOption {
	return func(e *Engine) { e.backups = backups }
}

// WithMetricsUpdater feeds invocation outcomes back into the model registry.
func WithMetricsUpdater(m MetricsUpdater) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithRecorder wires execution counters.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithEmitter sets the progress event sink.
func WithEmitter(emitter Emitter) EngineOption {
	return func(e *Engine) { e.emitter = emitter }
}

// WithCorrector enables the self-correction loop for outputs that fail
// the quality gate.
func WithCorrector(c *quality.Corrector) EngineOption {
	return func(e *Engine) { e.corrector = c }
}

// WithReviewer enables human-review escalation.
func WithReviewer(r *quality.Reviewer) EngineOption {
	return func(e *Engine) { e.reviewer = r }
}

// WithAccessFunc sets the per-user accessible model resolver.
func WithAccessFunc(f AccessFunc) EngineOption {
	return func(e *Engine) { e.accessible = f }
}

// WithDefaultPriority sets the selection priority used for every step.
func WithDefaultPriority(p model.Priority) EngineOption {
	return func(e *Engine) { e.priority = p }
}

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine over its collaborators.
func NewEngine(store Store, templates *TemplateRegistry, selector ModelSelector, admission Admission, gate QualityGate, invoker Invoker, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		templates: templates,
		selector:  selector,
		admission: admission,
		gate:      gate,
		invoker:   invoker,
		emitter:   NopEmitter{},
		priority:  model.PriorityBalanced,
		logger:    slog.Default(),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Create instantiates a workflow from a template, snapshotting its steps,
// and persists the initial pending record.
func (e *Engine) Create(ctx context.Context, userID, templateID, input string, metadata map[string]string) (string, error) {
	t, err := e.templates.Get(templateID)
	if err != nil {
		return "", err
	}

	merged := make(map[string]string, len(t.Metadata)+len(metadata))
	for k, v := range t.Metadata {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}

	now := time.Now()
	w := &Instance{
		ID:         uuid.NewString(),
		UserID:     userID,
		TemplateID: templateID,
		Status:     StatusPending,
		Steps:      append([]Step(nil), t.Steps...),
		Context:    Context{Input: input, Metadata: merged},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if len(w.Steps) > 0 {
		w.CurrentStep = w.Steps[0].ID
	}
	w.RetryBudget = make(map[string]int, len(w.Steps))
	for _, step := range w.Steps {
		w.RetryBudget[step.ID] = step.RetryCount
	}

	if err := e.store.PutWorkflow(ctx, w); err != nil {
		return "", fmt.Errorf("persisting workflow: %w", err)
	}
	e.logger.Info("workflow created", "workflow_id", w.ID, "template", templateID, "user", userID)
	return w.ID, nil
}

// Get returns a workflow instance.
func (e *Engine) Get(ctx context.Context, id string) (*Instance, error) {
	return e.store.GetWorkflow(ctx, id)
}

// ExecuteStep runs one step: it transitions the workflow to running,
// selects a model, passes the admission gate, invokes the model with the
// interpolated prompt, validates the output, appends a history entry, and
// persists the updated state. Execution failures are reported in the
// result and move the workflow to failed; the returned error covers only
// resolution problems (unknown workflow or step, unmet dependencies,
// illegal transition).
func (e *Engine) ExecuteStep(ctx context.Context, workflowID, stepID string) (*ExecutionResult, error) {
	lock := e.lockFor(workflowID)
	lock.Lock()

	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	step, err := w.Step(stepID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	for _, dep := range step.Dependencies {
		if !w.Context.HasExecuted(dep) {
			lock.Unlock()
			return nil, fmt.Errorf("%w: step %s needs %s", ErrDependenciesNotMet, stepID, dep)
		}
	}
	if err := w.Transition(StatusRunning, "executing "+stepID); err != nil {
		lock.Unlock()
		return nil, err
	}
	w.CurrentStep = stepID
	e.persist(ctx, w)
	snapshot := w.Context.Clone()
	userID := w.UserID
	lock.Unlock()

	e.emitter.Emit(&Event{Type: EventStep, WorkflowID: workflowID, StepID: stepID, Status: StatusRunning, Timestamp: time.Now()})

	result := e.invokeStep(ctx, userID, workflowID, step, snapshot)

	lock.Lock()
	defer lock.Unlock()
	w, err = e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return result, err
	}
	e.commit(ctx, w, step, result)
	return result, nil
}

// ExecuteParallelSteps runs the listed steps concurrently, each against
// its own copy of the context, and returns every result once all steps
// have settled. A failure in one step does not cancel the others.
func (e *Engine) ExecuteParallelSteps(ctx context.Context, workflowID string, stepIDs []string) ([]*ExecutionResult, error) {
	lock := e.lockFor(workflowID)
	lock.Lock()

	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	steps := make([]*Step, len(stepIDs))
	for i, id := range stepIDs {
		step, err := w.Step(id)
		if err != nil {
			lock.Unlock()
			return nil, err
		}
		for _, dep := range step.Dependencies {
			if !w.Context.HasExecuted(dep) {
				lock.Unlock()
				return nil, fmt.Errorf("%w: step %s needs %s", ErrDependenciesNotMet, id, dep)
			}
		}
		steps[i] = step
	}
	if err := w.Transition(StatusRunning, "executing parallel steps"); err != nil {
		lock.Unlock()
		return nil, err
	}
	e.persist(ctx, w)
	snapshot := w.Context.Clone()
	userID := w.UserID
	lock.Unlock()

	results := make([]*ExecutionResult, len(steps))
	var wg sync.WaitGroup
	for i, step := range steps {
		wg.Add(1)
		go func(i int, step *Step) {
			defer wg.Done()
			e.emitter.Emit(&Event{Type: EventStep, WorkflowID: workflowID, StepID: step.ID, Status: StatusRunning, Timestamp: time.Now()})
			results[i] = e.invokeStep(ctx, userID, workflowID, step, snapshot.Clone())
		}(i, step)
	}
	wg.Wait()

	lock.Lock()
	defer lock.Unlock()
	w, err = e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return results, err
	}
	for i, step := range steps {
		e.commit(ctx, w, step, results[i])
	}
	return results, nil
}

// invokeStep performs the unlocked middle phase of a step execution:
// interpolation, selection, admission, invocation, and quality checking.
func (e *Engine) invokeStep(ctx context.Context, userID, workflowID string, step *Step, snapshot *Context) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{StepID: step.ID}
	fail := func(err error) *ExecutionResult {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	rules, err := step.BuildRules()
	if err != nil {
		return fail(err)
	}
	prompt := Interpolate(step.PromptTemplate, snapshot)

	req := model.Requirements{
		TaskType:             step.AgentType,
		Priority:             e.priority,
		EstimatedInputTokens: estimateTokens(prompt),
	}

	var accessible []string
	if e.accessible != nil {
		accessible = e.accessible(ctx, userID)
	}
	selection, err := e.selector.Select(ctx, req, accessible, nil)
	if err != nil {
		return fail(err)
	}
	if e.recorder != nil {
		e.recorder.ModelSelected(selection.Primary.ID)
	}

	decision, err := e.admission.CanMakeRequest(ctx, userID, selection.EstimatedCost)
	if err != nil {
		return fail(fmt.Errorf("admission check: %w", err))
	}
	if e.recorder != nil {
		e.recorder.AdmissionDecision(decision.Allowed, decision.Warning != "")
	}
	if !decision.Allowed {
		return fail(fmt.Errorf("%w: %s", budget.ErrBudgetExceeded, decision.Reason))
	}
	if decision.Warning != "" {
		e.logger.Warn("budget warning", "workflow_id", workflowID, "user", userID, "warning", decision.Warning)
	}

	candidates := candidateOrder(selection, step.Model)
	var inv *llm.Invocation
	var used, attempted *model.Info
	var lastErr error
	for _, m := range candidates {
		attempted = m
		attemptStart := time.Now()
		inv, lastErr = e.invokeWithTimeout(ctx, m, prompt, step.Timeout())
		if lastErr == nil {
			used = m
			break
		}
		if e.metrics != nil {
			_ = e.metrics.UpdateMetrics(ctx, m.ID, time.Since(attemptStart), false, nil)
		}
		e.logger.Warn("model invocation failed, trying fallback",
			"workflow_id", workflowID, "step", step.ID, "model", m.ID, "error", lastErr)
		if ctx.Err() != nil {
			break
		}
	}
	if used == nil {
		// Failed invocations still land in the ledger so analytics see the
		// attempt, priced at zero.
		if lerr := e.admission.LogUsage(ctx, &budget.Record{
			UserID:     userID,
			WorkflowID: workflowID,
			Provider:   attempted.Provider,
			Model:      attempted.Model,
			Latency:    time.Since(start),
			Status:     "error",
		}); lerr != nil {
			e.logger.Error("logging usage", "workflow_id", workflowID, "error", lerr)
		}
		return fail(fmt.Errorf("all models failed: %w", lastErr))
	}

	output := inv.Content
	check := e.gate.Check(output, step.AgentType, rules)
	if !check.Passed && e.corrector != nil {
		corrected, cErr := e.corrector.Correct(ctx, used, output, step.AgentType, rules)
		if cErr != nil {
			e.logger.Warn("self-correction failed", "workflow_id", workflowID, "step", step.ID, "error", cErr)
		} else if corrected.Improved {
			output = corrected.Output
			check = corrected.Result
		}
	}

	if e.metrics != nil {
		overall := check.Metrics.Overall
		_ = e.metrics.UpdateMetrics(ctx, used.ID, inv.Latency, true, &overall)
	}

	result.ModelID = used.ID
	result.Output = output
	result.Cost = used.Pricing.Cost(inv.InputTokens, inv.OutputTokens)
	result.Quality = check
	result.Metadata = map[string]any{
		"model":         used.ID,
		"input_tokens":  inv.InputTokens,
		"output_tokens": inv.OutputTokens,
	}

	// Quality failures do not fail the execution. A failing output is
	// surfaced as a warning or escalated for human review, with the
	// check attached to the result.
	if check.HumanReviewRequired && e.reviewer != nil {
		reviewID, rErr := e.reviewer.RequestReview(ctx, &quality.ReviewRequest{
			WorkflowID: workflowID,
			StepID:     step.ID,
			Content:    output,
			Issues:     check.Issues,
		})
		if rErr != nil {
			e.logger.Error("requesting human review", "workflow_id", workflowID, "step", step.ID, "error", rErr)
		} else {
			result.Metadata["review_id"] = reviewID
		}
	}

	if err := e.admission.LogUsage(ctx, &budget.Record{
		UserID:       userID,
		WorkflowID:   workflowID,
		Provider:     used.Provider,
		Model:        used.Model,
		InputTokens:  inv.InputTokens,
		OutputTokens: inv.OutputTokens,
		Cost:         result.Cost,
		Latency:      inv.Latency,
		Status:       "success",
	}); err != nil {
		e.logger.Error("logging usage", "workflow_id", workflowID, "error", err)
	}
	if e.recorder != nil {
		e.recorder.SpendRecorded(result.Cost)
	}

	e.emitter.Emit(&Event{Type: EventContent, WorkflowID: workflowID, StepID: step.ID, Content: output, Timestamp: time.Now()})
	e.emitter.Emit(&Event{
		Type:         EventUsage,
		WorkflowID:   workflowID,
		StepID:       step.ID,
		InputTokens:  inv.InputTokens,
		OutputTokens: inv.OutputTokens,
		Cost:         result.Cost,
		Model:        used.ID,
		Timestamp:    time.Now(),
	})

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

// invokeWithTimeout applies the step's declared timeout_ms as a context
// deadline on the model call.
func (e *Engine) invokeWithTimeout(ctx context.Context, m *model.Info, prompt string, timeout time.Duration) (*llm.Invocation, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return e.invoker.Invoke(ctx, m, prompt)
}

// commit applies a settled result to the instance under the workflow lock.
func (e *Engine) commit(ctx context.Context, w *Instance, step *Step, result *ExecutionResult) {
	if result.Success {
		w.Context.History = append(w.Context.History, HistoryEntry{
			Step:      step.ID,
			Timestamp: time.Now(),
			Input:     w.Context.Input,
			Output:    result.Output,
			Duration:  result.Duration,
		})
		w.Context.Output = result.Output
		if result.Cost > 0 {
			w.TotalCost += result.Cost
		}
		w.Progress = w.ComputeProgress()
		w.ErrorMessage = ""
		if w.Progress >= 100 {
			if err := w.Transition(StatusCompleted, "all steps executed"); err != nil {
				e.logger.Warn("completion transition", "workflow_id", w.ID, "error", err)
			}
		}
	} else {
		w.ErrorMessage = result.Error
		if err := w.Transition(StatusFailed, result.Error); err != nil {
			e.logger.Warn("failure transition", "workflow_id", w.ID, "error", err)
		}
		e.emitter.Emit(&Event{Type: EventError, WorkflowID: w.ID, StepID: step.ID, Message: result.Error, Timestamp: time.Now()})
	}
	e.persist(ctx, w)

	e.emitter.Emit(&Event{Type: EventStep, WorkflowID: w.ID, StepID: step.ID, Status: w.Status, Timestamp: time.Now()})
	if e.recorder != nil {
		e.recorder.StepExecuted(result.Success, result.Duration)
	}
}

// persist writes the instance through to the store. A write failure is
// logged and the in-memory state stands; the next successful write
// reconverges the store.
func (e *Engine) persist(ctx context.Context, w *Instance) {
	w.UpdatedAt = time.Now()
	if err := e.store.PutWorkflow(ctx, w); err != nil {
		e.logger.Error("persisting workflow", "workflow_id", w.ID, "error", err)
	}
}

// Pause transitions a running workflow to paused.
func (e *Engine) Pause(ctx context.Context, workflowID string) error {
	return e.transition(ctx, workflowID, StatusPaused, "paused by caller")
}

// Resume transitions a paused workflow back to running.
func (e *Engine) Resume(ctx context.Context, workflowID string) error {
	return e.transition(ctx, workflowID, StatusRunning, "resumed by caller")
}

// Cancel transitions a workflow to cancelled. In-flight model calls are
// not interrupted; cancellation is cooperative.
func (e *Engine) Cancel(ctx context.Context, workflowID string) error {
	return e.transition(ctx, workflowID, StatusCancelled, "cancelled by caller")
}

func (e *Engine) transition(ctx context.Context, workflowID string, next Status, reason string) error {
	lock := e.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()

	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if err := w.Transition(next, reason); err != nil {
		return err
	}
	e.persist(ctx, w)
	e.emitter.Emit(&Event{Type: EventStep, WorkflowID: workflowID, StepID: w.CurrentStep, Status: next, Timestamp: time.Now()})
	return nil
}

// RetryFailedStep decrements the step's remaining retry budget, floored
// at zero, and re-runs ExecuteStep.
func (e *Engine) RetryFailedStep(ctx context.Context, workflowID, stepID string) (*ExecutionResult, error) {
	lock := e.lockFor(workflowID)
	lock.Lock()

	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if _, err := w.Step(stepID); err != nil {
		lock.Unlock()
		return nil, err
	}
	if w.RetryBudget == nil {
		w.RetryBudget = make(map[string]int)
	}
	if remaining := w.RetryBudget[stepID]; remaining > 0 {
		w.RetryBudget[stepID] = remaining - 1
	} else {
		w.RetryBudget[stepID] = 0
		e.logger.Warn("retrying step with no budget remaining", "workflow_id", workflowID, "step", stepID)
	}
	e.persist(ctx, w)
	lock.Unlock()

	return e.ExecuteStep(ctx, workflowID, stepID)
}

// Progress derives completion from history length versus step count.
// Calling it twice without an intervening execution returns the same value.
func (e *Engine) Progress(ctx context.Context, workflowID string) (float64, error) {
	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	return w.ComputeProgress(), nil
}

// Backup snapshots the full workflow record and returns the backup id.
func (e *Engine) Backup(ctx context.Context, workflowID string) (string, error) {
	if e.backups == nil {
		return "", fmt.Errorf("no backup store configured")
	}
	lock := e.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()

	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}
	b := &Backup{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Instance:   w.Clone(),
		CreatedAt:  time.Now(),
	}
	if err := e.backups.PutBackup(ctx, b); err != nil {
		return "", fmt.Errorf("persisting backup: %w", err)
	}
	return b.ID, nil
}

// Restore replaces a workflow's state with a snapshot. An empty backupID
// selects the most recent snapshot.
func (e *Engine) Restore(ctx context.Context, workflowID, backupID string) error {
	if e.backups == nil {
		return fmt.Errorf("no backup store configured")
	}
	lock := e.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()

	var b *Backup
	var err error
	if backupID == "" {
		b, err = e.backups.LatestBackup(ctx, workflowID)
	} else {
		b, err = e.backups.GetBackup(ctx, workflowID, backupID)
	}
	if err != nil {
		return err
	}
	restored := b.Instance.Clone()
	e.persist(ctx, restored)
	return nil
}

// Cleanup deletes completed workflows whose last update predates the
// cutoff and returns how many were removed.
func (e *Engine) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	all, err := e.store.ListWorkflows(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, w := range all {
		if w.Status != StatusCompleted || !w.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := e.store.DeleteWorkflow(ctx, w.ID); err != nil {
			e.logger.Error("cleaning up workflow", "workflow_id", w.ID, "error", err)
			continue
		}
		e.dropLock(w.ID)
		removed++
	}
	return removed, nil
}

// dropLock releases the per-workflow lock entry once the workflow is gone,
// so the lock map does not grow with every workflow ever executed.
func (e *Engine) dropLock(id string) {
	e.mu.Lock()
	delete(e.locks, id)
	e.mu.Unlock()
}

// AutoRetryFailedSteps sweeps every failed workflow and retries its
// current step when retry budget remains. Returns how many retries ran.
// Intended to be called periodically.
func (e *Engine) AutoRetryFailedSteps(ctx context.Context) (int, error) {
	all, err := e.store.ListWorkflows(ctx)
	if err != nil {
		return 0, err
	}
	retried := 0
	for _, w := range all {
		if w.Status != StatusFailed || w.CurrentStep == "" {
			continue
		}
		if w.RetryBudget[w.CurrentStep] <= 0 {
			continue
		}
		if _, err := e.RetryFailedStep(ctx, w.ID, w.CurrentStep); err != nil {
			if errors.Is(err, ErrDependenciesNotMet) {
				continue
			}
			e.logger.Error("auto-retry", "workflow_id", w.ID, "step", w.CurrentStep, "error", err)
			continue
		}
		retried++
	}
	return retried, nil
}

// candidateOrder flattens a selection into an attempt order, moving the
// step's requested model hint to the front when it was selected at all.
func candidateOrder(selection *model.Selection, hint string) []*model.Info {
	candidates := append([]*model.Info{selection.Primary}, selection.Fallbacks...)
	if hint == "" {
		return candidates
	}
	for i, m := range candidates {
		if m.ID == hint && i > 0 {
			reordered := append([]*model.Info{m}, append(candidates[:i:i], candidates[i+1:]...)...)
			return reordered
		}
	}
	return candidates
}

// estimateTokens sizes a prompt for cost estimation, roughly four
// characters per token.
func estimateTokens(prompt string) int {
	return len(prompt) / 4
}
