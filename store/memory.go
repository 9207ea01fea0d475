package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/semflow/budget"
	"github.com/c360studio/semflow/model"
	"github.com/c360studio/semflow/quality"
	"github.com/c360studio/semflow/workflow"
)

// MemoryStore is an in-process implementation of every store interface,
// for tests and single-node development. Safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*workflow.Instance
	usage     []*budget.Record
	limits    map[string]*budget.Limits
	models    map[string]*model.Info
	backups   map[string][]*workflow.Backup
	reviews   map[string]*quality.ReviewRequest
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*workflow.Instance),
		limits:    make(map[string]*budget.Limits),
		models:    make(map[string]*model.Info),
		backups:   make(map[string][]*workflow.Backup),
		reviews:   make(map[string]*quality.ReviewRequest),
	}
}

// PutWorkflow upserts a workflow instance.
func (s *MemoryStore) PutWorkflow(_ context.Context, w *workflow.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.ID] = w.Clone()
	return nil
}

// GetWorkflow retrieves a workflow instance by id.
func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*workflow.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", workflow.ErrWorkflowNotFound, ErrNotFound, id)
	}
	return w.Clone(), nil
}

// DeleteWorkflow removes a workflow instance.
func (s *MemoryStore) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, id)
	return nil
}

// ListWorkflows returns every stored workflow instance.
func (s *MemoryStore) ListWorkflows(_ context.Context) ([]*workflow.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*workflow.Instance, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w.Clone())
	}
	return out, nil
}

// AppendUsage appends an immutable ledger row.
func (s *MemoryStore) AppendUsage(_ context.Context, rec *budget.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	cp := *rec
	s.usage = append(s.usage, &cp)
	return nil
}

// UsageBetween returns a user's ledger rows in [from, to).
func (s *MemoryStore) UsageBetween(_ context.Context, userID string, from, to time.Time) ([]*budget.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*budget.Record
	for _, rec := range s.usage {
		if rec.UserID != userID {
			continue
		}
		if rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

// GetLimits returns a user's configured limits.
func (s *MemoryStore) GetLimits(_ context.Context, userID string) (*budget.Limits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limits, ok := s.limits[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", budget.ErrNoLimits, ErrNotFound, userID)
	}
	cp := *limits
	return &cp, nil
}

// PutLimits upserts a user's limits.
func (s *MemoryStore) PutLimits(_ context.Context, limits *budget.Limits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *limits
	s.limits[limits.UserID] = &cp
	return nil
}

// ListModels returns every stored model record.
func (s *MemoryStore) ListModels(_ context.Context) ([]*model.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Info, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m.Clone())
	}
	return out, nil
}

// GetModel returns one model record.
func (s *MemoryStore) GetModel(_ context.Context, id string) (*model.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", model.ErrUnknownModel, ErrNotFound, id)
	}
	return m.Clone(), nil
}

// PutModel upserts a model record.
func (s *MemoryStore) PutModel(_ context.Context, m *model.Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.ID] = m.Clone()
	return nil
}

// UpdateModelMetrics updates a model's performance scores in place.
func (s *MemoryStore) UpdateModelMetrics(_ context.Context, id string, metrics model.Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[id]
	if !ok {
		return fmt.Errorf("%w: %w: %s", model.ErrUnknownModel, ErrNotFound, id)
	}
	m.Metrics = metrics
	return nil
}

// PutBackup stores a workflow snapshot.
func (s *MemoryStore) PutBackup(_ context.Context, b *workflow.Backup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	cp.Instance = b.Instance.Clone()
	s.backups[b.WorkflowID] = append(s.backups[b.WorkflowID], &cp)
	return nil
}

// GetBackup returns a specific snapshot.
func (s *MemoryStore) GetBackup(_ context.Context, workflowID, backupID string) (*workflow.Backup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.backups[workflowID] {
		if b.ID == backupID {
			cp := *b
			cp.Instance = b.Instance.Clone()
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %w: %s", workflow.ErrNoBackup, ErrNotFound, backupID)
}

// LatestBackup returns the most recent snapshot for a workflow.
func (s *MemoryStore) LatestBackup(_ context.Context, workflowID string) (*workflow.Backup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *workflow.Backup
	for _, b := range s.backups[workflowID] {
		if latest == nil || b.CreatedAt.After(latest.CreatedAt) {
			latest = b
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: %w: %s", workflow.ErrNoBackup, ErrNotFound, workflowID)
	}
	cp := *latest
	cp.Instance = latest.Instance.Clone()
	return &cp, nil
}

// PutReview upserts a human review request.
func (s *MemoryStore) PutReview(_ context.Context, req *quality.ReviewRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.reviews[req.ID] = &cp
	return nil
}

// GetReview returns a review request by id.
func (s *MemoryStore) GetReview(_ context.Context, id string) (*quality.ReviewRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.reviews[id]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", quality.ErrReviewNotFound, ErrNotFound, id)
	}
	cp := *req
	return &cp, nil
}
