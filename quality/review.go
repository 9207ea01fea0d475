package quality

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Review sentinels.
var (
	ErrReviewPending  = errors.New("review pending")
	ErrReviewNotFound = errors.New("review not found")
)

// Review request lifecycle.
const (
	ReviewStatusPending   = "pending"
	ReviewStatusCompleted = "completed"
)

// ReviewRequest is a persisted request for a human to judge an output the
// gate could not clear on its own.
type ReviewRequest struct {
	ID          string     `json:"id"`
	WorkflowID  string     `json:"workflow_id,omitempty"`
	StepID      string     `json:"step_id,omitempty"`
	Content     string     `json:"content"`
	Issues      []Issue    `json:"issues,omitempty"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Set by the reviewer.
	Approved        bool   `json:"approved"`
	Feedback        string `json:"feedback,omitempty"`
	CorrectedOutput string `json:"corrected_output,omitempty"`
}

// Feedback is the reviewer's verdict.
type Feedback struct {
	Approved        bool   `json:"approved"`
	Feedback        string `json:"feedback,omitempty"`
	CorrectedOutput string `json:"corrected_output,omitempty"`
}

// ReviewStore persists review requests. Implementations live in the store
// package; lookups for unknown ids return ErrReviewNotFound.
type ReviewStore interface {
	PutReview(ctx context.Context, req *ReviewRequest) error
	GetReview(ctx context.Context, id string) (*ReviewRequest, error)
}

// Reviewer is the human-in-the-loop side of the gate. It is the only part
// of the engine that halts automated progress pending an external actor.
type Reviewer struct {
	store ReviewStore
}

// NewReviewer creates a Reviewer over a store.
func NewReviewer(store ReviewStore) *Reviewer {
	return &Reviewer{store: store}
}

// RequestReview persists a pending review request and returns its id.
// Priority is derived from the worst issue severity when not set.
func (r *Reviewer) RequestReview(ctx context.Context, req *ReviewRequest) (string, error) {
	if req.Content == "" {
		return "", fmt.Errorf("review request needs content")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Priority == "" {
		req.Priority = priorityFromIssues(req.Issues)
	}
	req.Status = ReviewStatusPending
	req.CreatedAt = time.Now()

	if err := r.store.PutReview(ctx, req); err != nil {
		return "", fmt.Errorf("persisting review request: %w", err)
	}
	return req.ID, nil
}

// GetFeedback returns the reviewer's verdict, or ErrReviewPending while the
// request is still open. Callers poll.
func (r *Reviewer) GetFeedback(ctx context.Context, id string) (*Feedback, error) {
	req, err := r.store.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != ReviewStatusCompleted {
		return nil, ErrReviewPending
	}
	return &Feedback{
		Approved:        req.Approved,
		Feedback:        req.Feedback,
		CorrectedOutput: req.CorrectedOutput,
	}, nil
}

// Complete records a verdict on a pending request.
func (r *Reviewer) Complete(ctx context.Context, id string, feedback *Feedback) error {
	req, err := r.store.GetReview(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	req.Status = ReviewStatusCompleted
	req.CompletedAt = &now
	req.Approved = feedback.Approved
	req.Feedback = feedback.Feedback
	req.CorrectedOutput = feedback.CorrectedOutput
	return r.store.PutReview(ctx, req)
}

func priorityFromIssues(issues []Issue) string {
	priority := "low"
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityHigh:
			return "high"
		case SeverityMedium:
			priority = "medium"
		}
	}
	return priority
}
