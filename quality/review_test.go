package quality

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memReviewStore is an in-memory ReviewStore for tests. The canonical
// implementations live in the store package.
type memReviewStore struct {
	mu      sync.Mutex
	reviews map[string]*ReviewRequest
}

func newMemReviewStore() *memReviewStore {
	return &memReviewStore{reviews: make(map[string]*ReviewRequest)}
}

func (s *memReviewStore) PutReview(_ context.Context, req *ReviewRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.reviews[req.ID] = &cp
	return nil
}

func (s *memReviewStore) GetReview(_ context.Context, id string) (*ReviewRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.reviews[id]
	if !ok {
		return nil, ErrReviewNotFound
	}
	cp := *req
	return &cp, nil
}

func TestRequestReviewAndPoll(t *testing.T) {
	reviewer := NewReviewer(newMemReviewStore())
	ctx := context.Background()

	id, err := reviewer.RequestReview(ctx, &ReviewRequest{
		WorkflowID: "wf-1",
		StepID:     "draft",
		Content:    "questionable output",
		Issues:     []Issue{{Rule: "keywords", Severity: SeverityHigh, Message: "forbidden term"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = reviewer.GetFeedback(ctx, id)
	assert.ErrorIs(t, err, ErrReviewPending)

	err = reviewer.Complete(ctx, id, &Feedback{
		Approved:        true,
		Feedback:        "fine after a second look",
		CorrectedOutput: "cleaned output",
	})
	require.NoError(t, err)

	feedback, err := reviewer.GetFeedback(ctx, id)
	require.NoError(t, err)
	assert.True(t, feedback.Approved)
	assert.Equal(t, "cleaned output", feedback.CorrectedOutput)
}

func TestRequestReviewValidation(t *testing.T) {
	reviewer := NewReviewer(newMemReviewStore())
	_, err := reviewer.RequestReview(context.Background(), &ReviewRequest{})
	assert.Error(t, err)
}

func TestGetFeedbackUnknownID(t *testing.T) {
	reviewer := NewReviewer(newMemReviewStore())
	_, err := reviewer.GetFeedback(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrReviewNotFound)
}

func TestPriorityFromIssues(t *testing.T) {
	assert.Equal(t, "low", priorityFromIssues(nil))
	assert.Equal(t, "medium", priorityFromIssues([]Issue{{Severity: SeverityMedium}}))
	assert.Equal(t, "high", priorityFromIssues([]Issue{
		{Severity: SeverityLow},
		{Severity: SeverityHigh},
	}))
}

func TestRequestReviewDerivesPriority(t *testing.T) {
	store := newMemReviewStore()
	reviewer := NewReviewer(store)

	id, err := reviewer.RequestReview(context.Background(), &ReviewRequest{
		Content: "output",
		Issues:  []Issue{{Severity: SeverityHigh}},
	})
	require.NoError(t, err)

	stored, err := store.GetReview(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "high", stored.Priority)
	assert.Equal(t, ReviewStatusPending, stored.Status)
}
