package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semflow/budget"
	"github.com/c360studio/semflow/model"
	"github.com/c360studio/semflow/quality"
	"github.com/c360studio/semflow/workflow"
)

// Bucket names for each record type.
const (
	BucketWorkflows = "SEMFLOW_WORKFLOWS"
	BucketUsage     = "SEMFLOW_USAGE"
	BucketLimits    = "SEMFLOW_LIMITS"
	BucketModels    = "SEMFLOW_MODELS"
	BucketBackups   = "SEMFLOW_BACKUPS"
	BucketReviews   = "SEMFLOW_REVIEWS"
)

const kvDateFormat = "20060102"

// NATSStore persists engine state in NATS JetStream KV buckets.
type NATSStore struct {
	workflows jetstream.KeyValue
	usage     jetstream.KeyValue
	limits    jetstream.KeyValue
	models    jetstream.KeyValue
	backups   jetstream.KeyValue
	reviews   jetstream.KeyValue
}

// NewNATSStore creates the store, creating any missing buckets.
func NewNATSStore(ctx context.Context, js jetstream.JetStream) (*NATSStore, error) {
	s := &NATSStore{}
	buckets := []struct {
		name string
		dst  *jetstream.KeyValue
	}{
		{BucketWorkflows, &s.workflows},
		{BucketUsage, &s.usage},
		{BucketLimits, &s.limits},
		{BucketModels, &s.models},
		{BucketBackups, &s.backups},
		{BucketReviews, &s.reviews},
	}
	for _, b := range buckets {
		kv, err := getOrCreateBucket(ctx, js, b.name)
		if err != nil {
			return nil, fmt.Errorf("create %s bucket: %w", strings.ToLower(b.name), err)
		}
		*b.dst = kv
	}
	return s, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Semflow %s storage", strings.ToLower(strings.TrimPrefix(name, "SEMFLOW_"))),
		History:     5,
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound)
}

func putJSON(ctx context.Context, kv jetstream.KeyValue, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if _, err := kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func getJSON(ctx context.Context, kv jetstream.KeyValue, key string, v any) error {
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(entry.Value(), v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// PutWorkflow upserts a workflow instance.
func (s *NATSStore) PutWorkflow(ctx context.Context, w *workflow.Instance) error {
	return putJSON(ctx, s.workflows, w.ID, w)
}

// GetWorkflow retrieves a workflow instance by id.
func (s *NATSStore) GetWorkflow(ctx context.Context, id string) (*workflow.Instance, error) {
	var w workflow.Instance
	if err := getJSON(ctx, s.workflows, id, &w); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w: %s", workflow.ErrWorkflowNotFound, ErrNotFound, id)
		}
		return nil, err
	}
	return &w, nil
}

// DeleteWorkflow removes a workflow instance.
func (s *NATSStore) DeleteWorkflow(ctx context.Context, id string) error {
	if err := s.workflows.Delete(ctx, id); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete workflow %s: %w", id, err)
	}
	return nil
}

// ListWorkflows returns every stored workflow instance.
func (s *NATSStore) ListWorkflows(ctx context.Context) ([]*workflow.Instance, error) {
	keys, err := s.workflows.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list workflow keys: %w", err)
	}

	out := make([]*workflow.Instance, 0, len(keys))
	for _, key := range keys {
		var w workflow.Instance
		if err := getJSON(ctx, s.workflows, key, &w); err != nil {
			continue
		}
		out = append(out, &w)
	}
	return out, nil
}

// usageKey keys a ledger row by user, day, and record id so a user's rows
// for a period share a prefix.
func usageKey(userID string, ts time.Time, recID string) string {
	return fmt.Sprintf("%s.%s.%s", userID, ts.UTC().Format(kvDateFormat), recID)
}

// AppendUsage appends an immutable usage-ledger row.
func (s *NATSStore) AppendUsage(ctx context.Context, rec *budget.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal usage record: %w", err)
	}
	key := usageKey(rec.UserID, rec.Timestamp, rec.ID)
	if _, err := s.usage.Create(ctx, key, data); err != nil {
		return fmt.Errorf("store usage record: %w", err)
	}
	return nil
}

// UsageBetween returns a user's ledger rows in [from, to).
func (s *NATSStore) UsageBetween(ctx context.Context, userID string, from, to time.Time) ([]*budget.Record, error) {
	keys, err := s.usage.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list usage keys: %w", err)
	}

	prefix := userID + "."
	var out []*budget.Record
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var rec budget.Record
		if err := getJSON(ctx, s.usage, key, &rec); err != nil {
			continue
		}
		if rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

// GetLimits returns a user's configured limits.
func (s *NATSStore) GetLimits(ctx context.Context, userID string) (*budget.Limits, error) {
	var limits budget.Limits
	if err := getJSON(ctx, s.limits, userID, &limits); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w: %s", budget.ErrNoLimits, ErrNotFound, userID)
		}
		return nil, err
	}
	return &limits, nil
}

// PutLimits upserts a user's limits.
func (s *NATSStore) PutLimits(ctx context.Context, limits *budget.Limits) error {
	return putJSON(ctx, s.limits, limits.UserID, limits)
}

// modelKey flattens "provider/model" ids into a KV-safe key.
func modelKey(id string) string {
	return strings.ReplaceAll(id, "/", "_")
}

// ListModels returns every stored model record.
func (s *NATSStore) ListModels(ctx context.Context) ([]*model.Info, error) {
	keys, err := s.models.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list model keys: %w", err)
	}

	out := make([]*model.Info, 0, len(keys))
	for _, key := range keys {
		var m model.Info
		if err := getJSON(ctx, s.models, key, &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}

// GetModel returns one model record.
func (s *NATSStore) GetModel(ctx context.Context, id string) (*model.Info, error) {
	var m model.Info
	if err := getJSON(ctx, s.models, modelKey(id), &m); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w: %s", model.ErrUnknownModel, ErrNotFound, id)
		}
		return nil, err
	}
	return &m, nil
}

// PutModel upserts a model record.
func (s *NATSStore) PutModel(ctx context.Context, m *model.Info) error {
	return putJSON(ctx, s.models, modelKey(m.ID), m)
}

// UpdateModelMetrics updates a model's performance scores in place.
func (s *NATSStore) UpdateModelMetrics(ctx context.Context, id string, metrics model.Metrics) error {
	m, err := s.GetModel(ctx, id)
	if err != nil {
		return err
	}
	m.Metrics = metrics
	return s.PutModel(ctx, m)
}

func backupKey(workflowID, backupID string) string {
	return workflowID + "." + backupID
}

// PutBackup stores a workflow snapshot.
func (s *NATSStore) PutBackup(ctx context.Context, b *workflow.Backup) error {
	return putJSON(ctx, s.backups, backupKey(b.WorkflowID, b.ID), b)
}

// GetBackup returns a specific snapshot.
func (s *NATSStore) GetBackup(ctx context.Context, workflowID, backupID string) (*workflow.Backup, error) {
	var b workflow.Backup
	if err := getJSON(ctx, s.backups, backupKey(workflowID, backupID), &b); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w: %s", workflow.ErrNoBackup, ErrNotFound, backupID)
		}
		return nil, err
	}
	return &b, nil
}

// LatestBackup returns the most recent snapshot for a workflow.
func (s *NATSStore) LatestBackup(ctx context.Context, workflowID string) (*workflow.Backup, error) {
	keys, err := s.backups.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, fmt.Errorf("%w: %s", workflow.ErrNoBackup, workflowID)
		}
		return nil, fmt.Errorf("list backup keys: %w", err)
	}

	prefix := workflowID + "."
	var latest *workflow.Backup
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var b workflow.Backup
		if err := getJSON(ctx, s.backups, key, &b); err != nil {
			continue
		}
		if latest == nil || b.CreatedAt.After(latest.CreatedAt) {
			latest = &b
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: %s", workflow.ErrNoBackup, workflowID)
	}
	return latest, nil
}

// PutReview upserts a human review request.
func (s *NATSStore) PutReview(ctx context.Context, req *quality.ReviewRequest) error {
	return putJSON(ctx, s.reviews, req.ID, req)
}

// GetReview returns a review request by id.
func (s *NATSStore) GetReview(ctx context.Context, id string) (*quality.ReviewRequest, error) {
	var req quality.ReviewRequest
	if err := getJSON(ctx, s.reviews, id, &req); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w: %s", quality.ErrReviewNotFound, ErrNotFound, id)
		}
		return nil, err
	}
	return &req, nil
}
