package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/c360studio/semflow/budget"
	"github.com/c360studio/semflow/model"
	"github.com/c360studio/semflow/quality"
	"github.com/c360studio/semflow/workflow"
)

// Redis key schema:
//
//	workflow:{id}           -> json workflow.Instance
//	workflows:index         -> set of workflow ids
//	usage:{user}:{yyyymmdd} -> list of json budget.Record
//	limits:{user}           -> json budget.Limits
//	model:{id}              -> json model.Info
//	models:index            -> set of model ids
//	backup:{wf}:{id}        -> json workflow.Backup
//	backups:{wf}            -> zset of backup ids scored by created unix
//	review:{id}             -> json quality.ReviewRequest
type RedisStore struct {
	client *redis.Client
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
	PoolSize int    `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Close releases the connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func workflowRK(id string) string { return "workflow:" + id }

func usageRK(userID string, ts time.Time) string {
	return fmt.Sprintf("usage:%s:%s", userID, ts.UTC().Format(kvDateFormat))
}

func limitsRK(userID string) string { return "limits:" + userID }

func modelRK(id string) string { return "model:" + id }

func backupRK(wfID, backupID string) string { return fmt.Sprintf("backup:%s:%s", wfID, backupID) }

func backupsIndexRK(wfID string) string { return "backups:" + wfID }

const (
	workflowsIndexRK = "workflows:index"
	modelsIndexRK    = "models:index"
)

func (r *RedisStore) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// PutWorkflow upserts a workflow instance.
func (r *RedisStore) PutWorkflow(ctx context.Context, w *workflow.Instance) error {
	if err := r.setJSON(ctx, workflowRK(w.ID), w); err != nil {
		return err
	}
	return r.client.SAdd(ctx, workflowsIndexRK, w.ID).Err()
}

// GetWorkflow retrieves a workflow instance by id.
func (r *RedisStore) GetWorkflow(ctx context.Context, id string) (*workflow.Instance, error) {
	var w workflow.Instance
	if err := r.getJSON(ctx, workflowRK(id), &w); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w: %s", workflow.ErrWorkflowNotFound, ErrNotFound, id)
		}
		return nil, err
	}
	return &w, nil
}

// DeleteWorkflow removes a workflow instance.
func (r *RedisStore) DeleteWorkflow(ctx context.Context, id string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, workflowRK(id))
	pipe.SRem(ctx, workflowsIndexRK, id)
	_, err := pipe.Exec(ctx)
	return err
}

// ListWorkflows returns every stored workflow instance.
func (r *RedisStore) ListWorkflows(ctx context.Context) ([]*workflow.Instance, error) {
	ids, err := r.client.SMembers(ctx, workflowsIndexRK).Result()
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	out := make([]*workflow.Instance, 0, len(ids))
	for _, id := range ids {
		var w workflow.Instance
		if err := r.getJSON(ctx, workflowRK(id), &w); err != nil {
			continue
		}
		out = append(out, &w)
	}
	return out, nil
}

// AppendUsage appends an immutable ledger row to the user's daily list.
func (r *RedisStore) AppendUsage(ctx context.Context, rec *budget.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal usage record: %w", err)
	}
	return r.client.RPush(ctx, usageRK(rec.UserID, rec.Timestamp), data).Err()
}

// UsageBetween returns a user's ledger rows in [from, to).
func (r *RedisStore) UsageBetween(ctx context.Context, userID string, from, to time.Time) ([]*budget.Record, error) {
	var out []*budget.Record
	for day := from.UTC().Truncate(24 * time.Hour); day.Before(to); day = day.AddDate(0, 0, 1) {
		rows, err := r.client.LRange(ctx, usageRK(userID, day), 0, -1).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("read usage for %s: %w", day.Format(kvDateFormat), err)
		}
		for _, raw := range rows {
			var rec budget.Record
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				continue
			}
			if rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
				continue
			}
			out = append(out, &rec)
		}
	}
	return out, nil
}

// GetLimits returns a user's configured limits.
func (r *RedisStore) GetLimits(ctx context.Context, userID string) (*budget.Limits, error) {
	var limits budget.Limits
	if err := r.getJSON(ctx, limitsRK(userID), &limits); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w: %s", budget.ErrNoLimits, ErrNotFound, userID)
		}
		return nil, err
	}
	return &limits, nil
}

// PutLimits upserts a user's limits.
func (r *RedisStore) PutLimits(ctx context.Context, limits *budget.Limits) error {
	return r.setJSON(ctx, limitsRK(limits.UserID), limits)
}

// ListModels returns every stored model record.
func (r *RedisStore) ListModels(ctx context.Context) ([]*model.Info, error) {
	ids, err := r.client.SMembers(ctx, modelsIndexRK).Result()
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	out := make([]*model.Info, 0, len(ids))
	for _, id := range ids {
		var m model.Info
		if err := r.getJSON(ctx, modelRK(id), &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}

// GetModel returns one model record.
func (r *RedisStore) GetModel(ctx context.Context, id string) (*model.Info, error) {
	var m model.Info
	if err := r.getJSON(ctx, modelRK(id), &m); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w: %s", model.ErrUnknownModel, ErrNotFound, id)
		}
		return nil, err
	}
	return &m, nil
}

// PutModel upserts a model record.
func (r *RedisStore) PutModel(ctx context.Context, m *model.Info) error {
	if err := r.setJSON(ctx, modelRK(m.ID), m); err != nil {
		return err
	}
	return r.client.SAdd(ctx, modelsIndexRK, m.ID).Err()
}

// UpdateModelMetrics updates a model's performance scores in place.
func (r *RedisStore) UpdateModelMetrics(ctx context.Context, id string, metrics model.Metrics) error {
	m, err := r.GetModel(ctx, id)
	if err != nil {
		return err
	}
	m.Metrics = metrics
	return r.PutModel(ctx, m)
}

// PutBackup stores a workflow snapshot.
func (r *RedisStore) PutBackup(ctx context.Context, b *workflow.Backup) error {
	if err := r.setJSON(ctx, backupRK(b.WorkflowID, b.ID), b); err != nil {
		return err
	}
	return r.client.ZAdd(ctx, backupsIndexRK(b.WorkflowID), redis.Z{
		Score:  float64(b.CreatedAt.UnixNano()),
		Member: b.ID,
	}).Err()
}

// GetBackup returns a specific snapshot.
func (r *RedisStore) GetBackup(ctx context.Context, workflowID, backupID string) (*workflow.Backup, error) {
	var b workflow.Backup
	if err := r.getJSON(ctx, backupRK(workflowID, backupID), &b); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w: %s", workflow.ErrNoBackup, ErrNotFound, backupID)
		}
		return nil, err
	}
	return &b, nil
}

// LatestBackup returns the most recent snapshot for a workflow.
func (r *RedisStore) LatestBackup(ctx context.Context, workflowID string) (*workflow.Backup, error) {
	ids, err := r.client.ZRevRange(ctx, backupsIndexRK(workflowID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("list backups for %s: %w", workflowID, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: %s", workflow.ErrNoBackup, workflowID)
	}
	return r.GetBackup(ctx, workflowID, ids[0])
}

// PutReview upserts a human review request.
func (r *RedisStore) PutReview(ctx context.Context, req *quality.ReviewRequest) error {
	return r.setJSON(ctx, "review:"+req.ID, req)
}

// GetReview returns a review request by id.
func (r *RedisStore) GetReview(ctx context.Context, id string) (*quality.ReviewRequest, error) {
	var req quality.ReviewRequest
	if err := r.getJSON(ctx, "review:"+id, &req); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w: %s", quality.ErrReviewNotFound, ErrNotFound, id)
		}
		return nil, err
	}
	return &req, nil
}
