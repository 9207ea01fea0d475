package workflow

import (
	"context"
	"time"
)

// Store persists workflow instances. Implementations live in the store
// package; lookups for unknown ids return an error wrapping
// ErrWorkflowNotFound.
type Store interface {
	PutWorkflow(ctx context.Context, w *Instance) error
	GetWorkflow(ctx context.Context, id string) (*Instance, error)
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflows(ctx context.Context) ([]*Instance, error)
}

// Backup is a point-in-time snapshot of an instance.
type Backup struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Instance   *Instance `json:"instance"`
	CreatedAt  time.Time `json:"created_at"`
}

// BackupStore persists snapshots, keyed by workflow id. LatestBackup and
// GetBackup return an error wrapping ErrNoBackup when nothing matches.
type BackupStore interface {
	PutBackup(ctx context.Context, b *Backup) error
	GetBackup(ctx context.Context, workflowID, backupID string) (*Backup, error)
	LatestBackup(ctx context.Context, workflowID string) (*Backup, error)
}
