// Package store provides the persistence backends for the engine: NATS
// JetStream KV, Redis, and an in-memory store for tests and development.
// Every backend implements the consumer-defined interfaces of the domain
// packages (workflow.Store, workflow.BackupStore, budget.LedgerStore,
// model.Store, quality.ReviewStore).
package store

import "errors"

// ErrNotFound is returned when a key does not exist. Domain lookups wrap
// it together with the domain sentinel, so both errors.Is checks hold.
var ErrNotFound = errors.New("not found")
