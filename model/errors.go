package model

import "errors"

// Selection errors surfaced to callers before any cost is incurred.
var (
	// ErrNoAccessibleModel is returned when the user has no credentials for
	// any registered model (or everything was excluded).
	ErrNoAccessibleModel = errors.New("no accessible model")

	// ErrNoCapableModel is returned when accessible models exist but none
	// satisfies the hard requirements.
	ErrNoCapableModel = errors.New("no model satisfies requirements")

	// ErrUnknownModel is returned when a metrics update references a model
	// the store does not know.
	ErrUnknownModel = errors.New("unknown model")
)
