// Package apperr defines the sentinel errors shared across waymark packages.
package apperr

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidWorkspace = errors.New("invalid workspace name")
	ErrInvalidDocument  = errors.New("invalid anchor document")

	// ErrNoTrackingData is returned when a placement or resolution targets a
	// reference whose tracking state is not Tracking.
	ErrNoTrackingData = errors.New("reference is not tracking")

	// ErrWriteFailure wraps any failure to persist a document.
	ErrWriteFailure = errors.New("write failure")

	// ErrReferenceLocked is returned under the single-lock policy when an
	// operation targets a reference other than the locked one.
	ErrReferenceLocked = errors.New("locked to another reference")

	// ErrNoPersistableKey is returned when an image reference has no label.
	ErrNoPersistableKey = errors.New("reference has no persistable key")
)
