package contract

import "errors"

var (
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound is returned by targeted updates that matched no row.
	ErrNotFound = errors.New("record not found")
)
