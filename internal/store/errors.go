package store

import "errors"

var (
	// ErrConflict reports a write rejected by a uniqueness guard or a
	// compare-and-set that lost.
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
)
