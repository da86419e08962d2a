package types

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	// ErrProvider marks transient embedding backend failures.
	ErrProvider = errors.New("embedding provider unavailable")
)
