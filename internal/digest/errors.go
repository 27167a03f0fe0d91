package digest

import "errors"

var (
	// ErrStore marks object or staging store failures other than "not found".
	ErrStore = errors.New("store error")
	// ErrNotFound marks a missing canonical document or item.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed input or stored data.
	ErrValidation = errors.New("validation error")
	// ErrPollTimeout marks an exhausted poll. Callers treat it as "not ready".
	ErrPollTimeout = errors.New("timeout")
)
