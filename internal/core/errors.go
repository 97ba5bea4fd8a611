package core

import "errors"

// Sentinel errors returned by the importer. Callers match with errors.Is;
// the messages are lowercase so MapError patterns can find them.
var (
	ErrNotFound               = errors.New("not found")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrInvalidStructuredValue = errors.New("invalid structured value")
	ErrTooManyImports         = errors.New("too many imports in progress")
)
