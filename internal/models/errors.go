package models

import "errors"

// Error taxonomy shared by the store, the board service and the HTTP layer.
var (
	// ErrNotFound reports a missing board, list or task, or one the caller cannot see.
	ErrNotFound = errors.New("not found")
	// ErrForbidden reports that the caller lacks the role required by the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTarget reports a structurally impossible move or membership change.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrInvalidInput reports a malformed request value such as an empty title.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConsistency reports a torn position sequence detected inside a transaction.
	ErrConsistency = errors.New("position sequence inconsistent")
)
