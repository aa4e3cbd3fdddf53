package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrCollaborator        = errors.New("collaborator failure")
	ErrLedgerUnavailable   = errors.New("credit ledger unavailable")
	ErrStoreUnavailable    = errors.New("figure store unavailable")
	ErrQueueUnavailable    = errors.New("queue unavailable")
	ErrAlreadyTerminal     = errors.New("figure already terminal")
)

// ValidationError describes the first rejected field of a request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
