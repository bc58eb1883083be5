package domain

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Validation and capacity errors are terminal and
// surface to the ingestion caller; the rest are handled internally.
var (
	ErrDuplicateSignal   = errors.New("duplicate signal")
	ErrCapacityExceeded  = errors.New("open trade capacity exceeded")
	ErrOrphanExit        = errors.New("exit signal with no matching open trade")
	ErrChannelPermanent  = errors.New("permanent channel failure")
	ErrChannelTransient  = errors.New("transient channel failure")
	ErrConditionDisabled = errors.New("condition is not active")
)

// ValidationError rejects a malformed or unsigned signal synchronously.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid signal: " + e.Reason
	}
	return fmt.Sprintf("invalid signal: %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
