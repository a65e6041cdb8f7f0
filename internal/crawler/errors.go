package crawler

import (
	"errors"
	"strings"
)

// Sentinel errors returned by the repository and lifecycle service.
var (
	ErrNotFound        = errors.New("crawler not found")
	ErrAlreadyExists   = errors.New("crawler already exists")
	ErrVersionConflict = errors.New("crawler version conflict")
	ErrValidation      = errors.New("crawler request is invalid")
)

// ValidationError carries the ordered violations of a rejected request.
type ValidationError struct {
	Violations []Violation
}

// NewValidationError returns nil when there are no violations.
func NewValidationError(v []Violation) error {
	if len(v) == 0 {
		return nil
	}
	return &ValidationError{Violations: v}
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Field+": "+v.Message)
	}
	return ErrValidation.Error() + ": " + strings.Join(msgs, "; ")
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
