package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the generic missing-record error.
	ErrNotFound = errors.New("not found")
	// ErrTransactionNotFound is returned when a transaction id does not resolve.
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)
	// ErrAccountNotFound is returned when an account id does not resolve.
	ErrAccountNotFound = fmt.Errorf("account %w", ErrNotFound)
	// ErrCreditCardNotFound is returned when a credit card id does not resolve.
	ErrCreditCardNotFound = fmt.Errorf("credit card %w", ErrNotFound)
	// ErrWorkspaceNotFound is returned for unknown workspaces.
	ErrWorkspaceNotFound = fmt.Errorf("workspace %w", ErrNotFound)
	// ErrCategoryNotFound is returned when a category id does not resolve.
	ErrCategoryNotFound = fmt.Errorf("category %w", ErrNotFound)

	// ErrVersionConflict means a conditional balance write lost a race with a
	// concurrent writer.
	ErrVersionConflict = errors.New("account version conflict")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrForbidden is returned when a user is not a member of a workspace.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError rejects a command before any write happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Invalid builds a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
