package gonk

import (
	"errors"
	"fmt"
)

// ValidationError reports an event that failed a precondition against the
// projected state. Code is a short machine-readable reason; Detail is for
// humans.
type ValidationError struct {
	Code   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("validation failed: %s", e.Code)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Code, e.Detail)
}

func Validationf(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// IntegrityError reports a digest, chain, or signature mismatch.
type IntegrityError struct {
	Code   string
	Detail string
}

func (e *IntegrityError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("integrity failure: %s", e.Code)
	}
	return fmt.Sprintf("integrity failure: %s: %s", e.Code, e.Detail)
}

func Integrityf(code, format string, args ...any) *IntegrityError {
	return &IntegrityError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a lookup miss for an entity or event.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func NotFoundf(kind, format string, args ...any) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: fmt.Sprintf(format, args...)}
}

// ErrConflict is returned when a concurrent writer won the race; callers may
// retry the operation.
var ErrConflict = errors.New("conflicting write, retry")

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsIntegrity reports whether err is (or wraps) an IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
