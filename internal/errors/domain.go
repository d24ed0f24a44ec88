package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a domain error so callers can map it to a response
// without inspecting message text.
type Kind string

const (
	// KindNotFound means a referenced entity does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindConflict means the operation collides with existing state,
	// such as a duplicate hardware ID or a busy device.
	KindConflict Kind = "CONFLICT"
	// KindInvalidOperation means the entity exists but its current state
	// forbids the operation.
	KindInvalidOperation Kind = "INVALID_OPERATION"
	// KindResourceExhausted means no resource satisfies the request.
	KindResourceExhausted Kind = "RESOURCE_EXHAUSTED"
)

// DomainError carries a Kind alongside the message so call sites can
// branch on classification with the Is* helpers.
type DomainError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) error {
	return &DomainError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a KindConflict error.
func Conflict(format string, args ...any) error {
	return &DomainError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// InvalidOperation builds a KindInvalidOperation error.
func InvalidOperation(format string, args ...any) error {
	return &DomainError{Kind: KindInvalidOperation, Message: fmt.Sprintf(format, args...)}
}

// ResourceExhausted builds a KindResourceExhausted error.
func ResourceExhausted(format string, args ...any) error {
	return &DomainError{Kind: KindResourceExhausted, Message: fmt.Sprintf(format, args...)}
}

// kindOf extracts the Kind from err, or "" if err is not a DomainError.
func kindOf(err error) Kind {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsNotFound reports whether err is a KindNotFound domain error.
func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }

// IsConflict reports whether err is a KindConflict domain error.
func IsConflict(err error) bool { return kindOf(err) == KindConflict }

// IsInvalidOperation reports whether err is a KindInvalidOperation domain error.
func IsInvalidOperation(err error) bool { return kindOf(err) == KindInvalidOperation }

// IsResourceExhausted reports whether err is a KindResourceExhausted domain error.
func IsResourceExhausted(err error) bool { return kindOf(err) == KindResourceExhausted }
