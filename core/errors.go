/*
errors.go - Result taxonomy for the skill engine

PURPOSE:
  All request-level failures are one of a closed set of kinds. Every kind
  carries a stable error code and a human-readable explanation so the HTTP
  layer can render {errorCode, explanation} without guessing.

ERROR KINDS:
  Validation  - local input rule failed, nothing persisted
  Conflict    - duplicate identifier or stale version, nothing persisted
  Dependency  - self-loop, duplicate edge, or cycle; code FailedToAssignDependency
  UserLookup  - external directory could not resolve the user; code UserNotFound
  NotFound    - referenced project/subject/skill/edge does not exist

USAGE:
  Check with errors.Is against the sentinel of a kind, or KindOf(err):

    if errors.Is(err, core.ErrDependency) {
        // render 400 with FailedToAssignDependency
    }

SEE ALSO:
  - api/handlers.go: Maps kinds to HTTP statuses
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrDependency = errors.New("dependency rejected")
	ErrUserLookup = errors.New("user lookup failed")
	ErrNotFound   = errors.New("not found")

	// ErrTransactionFailed is returned when a store transaction cannot commit.
	ErrTransactionFailed = errors.New("transaction failed")
)

// =============================================================================
// ERROR CODES - Stable, rendered to clients
// =============================================================================

const (
	CodeInvalidInput             = "InvalidInput"
	CodeEventLimitReached        = "EventLimitReached"
	CodeSkillIDTaken             = "SkillIdTaken"
	CodeStaleSkillVersion        = "StaleSkillVersion"
	CodeProjectExists            = "ProjectExists"
	CodeSubjectExists            = "SubjectExists"
	CodeFailedToAssignDependency = "FailedToAssignDependency"
	CodeUserNotFound             = "UserNotFound"
	CodeUserLookupFailed         = "UserLookupFailed"
	CodeNotFound                 = "NotFound"
)

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindDependency
	KindUserLookup
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindDependency:
		return "dependency"
	case KindUserLookup:
		return "user_lookup"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindConflict:
		return ErrConflict
	case KindDependency:
		return ErrDependency
	case KindUserLookup:
		return ErrUserLookup
	case KindNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// Error is the single structured error type for request-level rejections.
type Error struct {
	Kind        Kind
	Code        string
	Explanation string
	Field       string // set for validation failures tied to one input
	Edge        *Edge  // set for dependency rejections
	Err         error  // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Explanation, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Explanation)
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func (e *Error) Unwrap() error { return e.Err }

// =============================================================================
// CONSTRUCTORS
// =============================================================================

func Validation(field, code, explanation string) *Error {
	return &Error{Kind: KindValidation, Code: code, Field: field, Explanation: explanation}
}

func Conflict(code, explanation string) *Error {
	return &Error{Kind: KindConflict, Code: code, Explanation: explanation}
}

func Dependency(edge Edge, explanation string) *Error {
	edge.Status = EdgeRejected
	return &Error{Kind: KindDependency, Code: CodeFailedToAssignDependency, Explanation: explanation, Edge: &edge}
}

func UserLookup(code, explanation string, cause error) *Error {
	return &Error{Kind: KindUserLookup, Code: code, Explanation: explanation, Err: cause}
}

func NotFound(explanation string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Explanation: explanation}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the kind of a structured error anywhere in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AsError extracts the structured error, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsClientError returns true if the caller must correct the request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrDependency) ||
		errors.Is(err, ErrUserLookup)
}

// IsNotFound returns true if the error references a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
