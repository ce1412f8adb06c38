// Package errors defines the structured error taxonomy of the repository.
//
// Every error crossing a package boundary is an *Error carrying a Code, the
// item path it is about (when known), an HTTP status for the API surface and
// an optional wrapped cause. Use [Is] with the sentinel values to test the
// category of an error.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies the category of an error.
type ErrorCode string

const (
	// ErrNotFound is returned when an item (node or property) is absent.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrPathNotFound is returned when a structural precondition on a path fails.
	ErrPathNotFound ErrorCode = "PATH_NOT_FOUND"
	// ErrItemExists is returned when a destination path is already taken.
	ErrItemExists ErrorCode = "ITEM_EXISTS"
	// ErrNoSuchWorkspace is returned when a workspace name is unknown.
	ErrNoSuchWorkspace ErrorCode = "NO_SUCH_WORKSPACE"
	// ErrReferentialIntegrity is returned when a delete is blocked by a strong reference.
	ErrReferentialIntegrity ErrorCode = "REFERENTIAL_INTEGRITY"
	// ErrValueFormat is returned when a property value fails its type grammar.
	ErrValueFormat ErrorCode = "VALUE_FORMAT"
	// ErrRepository is returned for generic backend failures.
	ErrRepository ErrorCode = "REPOSITORY_ERROR"
	// ErrNotImplemented is returned for declared but absent capabilities.
	ErrNotImplemented ErrorCode = "NOT_IMPLEMENTED"
	// ErrUnsupportedOperation is returned when a descriptor disables an operation.
	ErrUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"

	// ErrValidationFailed is returned when API input fails validation.
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrUnauthorized is returned when authentication is missing or invalid.
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrRateLimited is returned when a client exceeded its request budget.
	ErrRateLimited ErrorCode = "RATE_LIMITED"
)

// statusCodes maps each code to the HTTP status used by the API.
var statusCodes = map[ErrorCode]int{
	ErrNotFound:             http.StatusNotFound,
	ErrPathNotFound:         http.StatusNotFound,
	ErrItemExists:           http.StatusConflict,
	ErrNoSuchWorkspace:      http.StatusNotFound,
	ErrReferentialIntegrity: http.StatusConflict,
	ErrValueFormat:          http.StatusBadRequest,
	ErrRepository:           http.StatusInternalServerError,
	ErrNotImplemented:       http.StatusNotImplemented,
	ErrUnsupportedOperation: http.StatusMethodNotAllowed,
	ErrValidationFailed:     http.StatusBadRequest,
	ErrUnauthorized:         http.StatusUnauthorized,
	ErrRateLimited:          http.StatusTooManyRequests,
}

// ErrorWithStatus is an error that includes an HTTP status code and error code.
type ErrorWithStatus interface {
	Error() string
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// Error is the concrete error type of the repository.
type Error struct {
	code       ErrorCode
	message    string
	path       string
	details    map[string]any
	wrappedErr error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// WithPath records the item path the error is about.
func (e *Error) WithPath(path string) *Error {
	e.path = path
	return e
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *Error) Wrap(err error) *Error {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Path returns the item path the error is about, if any.
func (e *Error) Path() string {
	return e.path
}

// StatusCode returns the HTTP status code.
func (e *Error) StatusCode() int {
	if s, ok := statusCodes[e.code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Details returns additional error details, including the path.
func (e *Error) Details() map[string]any {
	if e.path == "" {
		return e.details
	}
	d := make(map[string]any, len(e.details)+1)
	for k, v := range e.details {
		d[k] = v
	}
	d["path"] = e.path
	return d
}

// Unwrap returns the wrapped error if any.
func (e *Error) Unwrap() error {
	return e.wrappedErr
}

// Is reports whether target is an *Error with the same code. It makes the
// package sentinels usable with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.message == "" && t.code == e.code
}

// Sentinels for errors.Is comparisons; they match any *Error with the same code.
var (
	NotFoundErr             = &Error{code: ErrNotFound}
	PathNotFoundErr         = &Error{code: ErrPathNotFound}
	ItemExistsErr           = &Error{code: ErrItemExists}
	NoSuchWorkspaceErr      = &Error{code: ErrNoSuchWorkspace}
	ReferentialIntegrityErr = &Error{code: ErrReferentialIntegrity}
	ValueFormatErr          = &Error{code: ErrValueFormat}
	RepositoryErr           = &Error{code: ErrRepository}
	NotImplementedErr       = &Error{code: ErrNotImplemented}
	UnsupportedOperationErr = &Error{code: ErrUnsupportedOperation}
)

// Is is errors.Is, re-exported so callers importing this package under its
// natural name keep access to it.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As, re-exported for the same reason as Is.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// CodeOf returns the code of the first *Error in err's chain, or ErrRepository.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.code
	}
	return ErrRepository
}

// Cause returns the most specific *Error in err's chain: the first one whose
// code is not ErrRepository, else the first one. It returns nil when the
// chain holds none.
func Cause(err error) *Error {
	var first *Error
	for ; err != nil; err = stderrors.Unwrap(err) {
		e, ok := err.(*Error)
		if !ok {
			continue
		}
		if e.code != ErrRepository {
			return e
		}
		if first == nil {
			first = e
		}
	}
	return first
}

// Predefined error constructors for common cases

// NotFound reports an absent item.
func NotFound(path string) *Error {
	return Newf(ErrNotFound, "item %s not found", path).WithPath(path)
}

// PathNotFound reports a failed structural precondition on path.
func PathNotFound(message, path string) *Error {
	return New(ErrPathNotFound, message).WithPath(path)
}

// ItemExists reports a destination collision.
func ItemExists(path string) *Error {
	return Newf(ErrItemExists, "item %s already exists", path).WithPath(path)
}

// NoSuchWorkspace reports an unknown workspace name.
func NoSuchWorkspace(name string) *Error {
	return Newf(ErrNoSuchWorkspace, "workspace %q does not exist", name).WithDetail("workspace", name)
}

// ReferentialIntegrity reports a delete blocked by live strong references.
func ReferentialIntegrity(path string, referrers []string) *Error {
	return Newf(ErrReferentialIntegrity, "cannot delete item at %s, there is at least one item with a reference to it", path).
		WithPath(path).WithDetail("referrers", referrers)
}

// ValueFormat reports a property value failing its type grammar.
func ValueFormat(path, message string) *Error {
	return Newf(ErrValueFormat, "invalid value at %s: %s", path, message).WithPath(path)
}

// Repository wraps a backend failure with the path being processed.
func Repository(message, path string, err error) *Error {
	return New(ErrRepository, message).WithPath(path).Wrap(err)
}

// InvalidPath reports a malformed path.
func InvalidPath(path string) *Error {
	return Newf(ErrRepository, "path is not well-formed or contains invalid characters: %s", path).WithPath(path)
}

// NotImplemented reports a declared but absent capability.
func NotImplemented(feature string) *Error {
	return Newf(ErrNotImplemented, "%s is not yet implemented", feature)
}

// UnsupportedOperation reports an operation disabled by the repository descriptors.
func UnsupportedOperation(operation string) *Error {
	return Newf(ErrUnsupportedOperation, "%s is not supported by this repository", operation)
}

// BadRequest reports invalid API input.
func BadRequest(message string) *Error {
	return New(ErrValidationFailed, message)
}

// MissingField reports a missing API input field.
func MissingField(fieldName string) *Error {
	return Newf(ErrValidationFailed, "missing required field: %s", fieldName)
}

// Unauthorized reports missing or invalid credentials.
func Unauthorized(message string) *Error {
	return New(ErrUnauthorized, message)
}
