// Package fault defines the error taxonomy shared by the storage engine,
// the data model, and the identity layer.
//
// Propagation policy:
//   - Connection/Schema faults during startup are fatal.
//   - During steady-state request handling every fault is caught at the
//     operation boundary and returned as a structured failure envelope.
//   - Audit faults are logged and swallowed; they never change the outcome
//     of the operation that triggered the audit write.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a fault for propagation decisions.
type Kind int

const (
	// KindConnection: a handle cannot be acquired, or a lock wait timed
	// out. Retryable.
	KindConnection Kind = iota + 1

	// KindSchema: a required structural object is missing or invalid and
	// could not be repaired. Not retryable.
	KindSchema

	// KindValidation: malformed caller input.
	KindValidation

	// KindNotFound: the referenced session/message/memory entry is absent.
	KindNotFound

	// KindAuthentication: the presented token is malformed, expired, or
	// carries an invalid signature.
	KindAuthentication

	// KindAuthorization: the identity lacks a required permission.
	KindAuthorization

	// KindAudit: an audit write failed. Non-fatal, logged only.
	KindAudit
)

// Stable machine-readable failure codes surfaced to callers.
const (
	CodeConnection        = "CONNECTION_ERROR"
	CodeSchema            = "SCHEMA_ERROR"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeInvalidVisibility = "INVALID_VISIBILITY"
	CodeInvalidMetadata   = "INVALID_METADATA"
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeMessageNotFound   = "MESSAGE_NOT_FOUND"
	CodeMemoryNotFound    = "MEMORY_NOT_FOUND"
	CodeMemoryLimit       = "MEMORY_LIMIT_EXCEEDED"
	CodeAuthFailed        = "AUTH_FAILED"
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeAuditFailed       = "AUDIT_FAILED"
	CodeInternal          = "INTERNAL_ERROR"
)

// Error is a classified fault carrying a stable code and optional
// self-correction context for the caller.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Context map[string]interface{}
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithContext attaches a key/value pair and returns the error for chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a fault with the given kind, code, and message.
func New(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a fault wrapping an underlying cause.
func Wrap(kind Kind, code string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Connection builds a retryable connection fault.
func Connection(err error, format string, args ...interface{}) *Error {
	return Wrap(KindConnection, CodeConnection, err, format, args...)
}

// Schema builds an unrecoverable schema fault.
func Schema(err error, format string, args ...interface{}) *Error {
	return Wrap(KindSchema, CodeSchema, err, format, args...)
}

// Validation builds a caller-input fault with the given stable code.
func Validation(code, format string, args ...interface{}) *Error {
	return New(KindValidation, code, format, args...)
}

// NotFound builds an absent-entity fault with the given stable code.
func NotFound(code, format string, args ...interface{}) *Error {
	return New(KindNotFound, code, format, args...)
}

// Authentication builds a token-validation fault.
func Authentication(format string, args ...interface{}) *Error {
	return New(KindAuthentication, CodeAuthFailed, format, args...)
}

// Authorization builds an insufficient-permission fault.
func Authorization(format string, args ...interface{}) *Error {
	return New(KindAuthorization, CodePermissionDenied, format, args...)
}

// Audit builds a non-fatal audit-write fault.
func Audit(err error, format string, args ...interface{}) *Error {
	return Wrap(KindAudit, CodeAuditFailed, err, format, args...)
}

// KindOf returns the fault kind of err, or 0 when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// CodeOf returns the stable failure code of err, or CodeInternal when err
// is not a classified fault.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeInternal
}

// ContextOf returns the self-correction context of err, if any.
func ContextOf(err error) map[string]interface{} {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Context
	}
	return nil
}

// Retryable reports whether the caller may retry the operation.
// Only connection faults (lock timeouts, acquisition failures) are.
func Retryable(err error) bool { return KindOf(err) == KindConnection }

// Is enables errors.Is(err, target) matching on kind+code.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Kind == te.Kind && (te.Code == "" || e.Code == te.Code)
}
