// Package apierr defines the control plane's error taxonomy (spec §7) and
// maps each kind to an HTTP status and a stable symbolic error code.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a taxonomy member.
type Kind string

const (
	KindValidation       Kind = "validation_error"
	KindUnauthenticated  Kind = "unauthenticated"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindNoEligibleClust  Kind = "no_eligible_cluster"
	KindTransient        Kind = "transient"
	KindTimeout          Kind = "execution_timeout"
	KindFatal            Kind = "fatal"
	KindAgentNotFound    Kind = "agent_not_found"
	KindAgentNotActive   Kind = "agent_not_active"
	KindExecutionFailed  Kind = "execution_failed"
)

// Error is a taxonomy-tagged error carrying a human-readable message and,
// optionally, the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Code returns the stable symbolic error code surfaced to callers as
// error.code (spec §7).
func (e *Error) Code() string { return string(e.Kind) }

// HTTPStatus maps the error kind to the HTTP status the public API surface
// should return.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound, KindAgentNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindNoEligibleClust, KindAgentNotActive, KindExecutionFailed, KindTimeout:
		return http.StatusUnprocessableEntity
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newErr(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, Cause: cause}
}

func Validation(msg string) *Error              { return newErr(KindValidation, msg, nil) }
func Unauthenticated(msg string) *Error         { return newErr(KindUnauthenticated, msg, nil) }
func Forbidden(msg string) *Error               { return newErr(KindForbidden, msg, nil) }
func NotFound(msg string) *Error                { return newErr(KindNotFound, msg, nil) }
func Conflict(msg string) *Error                { return newErr(KindConflict, msg, nil) }
func NoEligibleCluster(msg string) *Error        { return newErr(KindNoEligibleClust, msg, nil) }
func Transient(msg string, cause error) *Error  { return newErr(KindTransient, msg, cause) }
func Timeout(msg string) *Error                 { return newErr(KindTimeout, msg, nil) }
func Fatal(msg string, cause error) *Error      { return newErr(KindFatal, msg, cause) }
func AgentNotFound(msg string) *Error           { return newErr(KindAgentNotFound, msg, nil) }
func AgentNotActive(msg string) *Error          { return newErr(KindAgentNotActive, msg, nil) }
func ExecutionFailed(msg string) *Error         { return newErr(KindExecutionFailed, msg, nil) }

// As reports whether err is (or wraps) an *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsTransient reports whether err should be retried by the workflow engine's
// own step-level backoff (spec §7).
func IsTransient(err error) bool {
	e, ok := As(err)
	return ok && e.Kind == KindTransient
}
