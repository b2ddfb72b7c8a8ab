package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the machine-readable error value in a guard failure body
type Code string

const (
	CodeNoSession            Code = "no_session"
	CodeInvalidSession       Code = "invalid_session"
	CodeUnauthenticated      Code = "unauthenticated"
	CodeMissingTenant        Code = "missing_tenant"
	CodeMissingTenantContext Code = "missing_tenant_context"
	CodeForbidden            Code = "forbidden"
	CodeInsufficientRole     Code = "insufficient_role"
	CodeAgreementNotSigned   Code = "agreement_not_signed"
	CodeNotFound             Code = "not_found"
	CodeNoSubscription       Code = "no_subscription"
	CodeSubscriptionInactive Code = "subscription_inactive"
	CodeInternal             Code = "internal_error"
	CodeRateLimited          Code = "rate_limited"
	CodeUnavailable          Code = "service_unavailable"
)

// StatusFor maps a code to its HTTP status
func StatusFor(code Code) int {
	switch code {
	case CodeNoSession, CodeInvalidSession, CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeMissingTenant, CodeMissingTenantContext:
		return http.StatusBadRequest
	case CodeForbidden, CodeInsufficientRole, CodeAgreementNotSigned:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNoSubscription, CodeSubscriptionInactive:
		return http.StatusPaymentRequired
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsAuthentication reports whether the code should use the login presentation
// (redirect for browsers, 401 with login_url for API callers)
func (c Code) IsAuthentication() bool {
	return StatusFor(c) == http.StatusUnauthorized
}

// GuardError is a guard failure. Fields are merged into the JSON body;
// Cause is logged server-side and never rendered.
type GuardError struct {
	Code    Code
	Status  int
	Message string
	Fields  map[string]interface{}
	Cause   error
}

// NewGuardError creates a guard error with the status implied by code
func NewGuardError(code Code, message string) *GuardError {
	return &GuardError{
		Code:    code,
		Status:  StatusFor(code),
		Message: message,
	}
}

// Internal wraps a store or transport failure behind a generic message
func Internal(cause error) *GuardError {
	e := NewGuardError(CodeInternal, "An internal error occurred")
	e.Cause = cause
	return e
}

func (e *GuardError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GuardError) Unwrap() error {
	return e.Cause
}

// With returns a copy with an extra body field
func (e *GuardError) With(key string, value interface{}) *GuardError {
	cp := *e
	cp.Fields = make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		cp.Fields[k] = v
	}
	cp.Fields[key] = value
	return &cp
}

// Body returns the JSON body: error, message and any extra fields
func (e *GuardError) Body() map[string]interface{} {
	body := make(map[string]interface{}, len(e.Fields)+2)
	for k, v := range e.Fields {
		body[k] = v
	}
	body["error"] = string(e.Code)
	body["message"] = e.Message
	return body
}

// AsGuardError extracts a *GuardError from err
func AsGuardError(err error) (*GuardError, bool) {
	var ge *GuardError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// IsCode reports whether err is a guard error carrying code
func IsCode(err error, code Code) bool {
	ge, ok := AsGuardError(err)
	return ok && ge.Code == code
}
