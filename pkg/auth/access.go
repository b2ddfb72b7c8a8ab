package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Access actions
const (
	ActionAuthSuccess       = "auth.success"
	ActionAuthFailure       = "auth.failure"
	ActionSessionRefresh    = "session.refresh"
	ActionTenantAccess      = "tenant.access"
	ActionAdminAccess       = "admin.access"
	ActionRateLimitExceeded = "ratelimit.exceeded"
)

// Decision statuses
const (
	StatusGranted = "granted"
	StatusDenied  = "denied"
	StatusFailure = "failure"
)

// AccessDecision is one security-relevant decision made by a guard
type AccessDecision struct {
	Action    string
	Status    string
	UserID    string
	Email     string
	CompanyID string
	Path      string
	Method    string
	IPAddress string
	UserAgent string
	Reason    string
	At        time.Time
}

// AccessLogger writes access decisions as structured log lines
type AccessLogger struct {
	logger *observability.Logger
}

// NewAccessLogger creates an access logger
func NewAccessLogger(logger *observability.Logger) *AccessLogger {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &AccessLogger{logger: logger.WithField("component", "access")}
}

// Log validates and emits a decision
func (al *AccessLogger) Log(ctx context.Context, d AccessDecision) error {
	if d.Action == "" {
		return fmt.Errorf("action is required")
	}
	if d.Status == "" {
		return fmt.Errorf("status is required")
	}
	if d.At.IsZero() {
		d.At = time.Now().UTC()
	}

	fields := map[string]interface{}{
		"action": d.Action,
		"status": d.Status,
		"at":     d.At,
	}
	for k, v := range map[string]string{
		"user_id":    d.UserID,
		"email":      d.Email,
		"company_id": d.CompanyID,
		"path":       d.Path,
		"method":     d.Method,
		"ip_address": d.IPAddress,
		"user_agent": d.UserAgent,
		"reason":     d.Reason,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		fields["request_id"] = requestID
	}

	entry := observability.UpdateLoggerWithTraceContext(ctx, al.logger.WithFields(fields))
	if d.Status == StatusGranted {
		entry.Info("access decision")
	} else {
		entry.Warn("access decision")
	}
	return nil
}

// LogFromRequest records a decision for r, filling caller details from its RequestContext
func (al *AccessLogger) LogFromRequest(r *http.Request, action, status, reason string) error {
	d := AccessDecision{
		Action:    action,
		Status:    status,
		Path:      r.URL.Path,
		Method:    r.Method,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Reason:    reason,
	}

	rc := FromContext(r.Context())
	if identity, ok := rc.Identity(); ok {
		d.UserID = identity.ID
		d.Email = identity.Email
	}
	if company, ok := rc.Company(); ok {
		d.CompanyID = company.ID
	}

	return al.Log(r.Context(), d)
}
