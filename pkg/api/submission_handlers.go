package api

import (
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

const maxSubmissionMessage = 5000

// SubmissionRequest is a contact form posted by anonymous or signed-in callers
type SubmissionRequest struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// SubmissionResponse acknowledges a submission
type SubmissionResponse struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
}

// createSubmission handles POST /api/public/submissions
func (s *Server) createSubmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	identity, authenticated := auth.FromContext(ctx).Identity()
	if req.Email == "" && authenticated {
		req.Email = identity.Email
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		httputil.WriteBadRequest(w, "a valid email is required")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		httputil.WriteBadRequest(w, "message is required")
		return
	}
	if utf8.RuneCountInString(req.Message) > maxSubmissionMessage {
		httputil.WriteBadRequest(w, "message is too long")
		return
	}

	resp := SubmissionResponse{
		ID:         uuid.New().String(),
		ReceivedAt: time.Now().UTC(),
	}

	fields := map[string]interface{}{
		"submission_id": resp.ID,
		"authenticated": authenticated,
	}
	if authenticated {
		fields["user_id"] = identity.ID
	}
	observability.FromContext(ctx, s.logger).WithFields(fields).Info("Public submission received")

	httputil.WriteJSON(w, http.StatusAccepted, resp)
}
