// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteGuardError(w, auth.NewGuardError(auth.CodeForbidden, "Forbidden"))
//	httputil.WriteBadRequest(w, "name is required")
//
// Every failure body has at least "error" (machine code) and "message".
//
// # Request Parsing
//
//	var req orgs.CreateCompanyRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// PeekJSONString reads one field from a JSON body and leaves the body
// readable for the handler.
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
