package httputil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// maxPeekBytes bounds how much of a body PeekJSONString will buffer
const maxPeekBytes = 1 << 20

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// PathString returns a mux path variable, or "" when absent
func PathString(r *http.Request, key string) string {
	return mux.Vars(r)[key]
}

// PeekJSONString reads a top-level string field from a JSON body and restores
// the body so the handler can decode it again. Non-JSON or non-object bodies
// and non-string values yield "".
func PeekJSONString(r *http.Request, field string) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", nil
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return "", nil
	}

	original := r.Body
	data, err := io.ReadAll(io.LimitReader(original, maxPeekBytes+1))
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(data), original), Closer: original}
	if err != nil {
		return "", fmt.Errorf("failed to read request body: %w", err)
	}
	if len(data) > maxPeekBytes {
		return "", nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", nil
	}

	var value string
	if raw, ok := fields[field]; ok {
		if err := json.Unmarshal(raw, &value); err != nil {
			return "", nil
		}
	}
	return value, nil
}

// SafeReturnPath accepts only same-origin relative paths ("/x", not "//x" or
// "/\x"), falling back to "/"
func SafeReturnPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	if len(p) > 1 && (p[1] == '/' || p[1] == '\\') {
		return "/"
	}
	if strings.ContainsAny(p, "\r\n") {
		return "/"
	}
	return p
}

type readCloser struct {
	io.Reader
	io.Closer
}
