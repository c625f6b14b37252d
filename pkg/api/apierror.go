// Package api is the HTTP surface of the post-action host. Errors are
// RFC 7807 Problem Details.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// TraceID is the X-Request-ID of the failing request.
	TraceID string `json:"trace_id,omitempty"`
	// Kind is the machine-readable failure kind, e.g. NotASelectBoxField.
	Kind string `json:"kind,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func problemType(kind string) string {
	if kind == "" {
		return "about:blank"
	}
	return "urn:postaction:error:" + kind
}

func writeProblem(w http.ResponseWriter, r *http.Request, p *ProblemDetail) {
	if r != nil {
		p.Instance = r.URL.Path
	}
	p.TraceID = w.Header().Get(RequestIDHeader)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes a Problem Detail with no kind.
func WriteError(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, r, &ProblemDetail{Type: problemType(""), Title: title, Status: status, Detail: detail})
}

// WriteKindError writes a Problem Detail carrying a failure kind.
func WriteKindError(w http.ResponseWriter, r *http.Request, status int, title, kind, detail string) {
	writeProblem(w, r, &ProblemDetail{Type: problemType(kind), Title: title, Status: status, Detail: detail, Kind: kind})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="postactiond"`)
	WriteError(w, r, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusNotFound, "Not Found", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	WriteError(w, r, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteUnavailable writes a 503 error response.
func WriteUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusServiceUnavailable, "Service Unavailable", detail)
}

// WriteInternal writes a 500 error response. err is logged, never sent.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error", "error", err, "request_id", w.Header().Get(RequestIDHeader))
	WriteError(w, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusForbidden, "Forbidden", detail)
}
