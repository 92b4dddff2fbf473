package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/snarg/veya-engine/internal/apperr"
	"github.com/snarg/veya-engine/internal/pipeline"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorDetail writes a JSON error response with detail.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(k apperr.Kind) int {
	switch {
	case k == apperr.InvalidCredential:
		return http.StatusUnauthorized
	case k == apperr.InsufficientQuota:
		return http.StatusPaymentRequired
	case k == apperr.PermissionDenied:
		return http.StatusForbidden
	case k.Retryable():
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteAppError writes err with the status of its kind. Classified errors
// only expose the kind message.
func WriteAppError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrInvalidInput) {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid input", err.Error())
		return
	}
	if errors.Is(err, context.Canceled) {
		WriteError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	if kind, ok := apperr.KindOf(err); ok {
		WriteJSON(w, StatusForKind(kind), ErrorResponse{Error: kind.Message(), Kind: kind.String()})
		return
	}
	WriteError(w, http.StatusInternalServerError, "internal error")
}

// Page holds parsed 1-based pagination parameters.
type Page struct {
	Page     int
	PageSize int
}

// ParsePage extracts page and page_size with defaults of 1 and 20.
// Returns an error if values are present but invalid.
func ParsePage(r *http.Request) (Page, error) {
	p := Page{Page: 1, PageSize: 20}
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid page %q: must be an integer", v)
		}
		if n < 1 {
			return p, fmt.Errorf("invalid page %d: must be >= 1", n)
		}
		p.Page = n
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid page_size %q: must be an integer", v)
		}
		if n < 1 || n > 100 {
			return p, fmt.Errorf("invalid page_size %d: must be between 1 and 100", n)
		}
		p.PageSize = n
	}
	return p, nil
}

// QueryInt extracts an integer query parameter. Returns 0, false if missing or invalid.
func QueryInt(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}
