package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/snarg/veya-engine/internal/apperr"
	"github.com/snarg/veya-engine/internal/pipeline"
)

// ── ParsePage ────────────────────────────────────────────────────────

func TestParsePage(t *testing.T) {
	tests := []struct {
		name         string
		query        string
		wantPage     int
		wantPageSize int
		wantErr      bool
	}{
		{"defaults", "", 1, 20, false},
		{"valid_custom", "page=3&page_size=50", 3, 50, false},
		{"page_zero", "page=0", 1, 20, true},
		{"page_size_over_100", "page_size=101", 1, 20, true},
		{"non_numeric", "page=abc", 1, 20, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/?"+tt.query, nil)
			p, err := ParsePage(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if p.Page != tt.wantPage || p.PageSize != tt.wantPageSize {
				t.Errorf("page = %+v, want %d/%d", p, tt.wantPage, tt.wantPageSize)
			}
		})
	}
}

// ── QueryInt ─────────────────────────────────────────────────────────

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/?limit=25&bad=x", nil)
	if n, ok := QueryInt(req, "limit"); !ok || n != 25 {
		t.Errorf("limit = %d, %v", n, ok)
	}
	if _, ok := QueryInt(req, "bad"); ok {
		t.Error("non-numeric value accepted")
	}
	if _, ok := QueryInt(req, "missing"); ok {
		t.Error("missing value accepted")
	}
}

// ── WriteJSON ────────────────────────────────────────────────────────

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"msg": "ok"})

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body["msg"] != "ok" {
		t.Errorf("body = %v, want msg=ok", body)
	}
}

// ── WriteError ───────────────────────────────────────────────────────

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "bad input")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Error != "bad input" {
		t.Errorf("Error = %q, want %q", body.Error, "bad input")
	}
}

// ── WriteAppError ────────────────────────────────────────────────────

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"invalid_input", fmt.Errorf("start: %w", pipeline.ErrInvalidInput), http.StatusBadRequest, ""},
		{"invalid_credential", apperr.New(apperr.InvalidCredential, "raw"), http.StatusUnauthorized, "invalid_credential"},
		{"insufficient_quota", apperr.New(apperr.InsufficientQuota, "raw"), http.StatusPaymentRequired, "insufficient_quota"},
		{"permission_denied", apperr.New(apperr.PermissionDenied, "raw"), http.StatusForbidden, "permission_denied"},
		{"network_timeout", apperr.New(apperr.NetworkTimeout, "raw"), http.StatusServiceUnavailable, "network_timeout"},
		{"service_unavailable", apperr.New(apperr.ServiceUnavailable, "raw"), http.StatusServiceUnavailable, "service_unavailable"},
		{"synthesis_failed", apperr.New(apperr.SynthesisFailed, "raw"), http.StatusServiceUnavailable, "synthesis_failed"},
		{"storage_failure", apperr.New(apperr.StorageFailure, "raw"), http.StatusInternalServerError, "storage_failure"},
		{"recognition_failed", apperr.New(apperr.RecognitionFailed, "raw"), http.StatusInternalServerError, "recognition_failed"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteAppError(rec, tt.err)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("JSON decode: %v", err)
			}
			if body.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", body.Kind, tt.wantKind)
			}
			if strings.Contains(body.Error, "raw") {
				t.Errorf("error exposes provider detail: %q", body.Error)
			}
		})
	}
}

// ── DecodeJSON ───────────────────────────────────────────────────────

func TestDecodeJSON(t *testing.T) {
	t.Run("valid_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"test"}`))
		var dst struct {
			Name string `json:"name"`
		}
		if err := DecodeJSON(req, &dst); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dst.Name != "test" {
			t.Errorf("Name = %q, want %q", dst.Name, "test")
		}
	})
	t.Run("nil_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", nil)
		req.Body = nil
		var dst struct{}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for nil body")
		}
	})
	t.Run("malformed_json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{bad`))
		var dst struct{}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})
}

// ── WriteErrorDetail ─────────────────────────────────────────────────

func TestWriteErrorDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorDetail(rec, http.StatusUnprocessableEntity, "validation failed", "name is required")

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Error != "validation failed" {
		t.Errorf("Error = %q, want %q", body.Error, "validation failed")
	}
	if body.Detail != "name is required" {
		t.Errorf("Detail = %q, want %q", body.Detail, "name is required")
	}
}
