package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/snarg/veya-engine/internal/apperr"
)

// ClassifyStatus maps a non-2xx text provider response to an error kind.
func ClassifyStatus(provider string, status int, body []byte) *apperr.Error {
	detail := fmt.Sprintf("%s returned HTTP %d: %s", provider, status, truncate(string(body), 200))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.New(apperr.InvalidCredential, detail)
	case status == http.StatusPaymentRequired:
		return apperr.New(apperr.InsufficientQuota, detail)
	case status == http.StatusTooManyRequests:
		if mentionsQuota(body) {
			return apperr.New(apperr.InsufficientQuota, detail)
		}
		return apperr.New(apperr.NetworkTimeout, "rate limited: "+detail)
	case status == http.StatusNotFound:
		return apperr.New(apperr.ServiceUnavailable, "model not found: "+detail)
	case status >= 500:
		return apperr.New(apperr.ServiceUnavailable, detail)
	default:
		return apperr.New(apperr.ServiceUnavailable, detail)
	}
}

// classifyTransport maps a request error. Caller cancellation passes through
// unclassified so it is never retried.
func classifyTransport(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &apperr.Error{
		Kind:   apperr.NetworkTimeout,
		Detail: fmt.Sprintf("%s request: %v", provider, err),
		Err:    err,
	}
}

func mentionsQuota(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "insufficient") || strings.Contains(s, "quota") || strings.Contains(s, "balance")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
