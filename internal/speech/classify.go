package speech

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/snarg/veya-engine/internal/apperr"
)

// ClassifyStatus maps a non-2xx speech response to an error kind.
func ClassifyStatus(provider string, status int, body []byte) *apperr.Error {
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	detail := fmt.Sprintf("%s returned HTTP %d: %s", provider, status, msg)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.New(apperr.InvalidCredential, detail)
	case http.StatusPaymentRequired, http.StatusTooManyRequests:
		return apperr.New(apperr.InsufficientQuota, detail)
	default:
		return apperr.New(apperr.SynthesisFailed, detail)
	}
}

func classifyTransport(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &apperr.Error{
		Kind:   apperr.SynthesisFailed,
		Detail: fmt.Sprintf("%s request: %v", provider, err),
		Err:    err,
	}
}

func emptyAudio(provider string) *apperr.Error {
	return apperr.New(apperr.SynthesisFailed, provider+" returned empty audio")
}
