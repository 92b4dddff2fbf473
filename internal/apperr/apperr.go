// Package apperr defines the closed set of failure kinds shared by every
// provider adapter and pipeline.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure. Retryability is a property of the kind.
type Kind int

const (
	_ Kind = iota
	InvalidCredential
	InsufficientQuota
	NetworkTimeout
	ServiceUnavailable
	RecognitionFailed
	SynthesisFailed
	StorageFailure
	PermissionDenied
)

var kindNames = map[Kind]string{
	InvalidCredential:  "invalid_credential",
	InsufficientQuota:  "insufficient_quota",
	NetworkTimeout:     "network_timeout",
	ServiceUnavailable: "service_unavailable",
	RecognitionFailed:  "recognition_failed",
	SynthesisFailed:    "synthesis_failed",
	StorageFailure:     "storage_failure",
	PermissionDenied:   "permission_denied",
}

// Kind-specific messages shown to the user instead of raw provider payloads.
var kindMessages = map[Kind]string{
	InvalidCredential:  "The API key was rejected by the provider.",
	InsufficientQuota:  "The provider account has insufficient balance or quota.",
	NetworkTimeout:     "The provider did not respond in time.",
	ServiceUnavailable: "The model or service is currently unavailable.",
	RecognitionFailed:  "No text could be recognized in the capture.",
	SynthesisFailed:    "Speech synthesis failed.",
	StorageFailure:     "The audio file could not be stored.",
	PermissionDenied:   "The system denied a required permission.",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Message returns the user-facing message for the kind.
func (k Kind) Message() string {
	if s, ok := kindMessages[k]; ok {
		return s
	}
	return "An unexpected error occurred."
}

// Retryable reports whether failures of this kind are eligible for retry.
func (k Kind) Retryable() bool {
	switch k {
	case NetworkTimeout, ServiceUnavailable, SynthesisFailed:
		return true
	}
	return false
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, ok := ParseKind(string(b))
	if !ok {
		return fmt.Errorf("unknown error kind %q", string(b))
	}
	*k = parsed
	return nil
}

// ParseKind resolves a snake_case kind name.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		InvalidCredential, InsufficientQuota, NetworkTimeout, ServiceUnavailable,
		RecognitionFailed, SynthesisFailed, StorageFailure, PermissionDenied,
	}
}

// Error is a classified failure with a human-readable detail.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf creates a classified error with a formatted detail.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies err, keeping it reachable through errors.Is/As.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Detail: err.Error(), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsRetryable reports whether err carries a retryable kind.
// Cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	k, ok := KindOf(err)
	return ok && k.Retryable()
}
