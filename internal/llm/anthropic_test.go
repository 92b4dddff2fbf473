package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/snarg/veya-engine/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anthropicServer(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "event: x\ndata: %s\n\n", e)
		}
	}))
}

func TestAnthropicStream(t *testing.T) {
	t.Parallel()

	srv := anthropicServer(t,
		`{"type":"message_start","message":{}}`,
		`{"type":"content_block_start","index":0}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"[ORIGINAL]"}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"hello"}}`,
		`{"type":"ping"}`,
		`{"type":"message_stop"}`,
	)
	defer srv.Close()

	s, err := NewAnthropicClient(srv.URL, "key", "claude").Stream(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	text, err := Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "[ORIGINAL]hello", text)
}

func TestAnthropicMidStreamError(t *testing.T) {
	t.Parallel()

	srv := anthropicServer(t,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"partial"}}`,
		`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
	)
	defer srv.Close()

	s, err := NewAnthropicClient(srv.URL, "key", "claude").Stream(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)

	text, err := Collect(s)
	assert.Equal(t, "partial", text)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ServiceUnavailable, kind)
}

func TestAnthropicComplete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":[{"type":"text","text":"one "},{"type":"text","text":"two"}]}`)
	}))
	defer srv.Close()

	out, err := NewAnthropicClient(srv.URL, "key", "claude").Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "one two", out)
}

func TestClassifyStreamError(t *testing.T) {
	t.Parallel()

	tests := map[string]apperr.Kind{
		"authentication_error": apperr.InvalidCredential,
		"rate_limit_error":     apperr.NetworkTimeout,
		"billing_error":        apperr.InsufficientQuota,
		"api_error":            apperr.ServiceUnavailable,
	}
	for typ, want := range tests {
		assert.Equal(t, want, classifyStreamError(typ, "m").Kind, typ)
	}
}
