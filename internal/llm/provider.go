package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider is the interface for chat-completion style text backends.
type Provider interface {
	Name() string  // "openai", "anthropic", "gemini"
	Model() string // model identifier for logs/records

	// Stream opens a streaming completion. Only the setup phase (request,
	// status check) can fail here; later failures come from Stream.Next.
	Stream(ctx context.Context, req Request) (Stream, error)

	// Complete returns the whole response in one call.
	Complete(ctx context.Context, req Request) (string, error)
}

// Stream yields content fragments in order. Next returns io.EOF after the
// last fragment.
type Stream interface {
	Next() (string, error)
	Close() error
}

// Request is the provider-independent completion request.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Family names a wire protocol.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyGemini    Family = "gemini"
)

// Config describes one configured text endpoint.
type Config struct {
	Family  Family
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// New builds the provider for cfg.Family.
func New(ctx context.Context, cfg Config) (Provider, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	switch Family(strings.ToLower(string(cfg.Family))) {
	case FamilyOpenAI, "":
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model, WithHTTPClient(&http.Client{Timeout: cfg.Timeout})), nil
	case FamilyAnthropic:
		return NewAnthropicClient(cfg.BaseURL, cfg.APIKey, cfg.Model, WithHTTPClient(&http.Client{Timeout: cfg.Timeout})), nil
	case FamilyGemini:
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown text provider family %q", cfg.Family)
	}
}

// Collect drains s into one string. It is used by Complete implementations
// that only speak the streaming protocol and by tests.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		frag, err := s.Next()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(frag)
	}
}

// Option configures the HTTP-based clients.
type Option func(*httpOptions)

type httpOptions struct {
	client *http.Client
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *httpOptions) { o.client = c }
}

func applyOptions(opts []Option) httpOptions {
	o := httpOptions{client: &http.Client{Timeout: 60 * time.Second}}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
