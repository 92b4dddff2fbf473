package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/snarg/veya-engine/internal/apperr"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 4096
)

// AnthropicClient speaks the Anthropic Messages protocol.
type AnthropicClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NewAnthropicClient creates an Anthropic Messages client.
func NewAnthropicClient(baseURL, apiKey, model string, opts ...Option) *AnthropicClient {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	o := applyOptions(opts)
	return &AnthropicClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  o.client,
	}
}

func (c *AnthropicClient) Name() string  { return string(FamilyAnthropic) }
func (c *AnthropicClient) Model() string { return c.model }

func (c *AnthropicClient) Stream(ctx context.Context, req Request) (Stream, error) {
	resp, err := c.do(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return &anthropicStream{ctx: ctx, body: resp.Body, sse: newSSEReader(resp.Body)}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.do(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", classifyTransport("anthropic", err)
	}
	var b strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func (c *AnthropicClient) do(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}
	payload, err := json.Marshal(anthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
		Stream:    stream,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport("anthropic", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, ClassifyStatus("anthropic", resp.StatusCode, body)
	}
	return resp, nil
}

type anthropicStream struct {
	ctx  context.Context
	body io.ReadCloser
	sse  *sseReader
	done bool
}

func (s *anthropicStream) Next() (string, error) {
	for !s.done {
		data, err := s.sse.next()
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", classifyTransport("anthropic", err)
		}

		var ev anthropicEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Text != "" {
				return ev.Delta.Text, nil
			}
		case "message_stop":
			s.done = true
		case "error":
			s.done = true
			return "", classifyStreamError(ev.Error.Type, ev.Error.Message)
		}
	}
	return "", io.EOF
}

func (s *anthropicStream) Close() error {
	return s.body.Close()
}

// classifyStreamError maps an in-stream Anthropic error event.
func classifyStreamError(typ, msg string) *apperr.Error {
	detail := "anthropic stream error: " + typ + ": " + msg
	switch typ {
	case "authentication_error", "permission_error":
		return apperr.New(apperr.InvalidCredential, detail)
	case "rate_limit_error":
		return apperr.New(apperr.NetworkTimeout, detail)
	case "billing_error":
		return apperr.New(apperr.InsufficientQuota, detail)
	default:
		return apperr.New(apperr.ServiceUnavailable, detail)
	}
}
