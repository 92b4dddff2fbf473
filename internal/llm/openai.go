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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient speaks the OpenAI chat-completions protocol. It also covers
// compatible servers (DeepSeek, Ollama, vLLM) through a custom base URL.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model     string          `json:"model"`
	Messages  []openaiMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openaiChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewOpenAIClient creates an OpenAI-compatible client.
func NewOpenAIClient(baseURL, apiKey, model string, opts ...Option) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	o := applyOptions(opts)
	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  o.client,
	}
}

func (c *OpenAIClient) Name() string  { return string(FamilyOpenAI) }
func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) Stream(ctx context.Context, req Request) (Stream, error) {
	resp, err := c.do(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return &openaiStream{ctx: ctx, body: resp.Body, sse: newSSEReader(resp.Body)}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.do(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransport("openai", err)
	}
	var out openaiChunk
	if err := json.Unmarshal(body, &out); err != nil {
		return "", apperr.Newf(apperr.ServiceUnavailable, "decode openai response: %v", err)
	}
	if len(out.Choices) == 0 {
		return "", apperr.New(apperr.ServiceUnavailable, "openai response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) do(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	msgs := make([]openaiMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openaiMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, openaiMessage{Role: "user", Content: req.Prompt})

	payload, err := json.Marshal(openaiRequest{
		Model:     c.model,
		Messages:  msgs,
		Stream:    stream,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport("openai", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, ClassifyStatus("openai", resp.StatusCode, body)
	}
	return resp, nil
}

type openaiStream struct {
	ctx  context.Context
	body io.ReadCloser
	sse  *sseReader
	done bool
}

func (s *openaiStream) Next() (string, error) {
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
			return "", classifyTransport("openai", err)
		}
		if data == "[DONE]" {
			s.done = true
			break
		}
		var chunk openaiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	return "", io.EOF
}

func (s *openaiStream) Close() error {
	return s.body.Close()
}
