package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiClient talks to the Gemini API through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini client. baseURL may be empty and a
// zero timeout leaves the SDK default in place.
func NewGeminiClient(ctx context.Context, apiKey, model, baseURL string, timeout time.Duration) (*GeminiClient, error) {
	gc, err := genai.NewClient(ctx, geminiClientConfig(apiKey, baseURL, timeout))
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiClient{client: gc, model: model}, nil
}

func geminiClientConfig(apiKey, baseURL string, timeout time.Duration) *genai.ClientConfig {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	cc.HTTPOptions.BaseURL = baseURL
	if timeout > 0 {
		cc.HTTPOptions.Timeout = &timeout
	}
	return cc
}

func (c *GeminiClient) Name() string  { return string(FamilyGemini) }
func (c *GeminiClient) Model() string { return c.model }

// Stream pulls the first response chunk before returning so that connection
// and status failures surface here, inside the retried setup phase.
func (c *GeminiClient) Stream(ctx context.Context, req Request) (Stream, error) {
	seq := c.client.Models.GenerateContentStream(ctx, c.model, geminiContents(req), geminiConfig(req))
	s := newGeminiStream(ctx, seq)

	first, err := s.pullText()
	if err != nil && err != io.EOF {
		s.Close()
		return nil, err
	}
	s.pending = first
	s.eof = err == io.EOF
	return s, nil
}

func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, geminiContents(req), geminiConfig(req))
	if err != nil {
		return "", classifyGeminiError(err)
	}
	return responseText(resp), nil
}

func geminiContents(req Request) []*genai.Content {
	return []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: req.Prompt}},
	}}
}

func geminiConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return cfg
}

// responseText concatenates the non-thought text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

func classifyGeminiError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return ClassifyStatus("gemini", apiErr.Code, []byte(apiErr.Message))
	}
	return classifyTransport("gemini", err)
}

type geminiStream struct {
	ctx     context.Context
	pull    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	pending string
	eof     bool
}

func newGeminiStream(ctx context.Context, seq iter.Seq2[*genai.GenerateContentResponse, error]) *geminiStream {
	next, stop := iter.Pull2(seq)
	return &geminiStream{ctx: ctx, pull: next, stop: stop}
}

// pullText advances to the next chunk carrying text.
func (s *geminiStream) pullText() (string, error) {
	for {
		resp, err, ok := s.pull()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", classifyGeminiError(err)
		}
		if text := responseText(resp); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Next() (string, error) {
	if s.pending != "" {
		text := s.pending
		s.pending = ""
		return text, nil
	}
	if s.eof {
		return "", io.EOF
	}
	text, err := s.pullText()
	if err == io.EOF {
		s.eof = true
	}
	return text, err
}

func (s *geminiStream) Close() error {
	s.stop()
	return nil
}
