package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "tts-1"
	defaultOpenAIVoice   = "alloy"
)

// OpenAIClient calls the OpenAI /audio/speech endpoint.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	voice   string
	client  *http.Client
}

type openaiSpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

// NewOpenAIClient creates an OpenAI speech client.
func NewOpenAIClient(baseURL, apiKey, model, voice string, client *http.Client) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	if voice == "" {
		voice = defaultOpenAIVoice
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		voice:   voice,
		client:  client,
	}
}

func (c *OpenAIClient) Name() string { return string(FamilyOpenAI) }

func (c *OpenAIClient) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	voice := req.Voice
	if voice == "" {
		voice = c.voice
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}
	payload, err := json.Marshal(openaiSpeechRequest{
		Model:          c.model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: "mp3",
		Speed:          speed,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport("openai", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, ClassifyStatus("openai", resp.StatusCode, body)
	}
	return resp.Body, nil
}

func (c *OpenAIClient) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	body, err := c.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return readAll("openai", body)
}
