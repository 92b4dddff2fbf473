package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	defaultElevenLabsModel   = "eleven_multilingual_v2"
	defaultElevenLabsVoice   = "21m00Tcm4TlvDq8ikWAM" // Rachel
)

// ElevenLabsClient calls the ElevenLabs Text-to-Speech API.
// Implements the Provider interface.
type ElevenLabsClient struct {
	baseURL string
	apiKey  string
	model   string // "eleven_multilingual_v2", "eleven_turbo_v2_5", ...
	voice   string
	client  *http.Client
}

// elevenlabsRequest is the JSON body for the ElevenLabs TTS API.
type elevenlabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenlabsVoiceSettings `json:"voice_settings"`
}

type elevenlabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed"`
}

// NewElevenLabsClient creates a new ElevenLabs TTS client.
func NewElevenLabsClient(baseURL, apiKey, model, voice string, client *http.Client) *ElevenLabsClient {
	if baseURL == "" {
		baseURL = defaultElevenLabsBaseURL
	}
	if model == "" {
		model = defaultElevenLabsModel
	}
	if voice == "" {
		voice = defaultElevenLabsVoice
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ElevenLabsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		voice:   voice,
		client:  client,
	}
}

// Name returns the provider name.
func (el *ElevenLabsClient) Name() string { return string(FamilyElevenLabs) }

// Stream sends text to the ElevenLabs TTS API and returns the MP3 body.
func (el *ElevenLabsClient) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	voice := req.Voice
	if voice == "" {
		voice = el.voice
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}

	payload, err := json.Marshal(elevenlabsRequest{
		Text:    req.Text,
		ModelID: el.model,
		VoiceSettings: elevenlabsVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           speed,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := el.baseURL + "/v1/text-to-speech/" + url.PathEscape(voice)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", el.apiKey)

	resp, err := el.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport("elevenlabs", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, ClassifyStatus("elevenlabs", resp.StatusCode, body)
	}
	return resp.Body, nil
}

// Synthesize returns the whole clip.
func (el *ElevenLabsClient) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	body, err := el.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return readAll("elevenlabs", body)
}
