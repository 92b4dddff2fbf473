package speech

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider is the interface for text-to-speech backends. All backends
// return MP3 audio.
type Provider interface {
	Name() string // "openai", "elevenlabs", "polly"

	// Stream opens the synthesis and returns the audio body. Only the
	// setup phase is retried by the Retrying wrapper.
	Stream(ctx context.Context, req Request) (io.ReadCloser, error)

	// Synthesize returns the whole clip.
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// Request is one synthesis request.
type Request struct {
	Text     string
	Voice    string  // provider-specific voice id; empty selects the default
	Language string  // BCP-47 tag used for routing
	Speed    float64 // 1.0 = normal
}

// Family names a speech protocol.
type Family string

const (
	FamilyOpenAI     Family = "openai"
	FamilyElevenLabs Family = "elevenlabs"
	FamilyPolly      Family = "polly"
)

// Config describes one configured speech endpoint.
type Config struct {
	Family   Family
	BaseURL  string
	APIKey   string
	Model    string
	Voice    string
	Language string
	Region   string // polly only
	Default  bool
	Timeout  time.Duration
}

// New builds the provider for cfg.Family.
func New(cfg Config) (Provider, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := &http.Client{Timeout: cfg.Timeout}
	switch Family(strings.ToLower(string(cfg.Family))) {
	case FamilyOpenAI, "":
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Voice, client), nil
	case FamilyElevenLabs:
		return NewElevenLabsClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Voice, client), nil
	case FamilyPolly:
		return NewPollyClient(PollyConfig{Region: cfg.Region, VoiceID: cfg.Voice, Timeout: cfg.Timeout}, nil), nil
	default:
		return nil, fmt.Errorf("unknown speech provider family %q", cfg.Family)
	}
}

// readAll drains an audio body, classifying read failures as synthesis
// failures.
func readAll(provider string, body io.ReadCloser) ([]byte, error) {
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, classifyTransport(provider, err)
	}
	if len(data) == 0 {
		return nil, emptyAudio(provider)
	}
	return data, nil
}
