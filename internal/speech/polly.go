package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"github.com/snarg/veya-engine/internal/apperr"
)

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyConfig configures the AWS Polly backend. Credentials come from the
// default AWS chain.
type PollyConfig struct {
	Region  string
	VoiceID string
	Engine  string
	Timeout time.Duration
}

// PollyClient synthesizes speech with AWS Polly.
type PollyClient struct {
	mu     sync.Mutex
	client synthClient
	cfg    PollyConfig
}

// NewPollyClient creates a Polly client. client may be nil, in which case
// the SDK client is built lazily on first use.
func NewPollyClient(cfg PollyConfig, client synthClient) *PollyClient {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "Joanna"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &PollyClient{client: client, cfg: cfg}
}

func (p *PollyClient) Name() string { return string(FamilyPolly) }

func (p *PollyClient) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	client, err := p.resolveClient(ctx)
	if err != nil {
		return nil, err
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(p.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}
	voice := req.Voice
	if voice == "" {
		voice = p.cfg.VoiceID
	}

	in := &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &req.Text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(voice),
	}
	// Polly has no speed knob for plain text; slow playback uses SSML prosody.
	if req.Speed > 0 && req.Speed < 1.0 {
		ssml := fmt.Sprintf(`<speak><prosody rate="%d%%">%s</prosody></speak>`, int(req.Speed*100), escapeSSML(req.Text))
		in.Text = &ssml
		in.TextType = pollytypes.TextTypeSsml
	}

	// The deadline covers the audio stream too, so it is released on Close.
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	out, err := client.SynthesizeSpeech(ctx, in)
	if err != nil {
		cancel()
		return nil, classifyPollyError(err)
	}
	if out == nil || out.AudioStream == nil {
		cancel()
		return nil, emptyAudio("polly")
	}
	return &cancelOnClose{ReadCloser: out.AudioStream, cancel: cancel}, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (p *PollyClient) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	body, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return readAll("polly", body)
}

func (p *PollyClient) resolveClient(ctx context.Context) (synthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.cfg.Region))
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidCredential, fmt.Errorf("load aws config: %w", err))
	}
	p.client = polly.NewFromConfig(awsCfg)
	return p.client, nil
}

func classifyPollyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &apperr.Error{Kind: apperr.SynthesisFailed, Detail: "polly timeout", Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		detail := "polly: " + apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
		switch apiErr.ErrorCode() {
		case "UnrecognizedClientException", "InvalidSignatureException", "AccessDeniedException", "ExpiredTokenException":
			return &apperr.Error{Kind: apperr.InvalidCredential, Detail: detail, Err: err}
		case "ThrottlingException", "ServiceQuotaExceededException":
			return &apperr.Error{Kind: apperr.InsufficientQuota, Detail: detail, Err: err}
		default:
			return &apperr.Error{Kind: apperr.SynthesisFailed, Detail: detail, Err: err}
		}
	}
	return classifyTransport("polly", err)
}

var ssmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")

func escapeSSML(s string) string {
	return ssmlEscaper.Replace(s)
}
