package mqttclient

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/veya-engine/internal/metrics"
	"github.com/snarg/veya-engine/internal/pipeline"
	"github.com/vmihailenco/msgpack/v5"
)

// Starter starts pipelines. *pipeline.Orchestrator implements it.
type Starter interface {
	StartTextInsight(text string) (pipeline.Handle, error)
	StartVisionCapture(c pipeline.Capture, aiCompletion bool) (pipeline.Handle, error)
	StartCast(req pipeline.CastRequest) (pipeline.Handle, error)
}

// Trigger is the payload of a message on <prefix>/<pipeline>. Only the
// fields of the addressed pipeline are read.
type Trigger struct {
	// text_insight
	Text string `json:"text" msgpack:"text"`

	// vision_capture
	OCRText      string          `json:"ocr_text" msgpack:"ocr_text"`
	Image        []byte          `json:"-" msgpack:"image"`
	ImageBase64  string          `json:"image_base64" msgpack:"-"`
	Region       pipeline.Region `json:"region" msgpack:"region"`
	AICompletion *bool           `json:"ai_completion" msgpack:"ai_completion"`

	// cast
	Content        string `json:"content" msgpack:"content"`
	Source         string `json:"source" msgpack:"source"`
	Speed          string `json:"speed" msgpack:"speed"`
	Mode           string `json:"mode" msgpack:"mode"`
	TargetLanguage string `json:"target_language" msgpack:"target_language"`
}

// DecodeTrigger accepts a JSON object or a msgpack map.
func DecodeTrigger(payload []byte) (Trigger, error) {
	var t Trigger
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return t, errors.New("empty trigger payload")
	}
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &t); err != nil {
			return t, fmt.Errorf("decode json trigger: %w", err)
		}
		if t.ImageBase64 != "" {
			img, err := base64.StdEncoding.DecodeString(t.ImageBase64)
			if err != nil {
				return t, fmt.Errorf("decode image_base64: %w", err)
			}
			t.Image = img
		}
		return t, nil
	}
	if err := msgpack.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode msgpack trigger: %w", err)
	}
	return t, nil
}

// TriggerHandler turns trigger messages into pipeline starts.
type TriggerHandler struct {
	starter   Starter
	aiDefault func() bool
	log       zerolog.Logger
}

// NewTriggerHandler creates a handler. aiDefault supplies ai_completion when
// a vision trigger leaves it out.
func NewTriggerHandler(starter Starter, aiDefault func() bool, log zerolog.Logger) *TriggerHandler {
	if aiDefault == nil {
		aiDefault = func() bool { return false }
	}
	return &TriggerHandler{
		starter:   starter,
		aiDefault: aiDefault,
		log:       log.With().Str("component", "mqtt-trigger").Logger(),
	}
}

// HandleMessage is a MessageHandler.
func (h *TriggerHandler) HandleMessage(topic string, payload []byte) {
	handle, err := h.Dispatch(topic, payload)
	name := "unknown"
	if handle.Pipeline != "" {
		name = string(handle.Pipeline)
	} else if n, ok := pipelineFromTopic(topic); ok {
		name = string(n)
	}
	if err != nil {
		metrics.MQTTTriggersTotal.WithLabelValues(name, "rejected").Inc()
		h.log.Warn().Err(err).Str("topic", topic).Msg("trigger rejected")
		return
	}
	metrics.MQTTTriggersTotal.WithLabelValues(name, "started").Inc()
	h.log.Debug().
		Str("pipeline", name).
		Str("invocation", handle.Invocation).
		Msg("pipeline triggered")
}

// Dispatch decodes payload and starts the pipeline named by the last topic
// segment.
func (h *TriggerHandler) Dispatch(topic string, payload []byte) (pipeline.Handle, error) {
	name, ok := pipelineFromTopic(topic)
	if !ok {
		return pipeline.Handle{}, fmt.Errorf("no pipeline for topic %q", topic)
	}
	t, err := DecodeTrigger(payload)
	if err != nil {
		return pipeline.Handle{}, err
	}

	switch name {
	case pipeline.TextInsight:
		return h.starter.StartTextInsight(t.Text)
	case pipeline.VisionCapture:
		ai := h.aiDefault()
		if t.AICompletion != nil {
			ai = *t.AICompletion
		}
		c := pipeline.Capture{Image: t.Image, Region: t.Region}
		if t.OCRText != "" {
			c.Recognizer = pipeline.TextRecognizer(t.OCRText)
		}
		return h.starter.StartVisionCapture(c, ai)
	default:
		return h.starter.StartCast(pipeline.CastRequest{
			Content:        t.Content,
			Source:         pipeline.Source(t.Source),
			Speed:          pipeline.Speed(t.Speed),
			Mode:           pipeline.Mode(t.Mode),
			TargetLanguage: t.TargetLanguage,
		})
	}
}

func pipelineFromTopic(topic string) (pipeline.Name, bool) {
	i := strings.LastIndexByte(topic, '/')
	return pipeline.ParseName(topic[i+1:])
}
