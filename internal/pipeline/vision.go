package pipeline

import (
	"context"
	"strings"

	"github.com/snarg/veya-engine/internal/apperr"
	"github.com/snarg/veya-engine/internal/database"
	"github.com/snarg/veya-engine/internal/provenance"
)

// Region is the captured screen rectangle in pixels.
type Region struct {
	X      int `json:"x" msgpack:"x"`
	Y      int `json:"y" msgpack:"y"`
	Width  int `json:"width" msgpack:"width"`
	Height int `json:"height" msgpack:"height"`
}

// Recognizer turns a captured image into text.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, region Region) (string, error)
}

// TextRecognizer is a Recognizer for text the platform already recognized.
type TextRecognizer string

func (t TextRecognizer) Recognize(ctx context.Context, image []byte, region Region) (string, error) {
	return string(t), nil
}

// Capture is the input of a vision capture run. Recognizer overrides the
// orchestrator's default recognizer.
type Capture struct {
	Image      []byte
	Region     Region
	Recognizer Recognizer
}

// Vision section names carried on deltas.
const (
	SectionOCR        = "ocr"
	SectionCompletion = "completion"
)

// VisionResult is the data of a vision capture done event.
type VisionResult struct {
	Text            string             `json:"text"`
	Inferred        []provenance.Range `json:"inferred"`
	OCRText         string             `json:"ocr_text"`
	AICompletion    bool               `json:"ai_completion"`
	InferredPhrases []string           `json:"inferred_phrases,omitempty"`
}

// VisionStart is the data of a vision capture start event.
type VisionStart struct {
	AICompletion bool   `json:"ai_completion"`
	Region       Region `json:"region"`
}

// StartVisionCapture recognizes the capture and, when aiCompletion is set,
// completes the recognized text with the vision model.
func (o *Orchestrator) StartVisionCapture(c Capture, aiCompletion bool) (Handle, error) {
	rec := c.Recognizer
	if rec == nil {
		rec = o.opts.Recognizer
	}
	if rec == nil {
		return Handle{}, invalid("capture has no recognized text and no recognizer is configured")
	}
	if len(c.Image) == 0 && c.Recognizer == nil {
		return Handle{}, invalid("capture is empty")
	}
	if aiCompletion && o.opts.Vision == nil {
		return Handle{}, apperr.New(apperr.ServiceUnavailable, "no vision model configured")
	}
	start := VisionStart{AICompletion: aiCompletion, Region: c.Region}
	return o.launch(VisionCapture, start, func(inv *Invocation) error {
		return o.runVisionCapture(inv, rec, c, aiCompletion)
	})
}

func (o *Orchestrator) runVisionCapture(inv *Invocation, rec Recognizer, c Capture, aiCompletion bool) error {
	ocr, err := rec.Recognize(inv.Context(), c.Image, c.Region)
	if err != nil {
		if _, ok := apperr.KindOf(err); !ok && inv.Context().Err() == nil {
			err = apperr.Wrap(apperr.RecognitionFailed, err)
		}
		return err
	}
	if strings.TrimSpace(ocr) == "" {
		return fail(apperr.RecognitionFailed, "no text found in the capture")
	}
	inv.Emit(deltaEvent(SectionOCR, ocr, Verbatim))

	if !aiCompletion {
		merged := provenance.Merge([]provenance.Segment{{Text: ocr}})
		if !inv.Emit(doneEvent(VisionResult{Text: merged.Text, Inferred: merged.Inferred, OCRText: ocr})) {
			return nil
		}
		o.recordVision(ocr, ocr)
		return nil
	}

	stream, err := o.opts.Vision.Stream(inv.Context(), completionRequest(ocr))
	if err != nil {
		return err
	}
	var raw strings.Builder
	err = pump(inv, stream, func(frag string) {
		raw.WriteString(frag)
		inv.Emit(deltaEvent(SectionCompletion, frag, Inferred))
	})
	if err != nil {
		return err
	}

	parsed := ParseCompletion(raw.String())
	segments := []provenance.Segment{{Text: ocr}}
	completion := strings.TrimSpace(parsed.Corrected)
	if completion == "" {
		completion = raw.String()
	}
	if completion != "" {
		segments = append(segments,
			provenance.Segment{Text: "\n\n"},
			provenance.Segment{Text: completion, Inferred: true},
		)
	}
	merged := provenance.Merge(segments)
	result := VisionResult{
		Text:            merged.Text,
		Inferred:        merged.Inferred,
		OCRText:         ocr,
		AICompletion:    true,
		InferredPhrases: parsed.Inferred,
	}
	if !inv.Emit(doneEvent(result)) {
		return nil
	}
	o.recordVision(ocr, raw.String())
	return nil
}

func (o *Orchestrator) recordVision(ocr, analysis string) {
	if o.opts.Records == nil {
		return
	}
	r := database.QueryRecord{
		InputText:        ocr,
		Source:           string(VisionCapture),
		DetectedLanguage: DetectLanguage(ocr),
		AnalysisResult:   analysis,
	}
	if o.opts.Vision != nil {
		r.Provider = o.opts.Vision.Name() + "/" + o.opts.Vision.Model()
	}
	o.opts.Records.RecordQuery(r)
}
