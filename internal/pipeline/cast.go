package pipeline

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/snarg/veya-engine/internal/apperr"
	"github.com/snarg/veya-engine/internal/database"
	"github.com/snarg/veya-engine/internal/speech"
)

// Source tags where cast content came from.
type Source string

const (
	SourceTextInsight   Source = "text_insight"
	SourceVisionCapture Source = "vision_capture"
	SourceCustom        Source = "custom"
)

// Speed is the pace of the cast.
type Speed string

const (
	SpeedSlow   Speed = "slow"
	SpeedNormal Speed = "normal"
)

// Rate is the synthesis speed factor.
func (s Speed) Rate() float64 {
	if s == SpeedSlow {
		return 0.75
	}
	return 1.0
}

// Mode is the script style.
type Mode string

const (
	ModeBilingual Mode = "bilingual"
	ModeImmersive Mode = "immersive"
)

// Cast stages carried on progress deltas.
const (
	StageScriptGenerating = "script_generating"
	StageScriptDone       = "script_done"
	StageSynthesizing     = "synthesizing"
	StageStoring          = "storing"
)

const scriptPreviewRunes = 200

// CastRequest is the input of a cast run.
type CastRequest struct {
	Content        string `json:"content" msgpack:"content"`
	Source         Source `json:"source" msgpack:"source"`
	Speed          Speed  `json:"speed" msgpack:"speed"`
	Mode           Mode   `json:"mode" msgpack:"mode"`
	TargetLanguage string `json:"target_language" msgpack:"target_language"`
}

// Validate checks the request and fills in defaults for an empty speed or
// mode.
func (r *CastRequest) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return invalid("content is empty")
	}
	switch r.Source {
	case SourceTextInsight, SourceVisionCapture, SourceCustom:
	default:
		return invalid(fmt.Sprintf("unknown source %q", r.Source))
	}
	switch r.Speed {
	case "":
		r.Speed = SpeedNormal
	case SpeedSlow, SpeedNormal:
	default:
		return invalid(fmt.Sprintf("unknown speed %q", r.Speed))
	}
	switch r.Mode {
	case "":
		r.Mode = ModeBilingual
	case ModeBilingual, ModeImmersive:
	default:
		return invalid(fmt.Sprintf("unknown mode %q", r.Mode))
	}
	if strings.TrimSpace(r.TargetLanguage) == "" {
		return invalid("target language is empty")
	}
	return nil
}

// CastResult is the data of a cast done event.
type CastResult struct {
	Path            string  `json:"path"`
	SizeBytes       int64   `json:"size_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// StartCast generates a podcast script for the content and synthesizes it
// into one temporary audio file.
func (o *Orchestrator) StartCast(req CastRequest) (Handle, error) {
	if err := req.Validate(); err != nil {
		return Handle{}, err
	}
	if o.opts.Text == nil || o.opts.Speech == nil || o.opts.Audio == nil {
		return Handle{}, apperr.New(apperr.ServiceUnavailable, "cast is not configured")
	}
	return o.launch(Cast, req, func(inv *Invocation) error {
		return o.runCast(inv, req)
	})
}

func (o *Orchestrator) runCast(inv *Invocation, req CastRequest) error {
	ctx := inv.Context()

	inv.Emit(progressEvent(StageScriptGenerating, 0, ""))
	script, err := o.opts.Text.Complete(ctx, scriptRequest(req))
	if err != nil {
		return err
	}
	inv.Emit(progressEvent(StageScriptDone, 30, preview(script, scriptPreviewRunes)))

	chunks := SplitScript(script)
	if len(chunks) == 0 {
		return fail(apperr.SynthesisFailed, "the generated script is empty")
	}

	var audio bytes.Buffer
	for i, chunk := range chunks {
		clip, err := o.opts.Speech.Synthesize(ctx, speech.Request{
			Text:     chunk,
			Language: req.TargetLanguage,
			Speed:    req.Speed.Rate(),
		})
		if err != nil {
			if _, ok := apperr.KindOf(err); !ok && ctx.Err() == nil {
				err = apperr.Wrap(apperr.SynthesisFailed, err)
			}
			return err
		}
		audio.Write(clip)
		inv.Emit(progressEvent(StageSynthesizing, synthProgress(i, len(chunks)), ""))
	}

	// A superseded run must not leave a file behind.
	if err := ctx.Err(); err != nil {
		return err
	}
	if !inv.Live() {
		return nil
	}
	artifact, err := o.opts.Audio.StoreTemporary(ctx, audio.Bytes())
	if err != nil {
		return err
	}

	duration := EstimateMP3Duration(audio.Bytes())
	result := CastResult{
		Path:            artifact.Path,
		SizeBytes:       artifact.SizeBytes,
		DurationSeconds: math.Round(duration.Seconds()*10) / 10,
	}
	done := doneEvent(result)
	done.Progress = intPtr(100)
	if !inv.Emit(done) {
		return nil
	}

	if o.opts.Records != nil {
		secs := int64(math.Round(duration.Seconds()))
		o.opts.Records.RecordPodcast(database.PodcastRecord{
			InputContent:    req.Content,
			Source:          string(req.Source),
			SpeedMode:       string(req.Speed),
			PodcastMode:     string(req.Mode),
			TargetLanguage:  req.TargetLanguage,
			AudioFilePath:   artifact.Path,
			DurationSeconds: &secs,
		})
	}
	return nil
}

func intPtr(v int) *int { return &v }
