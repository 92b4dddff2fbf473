package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/veya-engine/internal/pipeline"
)

// Orchestrator is the pipeline surface the HTTP layer drives.
// *pipeline.Orchestrator implements it.
type Orchestrator interface {
	StartTextInsight(text string) (pipeline.Handle, error)
	StartVisionCapture(c pipeline.Capture, aiCompletion bool) (pipeline.Handle, error)
	StartCast(req pipeline.CastRequest) (pipeline.Handle, error)
	Channel(name pipeline.Name) *pipeline.Channel
}

type PipelinesHandler struct {
	orch      Orchestrator
	aiDefault func() bool
	keepalive time.Duration
}

// NewPipelinesHandler creates the handler. aiDefault supplies ai_completion
// when a vision request leaves it out.
func NewPipelinesHandler(orch Orchestrator, aiDefault func() bool) *PipelinesHandler {
	if aiDefault == nil {
		aiDefault = func() bool { return false }
	}
	return &PipelinesHandler{orch: orch, aiDefault: aiDefault, keepalive: 15 * time.Second}
}

type textInsightRequest struct {
	Text string `json:"text"`
}

type visionCaptureRequest struct {
	OCRText      string          `json:"ocr_text"`
	ImageBase64  string          `json:"image_base64"`
	Region       pipeline.Region `json:"region"`
	AICompletion *bool           `json:"ai_completion"`
}

func (h *PipelinesHandler) StartTextInsight(w http.ResponseWriter, r *http.Request) {
	var req textInsightRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	h.started(w, r)(h.orch.StartTextInsight(req.Text))
}

func (h *PipelinesHandler) StartVisionCapture(w http.ResponseWriter, r *http.Request) {
	var req visionCaptureRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	c := pipeline.Capture{Region: req.Region}
	if req.ImageBase64 != "" {
		img, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			WriteErrorDetail(w, http.StatusBadRequest, "invalid image_base64", err.Error())
			return
		}
		c.Image = img
	}
	if req.OCRText != "" {
		c.Recognizer = pipeline.TextRecognizer(req.OCRText)
	}
	ai := h.aiDefault()
	if req.AICompletion != nil {
		ai = *req.AICompletion
	}
	h.started(w, r)(h.orch.StartVisionCapture(c, ai))
}

func (h *PipelinesHandler) StartCast(w http.ResponseWriter, r *http.Request) {
	var req pipeline.CastRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	h.started(w, r)(h.orch.StartCast(req))
}

func (h *PipelinesHandler) started(w http.ResponseWriter, r *http.Request) func(pipeline.Handle, error) {
	return func(handle pipeline.Handle, err error) {
		if err != nil {
			hlog.FromRequest(r).Debug().Err(err).Msg("pipeline start rejected")
			WriteAppError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, handle)
	}
}

// StreamEvents attaches to a pipeline channel and relays its events as SSE.
// A newer subscriber to the same pipeline ends this stream.
func (h *PipelinesHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	name, ok := pipeline.ParseName(chi.URLParam(r, "pipeline"))
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown pipeline")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Attach before the headers go out, so a client that sees the response
	// is already the current subscriber.
	sub := h.orch.Channel(name).Attach()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := hlog.FromRequest(r).With().Str("pipeline", string(name)).Logger()
	log.Info().Msg("SSE client connected")

	for {
		ctx, cancel := context.WithTimeout(r.Context(), h.keepalive)
		ev, err := sub.Next(ctx)
		cancel()

		switch {
		case err == nil:
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Msg("event encode failed")
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, data)
			flusher.Flush()
		case errors.Is(err, pipeline.ErrDetached):
			fmt.Fprint(w, "event: detached\ndata: {}\n\n")
			flusher.Flush()
			log.Info().Msg("SSE client replaced by a newer subscriber")
			return
		case r.Context().Err() != nil:
			log.Info().Msg("SSE client disconnected")
			return
		default:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// Routes registers pipeline routes on the given router.
func (h *PipelinesHandler) Routes(r chi.Router) {
	r.Post("/pipelines/text-insight", h.StartTextInsight)
	r.Post("/pipelines/vision-capture", h.StartVisionCapture)
	r.Post("/pipelines/cast", h.StartCast)
	r.Get("/pipelines/{pipeline}/events", h.StreamEvents)
}
