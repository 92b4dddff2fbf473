package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/veya-engine/internal/apperr"
	"github.com/snarg/veya-engine/internal/llm"
	"github.com/snarg/veya-engine/internal/speech"
)

const connectionTestTimeout = 10 * time.Second

// ProvidersHandler checks that the configured AI providers are reachable
// with the current credentials. Each check is one minimal request through
// the same retrying client the pipelines use.
type ProvidersHandler struct {
	text   llm.Provider
	vision llm.Provider
	speech speech.Provider
}

func NewProvidersHandler(text, vision llm.Provider, sp speech.Provider) *ProvidersHandler {
	return &ProvidersHandler{text: text, vision: vision, speech: sp}
}

// ConnectionResult reports one provider check. Kind and Error are set only
// when OK is false.
type ConnectionResult struct {
	Target    string `json:"target"`
	Provider  string `json:"provider"`
	Model     string `json:"model,omitempty"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
	Kind      string `json:"kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Test handles POST /providers/{target}/test. A failed check is still a 200;
// the classified failure is in the body.
func (h *ProvidersHandler) Test(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	ctx, cancel := context.WithTimeout(r.Context(), connectionTestTimeout)
	defer cancel()

	res := ConnectionResult{Target: target}
	start := time.Now()
	var err error

	switch target {
	case "text", "vision":
		p := h.text
		if target == "vision" {
			p = h.vision
		}
		if p == nil {
			WriteError(w, http.StatusServiceUnavailable, target+" provider not configured")
			return
		}
		res.Provider, res.Model = p.Name(), p.Model()
		_, err = p.Complete(ctx, llm.Request{Prompt: "ping", MaxTokens: 1})
	case "speech":
		if h.speech == nil {
			WriteError(w, http.StatusServiceUnavailable, "speech provider not configured")
			return
		}
		lang := r.URL.Query().Get("language")
		res.Provider = speechProviderName(h.speech, lang)
		_, err = h.speech.Synthesize(ctx, speech.Request{Text: "ok", Language: lang})
	default:
		WriteError(w, http.StatusNotFound, "unknown provider target")
		return
	}

	res.LatencyMs = time.Since(start).Milliseconds()
	res.OK = err == nil
	if err != nil {
		if kind, ok := apperr.KindOf(err); ok {
			res.Kind, res.Error = kind.String(), kind.Message()
		} else {
			res.Error = err.Error()
		}
		hlog.FromRequest(r).Warn().Err(err).Str("target", target).Str("provider", res.Provider).Msg("provider connection test failed")
	}
	WriteJSON(w, http.StatusOK, res)
}

// speechProviderName resolves a router to the backend that would serve lang.
func speechProviderName(p speech.Provider, lang string) string {
	rt, ok := p.(interface {
		Route(string) (speech.Endpoint, error)
	})
	if !ok {
		return p.Name()
	}
	e, err := rt.Route(lang)
	if err != nil {
		return p.Name()
	}
	return e.Provider.Name()
}

func (h *ProvidersHandler) Routes(r chi.Router) {
	r.Post("/providers/{target}/test", h.Test)
}
