package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/veya-engine/internal/visibility"
)

type VisibilityHandler struct {
	ctl *visibility.Controller
}

func NewVisibilityHandler(ctl *visibility.Controller) *VisibilityHandler {
	return &VisibilityHandler{ctl: ctl}
}

func (h *VisibilityHandler) Get(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.ctl.State())
}

// Apply runs one visibility operation and returns the resulting state.
func (h *VisibilityHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var s visibility.State
	switch chi.URLParam(r, "op") {
	case "show":
		s = h.ctl.Show()
	case "blur":
		s = h.ctl.Blur()
	case "toggle-pin":
		s = h.ctl.TogglePin()
	default:
		WriteError(w, http.StatusNotFound, "unknown visibility operation")
		return
	}
	WriteJSON(w, http.StatusOK, s)
}

func (h *VisibilityHandler) Routes(r chi.Router) {
	r.Get("/visibility", h.Get)
	r.Post("/visibility/{op}", h.Apply)
}
