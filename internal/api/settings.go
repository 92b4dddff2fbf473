package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/veya-engine/internal/config"
)

type SettingsHandler struct {
	store *config.SettingsStore
}

func NewSettingsHandler(store *config.SettingsStore) *SettingsHandler {
	return &SettingsHandler{store: store}
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.store.Get())
}

// Put applies a full or partial settings document. Omitted fields keep
// their current values.
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	next := h.store.Get()
	if err := DecodeJSON(r, &next); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := next.Validate(); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid settings", err.Error())
		return
	}
	if err := h.store.Update(next); err != nil {
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to save settings", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, h.store.Get())
}

func (h *SettingsHandler) Routes(r chi.Router) {
	r.Get("/settings", h.Get)
	r.Put("/settings", h.Put)
}
