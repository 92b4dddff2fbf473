package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/veya-engine/internal/mediacache"
)

type CacheHandler struct {
	cache  *mediacache.Manager
	policy func() mediacache.Policy
}

// NewCacheHandler creates the handler. policy supplies the eviction bounds
// from the current settings.
func NewCacheHandler(cache *mediacache.Manager, policy func() mediacache.Policy) *CacheHandler {
	return &CacheHandler{cache: cache, policy: policy}
}

type cacheResponse struct {
	Stats     mediacache.Stats      `json:"stats"`
	Policy    mediacache.Policy     `json:"policy"`
	Temporary []mediacache.Artifact `json:"temporary"`
	Persisted []mediacache.Artifact `json:"persisted"`
}

func (h *CacheHandler) Get(w http.ResponseWriter, r *http.Request) {
	temp, err := h.cache.List(mediacache.Temporary)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	saved, err := h.cache.List(mediacache.Persisted)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, cacheResponse{
		Stats:     h.cache.Stats(),
		Policy:    h.policy(),
		Temporary: temp,
		Persisted: saved,
	})
}

type promoteRequest struct {
	Path string `json:"path"`
}

func (h *CacheHandler) Promote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := DecodeJSON(r, &req); err != nil || req.Path == "" {
		WriteError(w, http.StatusBadRequest, "path is required")
		return
	}
	a, err := h.cache.Promote(r.Context(), mediacache.Artifact{Path: req.Path, Tier: mediacache.Temporary})
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("path", req.Path).Msg("promote failed")
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, a)
}

func (h *CacheHandler) Purge(w http.ResponseWriter, r *http.Request) {
	n, err := h.cache.PurgeTemporary()
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// PurgePersisted empties the saved tier.
func (h *CacheHandler) PurgePersisted(w http.ResponseWriter, r *http.Request) {
	n, err := h.cache.PurgePersisted()
	if err != nil {
		WriteAppError(w, err)
		return
	}
	hlog.FromRequest(r).Info().Int("removed", n).Msg("saved audio cleared")
	WriteJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *CacheHandler) Evict(w http.ResponseWriter, r *http.Request) {
	res, err := h.cache.Evict(h.policy())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Audio streams one artifact as audio/mpeg.
func (h *CacheHandler) Audio(w http.ResponseWriter, r *http.Request) {
	tier := mediacache.Tier(chi.URLParam(r, "tier"))
	if tier != mediacache.Temporary && tier != mediacache.Persisted {
		WriteError(w, http.StatusNotFound, "unknown tier")
		return
	}
	a, err := h.cache.Lookup(tier, chi.URLParam(r, "name"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "audio not found")
		return
	}
	f, err := h.cache.Open(a)
	if err != nil {
		WriteError(w, http.StatusNotFound, "audio not found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.FormatInt(a.SizeBytes, 10))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

func (h *CacheHandler) DeletePersisted(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Delete(chi.URLParam(r, "name")); err != nil {
		WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CacheHandler) Routes(r chi.Router) {
	r.Get("/cache", h.Get)
	r.Post("/cache/promote", h.Promote)
	r.Post("/cache/purge", h.Purge)
	r.Delete("/cache/persisted", h.PurgePersisted)
	r.Post("/cache/evict", h.Evict)
	r.Get("/cache/{tier}/{name}", h.Audio)
	r.Delete("/cache/persisted/{name}", h.DeletePersisted)
}
