package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/veya-engine/internal/database"
)

// RecordReader serves learning history. *database.DB implements it.
type RecordReader interface {
	ListQueryRecords(ctx context.Context, page, pageSize int) ([]database.QueryRecord, error)
	ListPodcastRecords(ctx context.Context, page, pageSize int) ([]database.PodcastRecord, error)
	TopWords(ctx context.Context, limit int) ([]database.WordFrequency, error)
}

type RecordsHandler struct {
	store RecordReader
}

// NewRecordsHandler creates the handler. store may be nil when no database
// is configured.
func NewRecordsHandler(store RecordReader) *RecordsHandler {
	return &RecordsHandler{store: store}
}

type pageResponse[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func (h *RecordsHandler) ListQueries(w http.ResponseWriter, r *http.Request) {
	listPage(w, r, h.store, func(ctx context.Context, p Page) ([]database.QueryRecord, error) {
		return h.store.ListQueryRecords(ctx, p.Page, p.PageSize)
	})
}

func (h *RecordsHandler) ListPodcasts(w http.ResponseWriter, r *http.Request) {
	listPage(w, r, h.store, func(ctx context.Context, p Page) ([]database.PodcastRecord, error) {
		return h.store.ListPodcastRecords(ctx, p.Page, p.PageSize)
	})
}

func (h *RecordsHandler) ListWords(w http.ResponseWriter, r *http.Request) {
	listPage(w, r, h.store, func(ctx context.Context, p Page) ([]database.WordFrequency, error) {
		limit, ok := QueryInt(r, "limit")
		if !ok {
			limit = p.PageSize
		}
		return h.store.TopWords(ctx, limit)
	})
}

func listPage[T any](w http.ResponseWriter, r *http.Request, store RecordReader, list func(context.Context, Page) ([]T, error)) {
	if store == nil {
		WriteError(w, http.StatusServiceUnavailable, "history store not configured")
		return
	}
	p, err := ParsePage(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := list(r.Context(), p)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("record query failed")
		WriteError(w, http.StatusInternalServerError, "failed to load records")
		return
	}
	if items == nil {
		items = []T{}
	}
	WriteJSON(w, http.StatusOK, pageResponse[T]{Items: items, Page: p.Page, PageSize: p.PageSize})
}

func (h *RecordsHandler) Routes(r chi.Router) {
	r.Get("/records/queries", h.ListQueries)
	r.Get("/records/podcasts", h.ListPodcasts)
	r.Get("/records/words", h.ListWords)
}
