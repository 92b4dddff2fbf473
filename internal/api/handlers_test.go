package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/veya-engine/internal/config"
	"github.com/snarg/veya-engine/internal/database"
	"github.com/snarg/veya-engine/internal/mediacache"
	"github.com/snarg/veya-engine/internal/pipeline"
	"github.com/snarg/veya-engine/internal/visibility"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecordReader struct {
	queries []database.QueryRecord
	err     error
	page    int
}

func (f *fakeRecordReader) ListQueryRecords(ctx context.Context, page, pageSize int) ([]database.QueryRecord, error) {
	f.page = page
	return f.queries, f.err
}

func (f *fakeRecordReader) ListPodcastRecords(ctx context.Context, page, pageSize int) ([]database.PodcastRecord, error) {
	return nil, f.err
}

func (f *fakeRecordReader) TopWords(ctx context.Context, limit int) ([]database.WordFrequency, error) {
	return []database.WordFrequency{{Word: "hello", Count: 3}}, f.err
}

type testEnv struct {
	handler  http.Handler
	orch     *pipeline.Orchestrator
	vis      *visibility.Controller
	cache    *mediacache.Manager
	settings *config.SettingsStore
}

func newTestEnv(t *testing.T, token string, records RecordReader) *testEnv {
	t.Helper()
	dir := t.TempDir()
	settings, err := config.OpenSettings(filepath.Join(dir, "settings.json"), zerolog.Nop())
	require.NoError(t, err)
	cache, err := mediacache.New(filepath.Join(dir, "temp"), filepath.Join(dir, "saved"), zerolog.Nop())
	require.NoError(t, err)

	vis := visibility.New()
	orch := pipeline.New(pipeline.Options{Visibility: vis, Log: zerolog.Nop()})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	})

	opts := ServerOptions{
		Config:       &config.Config{AuthToken: token},
		Orchestrator: orch,
		Visibility:   vis,
		Cache:        cache,
		Settings:     settings,
		Records:      records,
		Version:      "test",
		StartTime:    time.Now(),
		Log:          zerolog.Nop(),
	}
	return &testEnv{handler: NewRouter(opts), orch: orch, vis: vis, cache: cache, settings: settings}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "secret", nil)
	rec := env.do(t, "GET", "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "not_configured", body.Checks["database"])
	assert.Equal(t, "ok", body.Checks["cache"])
	assert.NotNil(t, body.Cache)
}

type downDB struct{}

func (downDB) HealthCheck(ctx context.Context) error { return errors.New("connection refused") }

func TestHealthDegradedDatabase(t *testing.T) {
	h := NewHealthHandler(downDB{}, nil, nil, nil, "test", time.Now())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no cache means unhealthy")
	body := decode[HealthResponse](t, rec)
	assert.Equal(t, "error", body.Checks["database"])
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, "secret", nil)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, "GET", "/api/v1/settings", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/api/v1/settings?token=secret", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/metrics", "").Code)
}

func TestStartPipelines(t *testing.T) {
	env := newTestEnv(t, "", nil)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"vision_verbatim", "/api/v1/pipelines/vision-capture", `{"ocr_text":"hello","ai_completion":false}`, http.StatusAccepted},
		{"vision_ai_default_without_model", "/api/v1/pipelines/vision-capture", `{"ocr_text":"hello"}`, http.StatusServiceUnavailable},
		{"vision_empty", "/api/v1/pipelines/vision-capture", `{"ai_completion":false}`, http.StatusBadRequest},
		{"vision_bad_image", "/api/v1/pipelines/vision-capture", `{"image_base64":"***"}`, http.StatusBadRequest},
		{"text_empty", "/api/v1/pipelines/text-insight", `{"text":"  "}`, http.StatusBadRequest},
		{"text_without_model", "/api/v1/pipelines/text-insight", `{"text":"hello"}`, http.StatusServiceUnavailable},
		{"cast_unknown_source", "/api/v1/pipelines/cast", `{"content":"x","source":"web","target_language":"en"}`, http.StatusBadRequest},
		{"malformed", "/api/v1/pipelines/cast", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "POST", tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	assert.True(t, env.vis.State().Visible, "a started pipeline shows the surface")
}

func TestStreamEvents(t *testing.T) {
	env := newTestEnv(t, "", nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	rec := env.do(t, "POST", "/api/v1/pipelines/vision-capture", `{"ocr_text":"hello world","ai_completion":false}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	handle := decode[pipeline.Handle](t, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/v1/pipelines/vision_capture/events", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var kinds []string
	var done pipeline.Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if kind, ok := strings.CutPrefix(line, "event: "); ok {
			kinds = append(kinds, kind)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok && len(kinds) > 0 && kinds[len(kinds)-1] == "done" {
			require.NoError(t, json.Unmarshal([]byte(data), &done))
			break
		}
	}
	assert.Equal(t, []string{"start", "delta", "done"}, kinds)
	assert.Equal(t, handle.Invocation, done.Invocation)
}

func TestStreamEventsDetach(t *testing.T) {
	env := newTestEnv(t, "", nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	open := func() *http.Response {
		req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/v1/pipelines/cast/events", nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	first := open()
	defer first.Body.Close()
	second := open()
	defer second.Body.Close()

	sc := bufio.NewScanner(first.Body)
	require.True(t, sc.Scan())
	assert.Equal(t, "event: detached", sc.Text())
}

func TestStreamEventsUnknownPipeline(t *testing.T) {
	env := newTestEnv(t, "", nil)
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/v1/pipelines/nope/events", "").Code)
}

func TestVisibilityRoutes(t *testing.T) {
	env := newTestEnv(t, "", nil)

	steps := []struct {
		op   string
		want visibility.State
	}{
		{"show", visibility.State{Visible: true}},
		{"toggle-pin", visibility.State{Visible: true, Pinned: true}},
		{"blur", visibility.State{Visible: true, Pinned: true}},
		{"toggle-pin", visibility.State{Visible: true}},
		{"blur", visibility.State{}},
	}
	for _, s := range steps {
		rec := env.do(t, "POST", "/api/v1/visibility/"+s.op, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, s.want, decode[visibility.State](t, rec), s.op)
	}
	assert.Equal(t, visibility.State{}, decode[visibility.State](t, env.do(t, "GET", "/api/v1/visibility", "")))
	assert.Equal(t, http.StatusNotFound, env.do(t, "POST", "/api/v1/visibility/hide", "").Code)
}

func TestCacheRoutes(t *testing.T) {
	env := newTestEnv(t, "", nil)
	audio := bytes.Repeat([]byte{0xAB}, 64)
	a, err := env.cache.StoreTemporary(context.Background(), audio)
	require.NoError(t, err)

	rec := env.do(t, "POST", "/api/v1/cache/promote", `{"path":"`+a.Path+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[mediacache.Artifact](t, rec)
	assert.Equal(t, mediacache.Persisted, saved.Tier)

	listing := decode[cacheResponse](t, env.do(t, "GET", "/api/v1/cache", ""))
	assert.Len(t, listing.Temporary, 1)
	assert.Len(t, listing.Persisted, 1)
	assert.Equal(t, int64(500*1024*1024), listing.Policy.MaxTotalBytes)

	rec = env.do(t, "GET", "/api/v1/cache/persisted/"+saved.Name(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, audio, rec.Body.Bytes())

	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/v1/cache/persisted/missing.mp3", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, "POST", "/api/v1/cache/promote", `{}`).Code)

	rec = env.do(t, "POST", "/api/v1/cache/purge", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"removed": 1}, decode[map[string]int](t, rec))

	rec = env.do(t, "POST", "/api/v1/cache/evict", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[mediacache.EvictResult](t, rec).ExpiredRemoved)

	assert.Equal(t, http.StatusNoContent, env.do(t, "DELETE", "/api/v1/cache/persisted/"+saved.Name(), "").Code)
	listing = decode[cacheResponse](t, env.do(t, "GET", "/api/v1/cache", ""))
	assert.Empty(t, listing.Persisted)
}

func TestCachePurgePersistedRoute(t *testing.T) {
	env := newTestEnv(t, "", nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		a, err := env.cache.StoreTemporary(ctx, []byte{byte(i + 1)})
		require.NoError(t, err)
		_, err = env.cache.Promote(ctx, a)
		require.NoError(t, err)
	}

	rec := env.do(t, "DELETE", "/api/v1/cache/persisted", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]int{"removed": 3}, decode[map[string]int](t, rec))

	listing := decode[cacheResponse](t, env.do(t, "GET", "/api/v1/cache", ""))
	assert.Empty(t, listing.Persisted)
	assert.Len(t, listing.Temporary, 3)
}

func TestSettingsRoutes(t *testing.T) {
	env := newTestEnv(t, "", nil)

	got := decode[config.Settings](t, env.do(t, "GET", "/api/v1/settings", ""))
	assert.Equal(t, config.DefaultSettings(), got)

	rec := env.do(t, "PUT", "/api/v1/settings", `{"retry_count":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[config.Settings](t, rec)
	assert.Equal(t, 5, got.RetryCount)
	assert.Equal(t, "zh-CN", got.Locale, "omitted fields keep their values")
	assert.Equal(t, 5, env.settings.Get().RetryCount)

	rec = env.do(t, "PUT", "/api/v1/settings", `{"retry_count":11}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 5, env.settings.Get().RetryCount)

	rec = env.do(t, "PUT", "/api/v1/settings", `{"cache_auto_clean_days":200000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, config.DefaultSettings().CacheAutoCleanDays, env.settings.Get().CacheAutoCleanDays)
}

func TestRecordRoutes(t *testing.T) {
	t.Run("not_configured", func(t *testing.T) {
		env := newTestEnv(t, "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, env.do(t, "GET", "/api/v1/records/queries", "").Code)
	})

	t.Run("pages", func(t *testing.T) {
		store := &fakeRecordReader{queries: []database.QueryRecord{{ID: "q1", InputText: "hello"}}}
		env := newTestEnv(t, "", store)

		rec := env.do(t, "GET", "/api/v1/records/queries?page=2&page_size=10", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[pageResponse[database.QueryRecord]](t, rec)
		assert.Equal(t, 2, body.Page)
		assert.Equal(t, 10, body.PageSize)
		assert.Equal(t, "q1", body.Items[0].ID)
		assert.Equal(t, 2, store.page)

		rec = env.do(t, "GET", "/api/v1/records/podcasts", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"items":[]`)

		rec = env.do(t, "GET", "/api/v1/records/words", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"hello"`)

		assert.Equal(t, http.StatusBadRequest, env.do(t, "GET", "/api/v1/records/queries?page=0", "").Code)
	})

	t.Run("store_error", func(t *testing.T) {
		env := newTestEnv(t, "", &fakeRecordReader{err: errors.New("db down")})
		assert.Equal(t, http.StatusInternalServerError, env.do(t, "GET", "/api/v1/records/queries", "").Code)
	})
}
