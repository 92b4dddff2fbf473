package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/veya-engine/internal/config"
	"github.com/snarg/veya-engine/internal/llm"
	"github.com/snarg/veya-engine/internal/mediacache"
	"github.com/snarg/veya-engine/internal/metrics"
	"github.com/snarg/veya-engine/internal/speech"
	"github.com/snarg/veya-engine/internal/visibility"
)

// maxBodyBytes bounds request bodies; vision captures carry base64 images.
const maxBodyBytes = 16 << 20

// ServerOptions carries the components behind the HTTP surface. DB, MQTT,
// Records, Recorder and the provider clients may be nil.
type ServerOptions struct {
	Config       *config.Config
	Orchestrator Orchestrator
	Visibility   *visibility.Controller
	Cache        *mediacache.Manager
	Settings     *config.SettingsStore
	Records      RecordReader
	Text         llm.Provider
	Vision       llm.Provider
	Speech       speech.Provider
	Recorder     RecorderStats
	DB           Pinger
	MQTT         Connection
	Version      string
	StartTime    time.Time
	Log          zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	return &Server{
		http: &http.Server{
			Addr:         opts.Config.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  opts.Config.ReadTimeout,
			WriteTimeout: opts.Config.WriteTimeout,
			IdleTimeout:  opts.Config.IdleTimeout,
		},
		log: opts.Log.With().Str("component", "http").Logger(),
	}
}

// NewRouter builds the route tree.
func NewRouter(opts ServerOptions) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Logger(opts.Log))
	r.Use(Recoverer)
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Health and metrics: no auth
	health := NewHealthHandler(opts.DB, opts.MQTT, opts.Cache, opts.Recorder, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	settings := opts.Settings
	aiDefault := func() bool { return settings.Get().AICompletionEnabled }
	policy := func() mediacache.Policy {
		s := settings.Get()
		return mediacache.PolicyFromSettings(s.CacheMaxSizeMB, s.CacheAutoCleanDays)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(opts.Config.AuthToken))
		r.Use(MaxBody(maxBodyBytes))

		NewPipelinesHandler(opts.Orchestrator, aiDefault).Routes(r)
		NewVisibilityHandler(opts.Visibility).Routes(r)
		NewCacheHandler(opts.Cache, policy).Routes(r)
		NewRecordsHandler(opts.Records).Routes(r)
		NewSettingsHandler(settings).Routes(r)
		NewProvidersHandler(opts.Text, opts.Vision, opts.Speech).Routes(r)
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
