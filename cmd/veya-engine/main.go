package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	veyaengine "github.com/snarg/veya-engine"
	"github.com/snarg/veya-engine/internal/api"
	"github.com/snarg/veya-engine/internal/config"
	"github.com/snarg/veya-engine/internal/database"
	"github.com/snarg/veya-engine/internal/llm"
	"github.com/snarg/veya-engine/internal/mediacache"
	"github.com/snarg/veya-engine/internal/metrics"
	"github.com/snarg/veya-engine/internal/mqttclient"
	"github.com/snarg/veya-engine/internal/pipeline"
	"github.com/snarg/veya-engine/internal/retry"
	"github.com/snarg/veya-engine/internal/secrets"
	"github.com/snarg/veya-engine/internal/speech"
	"github.com/snarg/veya-engine/internal/visibility"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (env: HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (env: LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL for learning history (env: DATABASE_URL)")
	flag.StringVar(&overrides.MQTTBrokerURL, "mqtt-url", "", "MQTT broker URL (env: MQTT_BROKER_URL)")
	flag.StringVar(&overrides.DataDir, "data-dir", "", "Directory for settings and saved audio (env: DATA_DIR)")
	flag.StringVar(&overrides.CacheDir, "cache-dir", "", "Directory for temporary audio (env: CACHE_DIR)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("veya-engine", version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("veya-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// User settings, reloaded when the file is edited
	settings, err := config.OpenSettings(cfg.SettingsPath(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open settings")
	}
	if err := settings.Watch(); err != nil {
		log.Warn().Err(err).Msg("settings file watch unavailable")
	}
	settings.OnChange(func(s config.Settings) {
		log.Info().
			Int("retry_count", s.RetryCount).
			Int("cache_max_size_mb", s.CacheMaxSizeMB).
			Int("cache_auto_clean_days", s.CacheAutoCleanDays).
			Bool("ai_completion", s.AICompletionEnabled).
			Msg("settings changed")
	})

	textPolicy := func() retry.Policy {
		return retry.TextPolicy.WithMaxRetries(uint(settings.Get().RetryCount))
	}
	castPolicy := func() retry.Policy {
		return retry.CastPolicy.WithMaxRetries(uint(settings.Get().RetryCount))
	}

	// Provider keys live in the secret store; configs carry references
	keys := secrets.NewMemoryStore()

	textLog := log.With().Str("component", "llm").Logger()
	text, err := buildText(ctx, keys, "text", cfg.TextProvider, cfg.TextBaseURL, cfg.TextModel, cfg.TextAPIKey, cfg.LLMTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure text provider")
	}
	vision, err := buildText(ctx, keys, "vision", cfg.VisionProvider, cfg.VisionBaseURL, cfg.VisionModel, cfg.VisionAPIKey, cfg.LLMTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure vision provider")
	}
	log.Info().
		Str("text", text.Name()+"/"+text.Model()).
		Str("vision", vision.Name()+"/"+vision.Model()).
		Msg("text providers configured")

	speechLog := log.With().Str("component", "speech").Logger()
	endpoints, err := buildSpeech(ctx, keys, cfg, castPolicy, speechLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure speech endpoints")
	}

	// Audio tiers
	cacheLog := log.With().Str("component", "mediacache").Logger()
	cache, err := mediacache.New(cfg.TempAudioDir(), cfg.SavedAudioDir(), cacheLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open audio cache")
	}

	var background mediacache.Services
	if cfg.S3.Enabled() {
		store, err := mediacache.NewS3Store(ctx, cfg.S3, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure s3 mirror")
		}
		if err := store.HeadBucket(ctx); err != nil {
			log.Warn().Err(err).Str("bucket", cfg.S3.Bucket).Msg("s3 bucket check failed, uploads may fail")
		}
		mirror := mediacache.NewMirror(store, 64, 2, log)
		cache.SetMirror(mirror)
		background = append(background, mirror)
	}

	cachePolicy := func() mediacache.Policy {
		s := settings.Get()
		return mediacache.PolicyFromSettings(s.CacheMaxSizeMB, s.CacheAutoCleanDays)
	}
	background = append(background, mediacache.NewEvictor(cache, cachePolicy, cfg.EvictInterval, log))
	background.Start()

	// Learning history is optional
	var (
		db       *database.DB
		recorder *pipeline.Recorder
		pool     *pgxpool.Pool
	)
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		if err := db.InitSchema(ctx, veyaengine.SchemaSQL); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		recorder = pipeline.NewRecorder(db, cfg.RecordWorkers, cfg.RecordQueue, log)
		recorder.Start()
		pool = db.Pool
	} else {
		log.Warn().Msg("DATABASE_URL not set, learning history disabled")
	}

	prometheus.MustRegister(metrics.NewCollector(pool, cache))

	vis := visibility.New()
	vis.OnChange(func(s visibility.State) {
		log.Debug().Bool("visible", s.Visible).Bool("pinned", s.Pinned).Msg("visibility changed")
	})

	orchOpts := pipeline.Options{
		Text:       llm.WithRetry(text, textPolicy, textLog),
		Vision:     llm.WithRetry(vision, textPolicy, textLog),
		Speech:     speech.NewRouter(endpoints),
		Audio:      cache,
		Visibility: vis,
		Log:        log,
	}
	if recorder != nil {
		orchOpts.Records = recorder
	}
	orch := pipeline.New(orchOpts)

	aiDefault := func() bool { return settings.Get().AICompletionEnabled }

	// MQTT triggers and status are optional
	var (
		mqtt   *mqttclient.Client
		status *mqttclient.StatusPublisher
	)
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:     cfg.MQTTBrokerURL,
			ClientID:      cfg.MQTTClientID,
			Topics:        cfg.MQTTTopics,
			PresenceTopic: cfg.MQTTStatusTopic + "/engine",
			Username:      cfg.MQTTUsername,
			Password:      cfg.MQTTPassword,
			Log:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		mqtt.SetMessageHandler(mqttclient.NewTriggerHandler(orch, aiDefault, log).HandleMessage)

		status = mqttclient.NewStatusPublisher(mqtt, cfg.MQTTStatusTopic, 64, log)
		for _, name := range pipeline.Names() {
			status.Watch(orch.Channel(name))
		}
	}

	// HTTP Server
	srvOpts := api.ServerOptions{
		Config:       cfg,
		Orchestrator: orch,
		Visibility:   vis,
		Cache:        cache,
		Settings:     settings,
		Text:         orchOpts.Text,
		Vision:       orchOpts.Vision,
		Speech:       orchOpts.Speech,
		Version:      version,
		StartTime:    startTime,
		Log:          log,
	}
	if db != nil {
		srvOpts.DB = db
		srvOpts.Records = db
	}
	if recorder != nil {
		srvOpts.Recorder = recorder
	}
	if mqtt != nil {
		srvOpts.MQTT = mqtt
	}
	srv := api.NewServer(srvOpts)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("pipelines did not stop in time")
	}
	if status != nil {
		status.Close()
	}
	if mqtt != nil {
		mqtt.Close()
	}
	if recorder != nil {
		recorder.Stop()
	}
	background.Stop()
	if n, err := cache.PurgeTemporary(); err != nil {
		log.Warn().Err(err).Msg("temporary audio purge failed")
	} else if n > 0 {
		log.Info().Int("files", n).Msg("temporary audio purged")
	}
	settings.Stop()
	if db != nil {
		db.Close()
	}

	log.Info().Msg("veya-engine stopped")
}

// storeKey puts a configured key into the secret store and returns its
// reference. An empty key yields the zero reference.
func storeKey(ctx context.Context, keys secrets.Store, name, key string) (secrets.KeyRef, error) {
	if key == "" {
		return "", nil
	}
	id, err := keys.Put(ctx, name, key)
	if err != nil {
		return "", fmt.Errorf("store %s key: %w", name, err)
	}
	return secrets.KeyRef(id), nil
}

func buildText(ctx context.Context, keys secrets.Store, name, family, baseURL, model, apiKey string, timeout time.Duration) (llm.Provider, error) {
	ref, err := storeKey(ctx, keys, name, apiKey)
	if err != nil {
		return nil, err
	}
	key, err := ref.Resolve(ctx, keys)
	if err != nil {
		return nil, err
	}
	return llm.New(ctx, llm.Config{
		Family:  llm.Family(family),
		BaseURL: baseURL,
		Model:   model,
		APIKey:  key,
		Timeout: timeout,
	})
}

// buildSpeech creates one retrying provider per configured speech endpoint.
func buildSpeech(ctx context.Context, keys secrets.Store, cfg *config.Config, policy func() retry.Policy, log zerolog.Logger) ([]speech.Endpoint, error) {
	eps, err := cfg.SpeechEndpoints()
	if err != nil {
		return nil, err
	}
	out := make([]speech.Endpoint, 0, len(eps))
	for i, ep := range eps {
		ref, err := storeKey(ctx, keys, fmt.Sprintf("tts:%d:%s", i, ep.Language), ep.APIKey)
		if err != nil {
			return nil, err
		}
		key, err := ref.Resolve(ctx, keys)
		if err != nil {
			return nil, err
		}
		p, err := speech.New(speech.Config{
			Family:   speech.Family(ep.Provider),
			BaseURL:  ep.BaseURL,
			APIKey:   key,
			Model:    ep.Model,
			Voice:    ep.Voice,
			Language: ep.Language,
			Region:   ep.Region,
			Default:  ep.Default,
			Timeout:  cfg.TTSTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("speech endpoint %d: %w", i, err)
		}
		log.Info().
			Str("provider", p.Name()).
			Str("language", ep.Language).
			Bool("default", ep.Default).
			Msg("speech endpoint configured")
		out = append(out, speech.Endpoint{
			Language: ep.Language,
			Default:  ep.Default,
			Provider: speech.WithRetry(p, policy, log),
		})
	}
	return out, nil
}
