package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTTopics      string `env:"MQTT_TOPICS" envDefault:"veya/trigger/#"`
	MQTTStatusTopic string `env:"MQTT_STATUS_TOPIC" envDefault:"veya/status"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"veya-engine"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	// DataDir holds persisted audio and the settings file; CacheDir holds
	// temporary audio.
	DataDir      string `env:"DATA_DIR" envDefault:"./data"`
	CacheDir     string `env:"CACHE_DIR" envDefault:"./cache"`
	SettingsFile string `env:"SETTINGS_FILE"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Text providers. Text insight and vision completion may use
	// different families and models.
	TextProvider   string        `env:"TEXT_PROVIDER" envDefault:"openai"`
	TextBaseURL    string        `env:"TEXT_BASE_URL"`
	TextModel      string        `env:"TEXT_MODEL" envDefault:"gpt-4o-mini"`
	TextAPIKey     string        `env:"TEXT_API_KEY"`
	VisionProvider string        `env:"VISION_PROVIDER"`
	VisionBaseURL  string        `env:"VISION_BASE_URL"`
	VisionModel    string        `env:"VISION_MODEL"`
	VisionAPIKey   string        `env:"VISION_API_KEY"`
	LLMTimeout     time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`

	// Speech endpoints, one per language. TTS_ENDPOINTS is a JSON array of
	// speech endpoint objects; when empty a single endpoint is built from
	// the TTS_* scalars.
	TTSEndpoints string        `env:"TTS_ENDPOINTS"`
	TTSProvider  string        `env:"TTS_PROVIDER" envDefault:"openai"`
	TTSBaseURL   string        `env:"TTS_BASE_URL"`
	TTSModel     string        `env:"TTS_MODEL"`
	TTSVoice     string        `env:"TTS_VOICE"`
	TTSAPIKey    string        `env:"TTS_API_KEY"`
	TTSRegion    string        `env:"TTS_REGION" envDefault:"us-east-1"`
	TTSTimeout   time.Duration `env:"TTS_TIMEOUT" envDefault:"60s"`

	EvictInterval time.Duration `env:"CACHE_EVICT_INTERVAL" envDefault:"1h"`
	RecordWorkers int           `env:"RECORD_WORKERS" envDefault:"2"`
	RecordQueue   int           `env:"RECORD_QUEUE" envDefault:"256"`

	S3 S3Config `envPrefix:"S3_"`
}

// S3Config configures the optional object-store mirror of persisted audio.
type S3Config struct {
	Bucket    string `env:"BUCKET"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX"`
}

// Enabled reports whether a bucket is configured.
func (s S3Config) Enabled() bool { return s.Bucket != "" }

// TempAudioDir is the temporary audio tier.
func (c *Config) TempAudioDir() string { return filepath.Join(c.CacheDir, "audio", "temp") }

// SavedAudioDir is the persisted audio tier.
func (c *Config) SavedAudioDir() string { return filepath.Join(c.DataDir, "audio", "saved") }

// SettingsPath returns SETTINGS_FILE or <data dir>/settings.json.
func (c *Config) SettingsPath() string {
	if c.SettingsFile != "" {
		return c.SettingsFile
	}
	return filepath.Join(c.DataDir, "settings.json")
}

// SpeechEndpoint is one entry of TTS_ENDPOINTS.
type SpeechEndpoint struct {
	Provider string `json:"provider"`
	Language string `json:"language"`
	BaseURL  string `json:"base_url"`
	Model    string `json:"model"`
	Voice    string `json:"voice"`
	APIKey   string `json:"api_key"`
	Region   string `json:"region"`
	Default  bool   `json:"default"`
}

// SpeechEndpoints returns the configured speech endpoints. Without
// TTS_ENDPOINTS a single default endpoint is built from the TTS_* values.
func (c *Config) SpeechEndpoints() ([]SpeechEndpoint, error) {
	if c.TTSEndpoints == "" {
		return []SpeechEndpoint{{
			Provider: c.TTSProvider,
			BaseURL:  c.TTSBaseURL,
			Model:    c.TTSModel,
			Voice:    c.TTSVoice,
			APIKey:   c.TTSAPIKey,
			Region:   c.TTSRegion,
			Default:  true,
		}}, nil
	}
	var eps []SpeechEndpoint
	if err := json.Unmarshal([]byte(c.TTSEndpoints), &eps); err != nil {
		return nil, fmt.Errorf("parse TTS_ENDPOINTS: %w", err)
	}
	for i := range eps {
		if eps[i].Provider == "" {
			eps[i].Provider = c.TTSProvider
		}
		if eps[i].Region == "" {
			eps[i].Region = c.TTSRegion
		}
	}
	return eps, nil
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	HTTPAddr      string
	LogLevel      string
	DatabaseURL   string
	MQTTBrokerURL string
	DataDir       string
	CacheDir      string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.MQTTBrokerURL != "" {
		cfg.MQTTBrokerURL = overrides.MQTTBrokerURL
	}
	if overrides.DataDir != "" {
		cfg.DataDir = overrides.DataDir
	}
	if overrides.CacheDir != "" {
		cfg.CacheDir = overrides.CacheDir
	}

	// Vision completion falls back to the text provider
	if cfg.VisionProvider == "" {
		cfg.VisionProvider = cfg.TextProvider
		if cfg.VisionBaseURL == "" {
			cfg.VisionBaseURL = cfg.TextBaseURL
		}
		if cfg.VisionAPIKey == "" {
			cfg.VisionAPIKey = cfg.TextAPIKey
		}
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.TextModel
	}

	return cfg, nil
}
