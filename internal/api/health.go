package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/veya-engine/internal/mediacache"
	"github.com/snarg/veya-engine/internal/pipeline"
)

// Pinger reports database reachability. *database.DB implements it.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Connection reports broker connectivity. *mqttclient.Client implements it.
type Connection interface {
	IsConnected() bool
}

// RecorderStats exposes the record writer queue. *pipeline.Recorder implements it.
type RecorderStats interface {
	Stats() pipeline.RecorderStats
}

type HealthResponse struct {
	Status        string                  `json:"status"`
	Version       string                  `json:"version"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Checks        map[string]string       `json:"checks"`
	Cache         *mediacache.Stats       `json:"cache,omitempty"`
	Recorder      *pipeline.RecorderStats `json:"recorder,omitempty"`
}

// HealthHandler reports component status. Every dependency is optional.
type HealthHandler struct {
	db        Pinger
	mqtt      Connection
	cache     *mediacache.Manager
	recorder  RecorderStats
	version   string
	startTime time.Time
}

func NewHealthHandler(db Pinger, mqtt Connection, cache *mediacache.Manager, recorder RecorderStats, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		cache:     cache,
		recorder:  recorder,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check. History is optional, so a failure only degrades.
	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "degraded"
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			status = "degraded"
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	// Cache check. Without the audio tiers casts cannot finish.
	if h.cache != nil {
		stats := h.cache.Stats()
		resp.Cache = &stats
		checks["cache"] = "ok"
	} else {
		checks["cache"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	if h.recorder != nil {
		stats := h.recorder.Stats()
		resp.Recorder = &stats
	}

	resp.Status = status
	WriteJSON(w, httpStatus, resp)
}
