package mediacache

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/veya-engine/internal/apperr"
	"github.com/snarg/veya-engine/internal/metrics"
)

// Policy bounds the persisted tier. A zero field disables that bound.
type Policy struct {
	MaxTotalBytes int64 `json:"max_total_bytes"`
	MaxAgeDays    int   `json:"max_age_days"`
}

// PolicyFromSettings converts the user-facing megabyte/day settings.
func PolicyFromSettings(maxSizeMB, maxDays int) Policy {
	return Policy{MaxTotalBytes: int64(maxSizeMB) * 1024 * 1024, MaxAgeDays: maxDays}
}

// EvictResult summarizes one eviction run.
type EvictResult struct {
	ExpiredRemoved  int   `json:"expired_removed"`
	OversizeRemoved int   `json:"oversize_removed"`
	FreedBytes      int64 `json:"freed_bytes"`
	RemainingBytes  int64 `json:"remaining_bytes"`
}

// Evict applies p to the persisted tier: files older than MaxAgeDays go
// first, then the oldest files until the total fits MaxTotalBytes. The
// temporary tier is never touched.
func (m *Manager) Evict(p Policy) (EvictResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res EvictResult
	if p.MaxAgeDays <= 0 && p.MaxTotalBytes <= 0 {
		return res, nil
	}

	files, err := scanDir(m.savedDir)
	if err != nil {
		return res, apperr.Wrap(apperr.StorageFailure, err)
	}

	var totalSize int64
	for _, f := range files {
		totalSize += f.size
	}

	// AddDate avoids the time.Duration overflow of very large day counts.
	cutoff := m.now().AddDate(0, 0, -p.MaxAgeDays)
	var firstErr error

	// files is oldest first, so expired files are all at the front.
	for _, f := range files {
		reason := ""
		switch {
		case p.MaxAgeDays > 0 && f.modTime.Before(cutoff):
			reason = "expired"
		case p.MaxTotalBytes > 0 && totalSize > p.MaxTotalBytes:
			reason = "oversize"
		default:
			continue
		}

		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		totalSize -= f.size
		res.FreedBytes += f.size
		if reason == "expired" {
			res.ExpiredRemoved++
		} else {
			res.OversizeRemoved++
		}
		metrics.CacheEvictionsTotal.WithLabelValues(reason).Inc()
	}
	res.RemainingBytes = totalSize

	if res.ExpiredRemoved+res.OversizeRemoved > 0 {
		m.log.Info().
			Int("expired", res.ExpiredRemoved).
			Int("oversize", res.OversizeRemoved).
			Str("freed", humanizeBytes(res.FreedBytes)).
			Str("remaining", humanizeBytes(totalSize)).
			Msg("cache eviction complete")
	}
	if firstErr != nil {
		return res, apperr.Wrap(apperr.StorageFailure, firstErr)
	}
	return res, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}

// Services runs the cache's background workers as a unit.
type Services []BackgroundService

func (s Services) Start() {
	for _, svc := range s {
		svc.Start()
	}
}

// Stop stops the services in reverse start order.
func (s Services) Stop() {
	for i := len(s) - 1; i >= 0; i-- {
		s[i].Stop()
	}
}

// Evictor runs Evict periodically with the policy current at each run.
type Evictor struct {
	m        *Manager
	policy   func() Policy
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewEvictor creates an evictor. policy is read fresh at every run.
func NewEvictor(m *Manager, policy func() Policy, interval time.Duration, log zerolog.Logger) *Evictor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Evictor{
		m:        m,
		policy:   policy,
		interval: interval,
		log:      log.With().Str("component", "cache-evictor").Logger(),
		stop:     make(chan struct{}),
	}
}

func (e *Evictor) Start() {
	go e.loop()
}

func (e *Evictor) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *Evictor) loop() {
	// Run once on startup to apply the policy to anything left from last session
	e.run()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.run()
		case <-e.stop:
			return
		}
	}
}

func (e *Evictor) run() {
	if _, err := e.m.Evict(e.policy()); err != nil {
		e.log.Error().Err(err).Msg("cache eviction failed")
	}
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
