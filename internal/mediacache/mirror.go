package mediacache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/veya-engine/internal/metrics"
)

// ObjectStore is the upload side of a remote store.
type ObjectStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
}

// Mirror uploads promoted artifacts in the background. Local copies stay
// authoritative, so a failed or skipped upload loses nothing.
type Mirror struct {
	store    ObjectStore
	ch       chan uploadJob
	log      zerolog.Logger
	stopped  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
	workers  int

	uploaded atomic.Int64
	failed   atomic.Int64
}

type uploadJob struct {
	key  string
	data []byte
}

// NewMirror creates a mirror with the given queue size and worker count.
func NewMirror(store ObjectStore, bufferSize, workers int, log zerolog.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	return &Mirror{
		store:   store,
		ch:      make(chan uploadJob, bufferSize),
		workers: workers,
		log:     log.With().Str("component", "cache-mirror").Logger(),
	}
}

// Enqueue adds an upload. Non-blocking: drops with a warning if the queue
// is full or the mirror is stopped.
func (u *Mirror) Enqueue(key string, data []byte) {
	if u.stopped.Load() {
		return
	}
	select {
	case u.ch <- uploadJob{key: key, data: data}:
	default:
		metrics.CacheMirrorUploadsTotal.WithLabelValues("dropped").Inc()
		u.log.Warn().Str("key", key).Msg("mirror queue full, skipping (file safe locally)")
	}
}

// Start launches the worker goroutines.
func (u *Mirror) Start() {
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", u.workers).Int("buffer", cap(u.ch)).Msg("cache mirror started")
}

// Stop closes the queue and waits for workers to drain it.
func (u *Mirror) Stop() {
	u.stopped.Store(true)
	u.stopOnce.Do(func() { close(u.ch) })
	u.wg.Wait()
	u.log.Info().
		Int64("uploaded", u.uploaded.Load()).
		Int64("failed", u.failed.Load()).
		Msg("cache mirror stopped")
}

func (u *Mirror) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := u.store.Save(ctx, job.key, job.data, "audio/mpeg"); err != nil {
			u.failed.Add(1)
			metrics.CacheMirrorUploadsTotal.WithLabelValues("error").Inc()
			u.log.Error().Err(err).Str("key", job.key).Msg("mirror upload failed (file safe locally)")
		} else {
			u.uploaded.Add(1)
			metrics.CacheMirrorUploadsTotal.WithLabelValues("ok").Inc()
		}
		cancel()
	}
}
