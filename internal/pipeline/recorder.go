package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/veya-engine/internal/database"
	"github.com/snarg/veya-engine/internal/metrics"
)

// RecordStore persists learning history. Lists are newest first.
// *database.DB implements it.
type RecordStore interface {
	AppendQueryRecord(ctx context.Context, r database.QueryRecord) error
	AppendPodcastRecord(ctx context.Context, r database.PodcastRecord) error
	ListQueryRecords(ctx context.Context, page, pageSize int) ([]database.QueryRecord, error)
	ListPodcastRecords(ctx context.Context, page, pageSize int) ([]database.PodcastRecord, error)
}

// RecordSink receives records from finished pipelines. It must not block.
type RecordSink interface {
	RecordQuery(r database.QueryRecord)
	RecordPodcast(r database.PodcastRecord)
}

type recordJob struct {
	query   *database.QueryRecord
	podcast *database.PodcastRecord
}

// RecorderStats reports the current state of the record queue.
type RecorderStats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Recorder writes records through a bounded queue so a slow or failing
// store never holds up a pipeline. Write failures are logged and counted.
type Recorder struct {
	jobs    chan recordJob
	store   RecordStore
	workers int
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup

	stopOnce sync.Once
	stopped  atomic.Bool
	closeMu  sync.RWMutex

	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewRecorder creates a recorder with the given worker count and queue size.
func NewRecorder(store RecordStore, workers, queueSize int, log zerolog.Logger) *Recorder {
	if workers <= 0 {
		workers = 1
	}
	return &Recorder{
		jobs:    make(chan recordJob, queueSize),
		store:   store,
		workers: workers,
		timeout: 10 * time.Second,
		log:     log.With().Str("component", "recorder").Logger(),
	}
}

// Start launches the worker goroutines.
func (r *Recorder) Start() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.log.Info().Int("workers", r.workers).Int("queue_size", cap(r.jobs)).Msg("record writer started")
}

// Stop signals workers to drain and waits for completion.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		r.closeMu.Lock()
		r.stopped.Store(true)
		close(r.jobs)
		r.closeMu.Unlock()
	})
	r.wg.Wait()
	r.log.Info().
		Int64("completed", r.completed.Load()).
		Int64("failed", r.failed.Load()).
		Int64("dropped", r.dropped.Load()).
		Msg("record writer stopped")
}

func (r *Recorder) RecordQuery(q database.QueryRecord) {
	r.enqueue(recordJob{query: &q})
}

func (r *Recorder) RecordPodcast(p database.PodcastRecord) {
	r.enqueue(recordJob{podcast: &p})
}

func (r *Recorder) enqueue(j recordJob) {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.stopped.Load() {
		r.drop("record writer stopped")
		return
	}
	select {
	case r.jobs <- j:
	default:
		r.drop("record queue full")
	}
}

func (r *Recorder) drop(reason string) {
	r.dropped.Add(1)
	metrics.RecordsDroppedTotal.Inc()
	r.log.Warn().Msg(reason + ", dropping record")
}

// Stats returns current queue statistics.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Pending:   len(r.jobs),
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for j := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		var err error
		kind := "query"
		if j.query != nil {
			err = r.store.AppendQueryRecord(ctx, *j.query)
		} else {
			kind = "podcast"
			err = r.store.AppendPodcastRecord(ctx, *j.podcast)
		}
		cancel()

		if err != nil {
			r.failed.Add(1)
			r.log.Error().Err(err).Str("record", kind).Msg("failed to write record")
			continue
		}
		r.completed.Add(1)
	}
}
