package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/veya-engine/internal/database"
)

type memoryRecordStore struct {
	mu       sync.Mutex
	queries  []database.QueryRecord
	podcasts []database.PodcastRecord
	fail     bool
}

func (m *memoryRecordStore) AppendQueryRecord(ctx context.Context, r database.QueryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("database unavailable")
	}
	m.queries = append(m.queries, r)
	return nil
}

func (m *memoryRecordStore) AppendPodcastRecord(ctx context.Context, r database.PodcastRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("database unavailable")
	}
	m.podcasts = append(m.podcasts, r)
	return nil
}

func (m *memoryRecordStore) ListQueryRecords(ctx context.Context, page, pageSize int) ([]database.QueryRecord, error) {
	return m.queries, nil
}

func (m *memoryRecordStore) ListPodcastRecords(ctx context.Context, page, pageSize int) ([]database.PodcastRecord, error) {
	return m.podcasts, nil
}

func TestRecorderWrites(t *testing.T) {
	store := &memoryRecordStore{}
	r := NewRecorder(store, 2, 8, zerolog.Nop())
	r.Start()

	r.RecordQuery(database.QueryRecord{InputText: "hello", Source: "text_insight"})
	r.RecordPodcast(database.PodcastRecord{InputContent: "hello", Source: "custom"})
	r.Stop()

	if len(store.queries) != 1 || len(store.podcasts) != 1 {
		t.Fatalf("stored %d queries, %d podcasts", len(store.queries), len(store.podcasts))
	}
	if s := r.Stats(); s.Completed != 2 || s.Failed != 0 || s.Dropped != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	store := &memoryRecordStore{}
	r := NewRecorder(store, 1, 1, zerolog.Nop())

	// Not started yet, so the queue only holds one job.
	r.RecordQuery(database.QueryRecord{InputText: "a"})
	r.RecordQuery(database.QueryRecord{InputText: "b"})
	if s := r.Stats(); s.Pending != 1 || s.Dropped != 1 {
		t.Fatalf("stats = %+v", s)
	}

	r.Start()
	r.Stop()
	if len(store.queries) != 1 || store.queries[0].InputText != "a" {
		t.Errorf("queries = %+v", store.queries)
	}

	// Enqueue after Stop is dropped, not a panic.
	r.RecordQuery(database.QueryRecord{InputText: "c"})
	if s := r.Stats(); s.Dropped != 2 {
		t.Errorf("dropped = %d", s.Dropped)
	}
}

func TestRecorderCountsFailures(t *testing.T) {
	store := &memoryRecordStore{fail: true}
	r := NewRecorder(store, 1, 4, zerolog.Nop())
	r.Start()
	r.RecordQuery(database.QueryRecord{InputText: "a"})
	r.RecordPodcast(database.PodcastRecord{InputContent: "b"})
	r.Stop()

	if s := r.Stats(); s.Failed != 2 || s.Completed != 0 {
		t.Errorf("stats = %+v", s)
	}
}
