package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// QueryRecord is one completed text insight or vision capture run.
type QueryRecord struct {
	ID               string    `json:"id"`
	InputText        string    `json:"input_text"`
	Source           string    `json:"source"`
	DetectedLanguage string    `json:"detected_language,omitempty"`
	AnalysisResult   string    `json:"analysis_result"`
	Provider         string    `json:"provider,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// PodcastRecord is one completed cast run.
type PodcastRecord struct {
	ID              string    `json:"id"`
	InputContent    string    `json:"input_content"`
	Source          string    `json:"source"`
	SpeedMode       string    `json:"speed_mode"`
	PodcastMode     string    `json:"podcast_mode"`
	TargetLanguage  string    `json:"target_language,omitempty"`
	AudioFilePath   string    `json:"audio_file_path"`
	DurationSeconds *int64    `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// pageOffset converts a 1-based page into LIMIT/OFFSET values.
func pageOffset(page, pageSize int) (limit, offset int) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page < 1 {
		page = 1
	}
	return pageSize, (page - 1) * pageSize
}

func pqString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// AppendQueryRecord stores r and counts the words of its input in the same
// transaction.
func (db *DB) AppendQueryRecord(ctx context.Context, r QueryRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO query_records (id, input_text, source, detected_language, analysis_result, provider)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.InputText, r.Source, pqString(r.DetectedLanguage), r.AnalysisResult, pqString(r.Provider),
		)
		if err != nil {
			return fmt.Errorf("insert query record: %w", err)
		}

		lang := r.DetectedLanguage
		if lang == "" {
			lang = "unknown"
		}
		words := CountWords(r.InputText)
		if len(words) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for w, n := range words {
			batch.Queue(`
				INSERT INTO word_frequency (word, language, count, last_queried_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (word) DO UPDATE
				SET count = word_frequency.count + EXCLUDED.count,
				    last_queried_at = now()`,
				w, lang, n,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("update word frequency: %w", err)
		}
		return nil
	})
}

// AppendPodcastRecord stores r.
func (db *DB) AppendPodcastRecord(ctx context.Context, r PodcastRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO podcast_records (id, input_content, source, speed_mode, podcast_mode, target_language, audio_file_path, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.InputContent, r.Source, r.SpeedMode, r.PodcastMode, pqString(r.TargetLanguage), r.AudioFilePath, r.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("insert podcast record: %w", err)
	}
	return nil
}

// ListQueryRecords returns one page of query records, newest first.
func (db *DB) ListQueryRecords(ctx context.Context, page, pageSize int) ([]QueryRecord, error) {
	limit, offset := pageOffset(page, pageSize)
	rows, err := db.Pool.Query(ctx, `
		SELECT id::text, input_text, source, COALESCE(detected_language, ''), analysis_result,
		       COALESCE(provider, ''), created_at
		FROM query_records
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []QueryRecord{}
	for rows.Next() {
		var r QueryRecord
		if err := rows.Scan(&r.ID, &r.InputText, &r.Source, &r.DetectedLanguage, &r.AnalysisResult, &r.Provider, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListPodcastRecords returns one page of podcast records, newest first.
func (db *DB) ListPodcastRecords(ctx context.Context, page, pageSize int) ([]PodcastRecord, error) {
	limit, offset := pageOffset(page, pageSize)
	rows, err := db.Pool.Query(ctx, `
		SELECT id::text, input_content, source, speed_mode, podcast_mode, COALESCE(target_language, ''),
		       audio_file_path, duration_seconds, created_at
		FROM podcast_records
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []PodcastRecord{}
	for rows.Next() {
		var r PodcastRecord
		if err := rows.Scan(&r.ID, &r.InputContent, &r.Source, &r.SpeedMode, &r.PodcastMode, &r.TargetLanguage,
			&r.AudioFilePath, &r.DurationSeconds, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
