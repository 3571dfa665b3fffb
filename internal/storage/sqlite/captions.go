package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/livecaptions/internal/transcription"
	"github.com/yegors/livecaptions/pkg/logger"
)

// timeLayout is fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var _ transcription.Sink = (*CaptionStorage)(nil)

// CaptionStorage stores captions emitted for one source
type CaptionStorage struct {
	db     *sql.DB
	source string
	logger *logger.Logger
}

// NewCaptionStorage creates the caption table if needed and returns a
// storage that tags new records with source.
func NewCaptionStorage(db *sql.DB, source string, log *logger.Logger) (*CaptionStorage, error) {
	if log == nil {
		log = logger.Nop()
	}
	s := &CaptionStorage{
		db:     db,
		source: source,
		logger: log.Named("sqlite-captions"),
	}
	if err := s.initDB(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CaptionStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS captions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			segment_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			audio_duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create captions table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_captions_timestamp ON captions(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_captions_source ON captions(source)`,
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create caption index: %w", err)
		}
	}
	return nil
}

// StoreCaption inserts a record and returns its ID
func (s *CaptionStorage) StoreCaption(ctx context.Context, record *CaptionRecord) (int64, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO captions
		(source, attempt, segment_index, text, timestamp, audio_duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.Source,
		record.Attempt,
		record.SegmentIndex,
		record.Text,
		formatTime(record.Timestamp),
		record.AudioDuration.Milliseconds(),
		formatTime(record.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert caption: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	record.ID = id
	return id, nil
}

// Emit stores an emitted caption, making the storage a transcription sink
func (s *CaptionStorage) Emit(ctx context.Context, r transcription.Result) error {
	id, err := s.StoreCaption(ctx, &CaptionRecord{
		Source:        s.source,
		Attempt:       r.Attempt,
		SegmentIndex:  r.SegmentIndex,
		Text:          r.Text,
		Timestamp:     r.Timestamp,
		AudioDuration: r.AudioDuration,
	})
	if err != nil {
		return err
	}
	s.logger.Debug("Stored caption", logger.Int64("id", id), logger.Int("segment", r.SegmentIndex))
	return nil
}

// GetRecentCaptions returns up to limit captions, newest first
func (s *CaptionStorage) GetRecentCaptions(ctx context.Context, limit int) ([]*CaptionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, attempt, segment_index, text, timestamp, audio_duration_ms, created_at
		FROM captions
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent captions: %w", err)
	}
	defer rows.Close()

	return scanCaptionRows(rows)
}

// GetCaptionsByTimeRange returns captions stamped within [start, end], oldest first
func (s *CaptionStorage) GetCaptionsByTimeRange(ctx context.Context, start, end time.Time) ([]*CaptionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, attempt, segment_index, text, timestamp, audio_duration_ms, created_at
		FROM captions
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC, id ASC`,
		formatTime(start), formatTime(end),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query captions by time range: %w", err)
	}
	defer rows.Close()

	return scanCaptionRows(rows)
}

// CountCaptions returns how many captions are stored
func (s *CaptionStorage) CountCaptions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM captions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count captions: %w", err)
	}
	return n, nil
}

func scanCaptionRows(rows *sql.Rows) ([]*CaptionRecord, error) {
	var records []*CaptionRecord
	for rows.Next() {
		var record CaptionRecord
		var timestamp, createdAt string
		var durationMs int64

		if err := rows.Scan(
			&record.ID,
			&record.Source,
			&record.Attempt,
			&record.SegmentIndex,
			&record.Text,
			&timestamp,
			&durationMs,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan caption: %w", err)
		}

		var err error
		if record.Timestamp, err = time.Parse(timeLayout, timestamp); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		if record.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		record.AudioDuration = time.Duration(durationMs) * time.Millisecond

		records = append(records, &record)
	}
	return records, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
