// Package store persists batch-prediction progress in SQLite so an
// interrupted run can resume where it stopped.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record is the outcome of processing one image.
type Record struct {
	ImageID         string
	WatchID         string
	Annotator       string
	Success         bool
	Confidence      float64
	ImageSHA256     string
	PipelineVersion string
	ConfigHash      string
	Error           string
	ProcessedAt     time.Time
}

// Stats are cumulative counts over every processed image.
type Stats struct {
	Processed         int
	Successful        int
	PipelineFallback  int
	GeometricFallback int
	Failed            int
	Errors            map[string]int
}

// Store wraps the SQLite connection.
type Store struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// Open creates or opens the progress database at path.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS processed (
		image_id TEXT PRIMARY KEY,
		watch_id TEXT NOT NULL,
		annotator TEXT NOT NULL,
		success INTEGER NOT NULL DEFAULT 0,
		confidence REAL DEFAULT 0,
		image_sha256 TEXT DEFAULT '',
		pipeline_version TEXT DEFAULT '',
		config_hash TEXT DEFAULT '',
		error TEXT DEFAULT '',
		processed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		total_images INTEGER DEFAULT 0,
		skipped_existing INTEGER DEFAULT 0,
		pipeline_version TEXT DEFAULT '',
		config_hash TEXT DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_processed_watch_id ON processed(watch_id);
	CREATE INDEX IF NOT EXISTS idx_processed_annotator ON processed(annotator);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// IsProcessed reports whether imageID has a record.
func (s *Store) IsProcessed(ctx context.Context, imageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM processed WHERE image_id = ?`, imageID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query image %s: %w", imageID, err)
	}
	return n > 0, nil
}

// ProcessedIDs returns the set of processed image ids.
func (s *Store) ProcessedIDs(ctx context.Context) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `SELECT image_id FROM processed`)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed images: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// MarkProcessed inserts or replaces the record for rec.ImageID.
func (s *Store) MarkProcessed(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO processed (image_id, watch_id, annotator, success, confidence,
			image_sha256, pipeline_version, config_hash, error, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(image_id) DO UPDATE SET
			watch_id = excluded.watch_id,
			annotator = excluded.annotator,
			success = excluded.success,
			confidence = excluded.confidence,
			image_sha256 = excluded.image_sha256,
			pipeline_version = excluded.pipeline_version,
			config_hash = excluded.config_hash,
			error = excluded.error,
			processed_at = excluded.processed_at`,
		rec.ImageID, rec.WatchID, rec.Annotator, rec.Success, rec.Confidence,
		rec.ImageSHA256, rec.PipelineVersion, rec.ConfigHash, rec.Error, rec.ProcessedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record image %s: %w", rec.ImageID, err)
	}
	return nil
}

// Get returns the record for imageID, or sql.ErrNoRows.
func (s *Store) Get(ctx context.Context, imageID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec Record
	err := s.conn.QueryRowContext(ctx, `
		SELECT image_id, watch_id, annotator, success, confidence, image_sha256,
			pipeline_version, config_hash, error, processed_at
		FROM processed WHERE image_id = ?`, imageID).Scan(
		&rec.ImageID, &rec.WatchID, &rec.Annotator, &rec.Success, &rec.Confidence,
		&rec.ImageSHA256, &rec.PipelineVersion, &rec.ConfigHash, &rec.Error, &rec.ProcessedAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Failures maps image id to error text for every record with one.
func (s *Store) Failures(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `SELECT image_id, error FROM processed WHERE error != ''`)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, msg string
		if err := rows.Scan(&id, &msg); err != nil {
			return nil, err
		}
		out[id] = msg
	}
	return out, rows.Err()
}

// Stats aggregates every processed record. Annotators are classified by the
// suffixes the batch runner uses.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Errors: make(map[string]int)}
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(1),
			COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN annotator LIKE '%-pipeline-fallback' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN annotator LIKE '%-geometric-fallback' THEN 1 ELSE 0 END), 0)
		FROM processed`).Scan(&st.Processed, &st.Successful, &st.PipelineFallback, &st.GeometricFallback)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to aggregate progress: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT error, COUNT(1) FROM processed WHERE error != '' GROUP BY error`)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to aggregate errors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var msg string
		var n int
		if err := rows.Scan(&msg, &n); err != nil {
			return Stats{}, err
		}
		st.Errors[msg] = n
		st.Failed += n
	}
	return st, rows.Err()
}

// StartRun records the start of a batch run and returns its id.
func (s *Store) StartRun(ctx context.Context, total, skipped int, pipelineVersion, configHash string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO runs (started_at, total_images, skipped_existing, pipeline_version, config_hash)
		VALUES (?, ?, ?, ?, ?)`, time.Now().UTC(), total, skipped, pipelineVersion, configHash)
	if err != nil {
		return 0, fmt.Errorf("failed to start run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun stamps the end time of a run.
func (s *Store) FinishRun(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.ExecContext(ctx, `UPDATE runs SET finished_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run %d: %w", id, err)
	}
	return nil
}

// Reset deletes all progress.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.ExecContext(ctx, `DELETE FROM processed`); err != nil {
		return fmt.Errorf("failed to reset progress: %w", err)
	}
	return nil
}
