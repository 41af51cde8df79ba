package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/psantana5/autofi/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the job store
type SQLiteStore struct {
	db   *sql.DB
	jobs *sqlJobs
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	// - _journal_mode=WAL: readers don't block the writer
	// - _busy_timeout=10000: wait up to 10 seconds when the database is locked
	// - _txlock=immediate: take the write lock when UpdateJob begins its transaction
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{
		db:   db,
		jobs: &sqlJobs{db: db, now: time.Now},
	}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		transcript TEXT,
		keywords TEXT NOT NULL DEFAULT '[]',
		seo_keywords TEXT NOT NULL DEFAULT '[]',
		suggested_titles TEXT NOT NULL DEFAULT '[]',
		suggested_descriptions TEXT NOT NULL DEFAULT '[]',
		suggested_tags TEXT NOT NULL DEFAULT '[]',
		analytics TEXT,
		original_title TEXT,
		original_description TEXT,
		warnings TEXT,
		degraded BOOLEAN NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at DATETIME NOT NULL,
		processing_started_at DATETIME,
		processing_completed_at DATETIME,
		updated_at DATETIME NOT NULL,
		state_transitions TEXT,
		revision INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_owner_created ON jobs(owner_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateJob inserts a new job
func (s *SQLiteStore) CreateJob(ctx context.Context, job *models.Job) error {
	return s.jobs.createJob(ctx, job)
}

// GetJob retrieves a job by ID
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return s.jobs.getJob(ctx, id)
}

// UpdateJob merges update into the job inside an immediate transaction
func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, update models.JobUpdate) (*models.Job, error) {
	return s.jobs.updateJob(ctx, id, update)
}

// ListJobsByOwner returns one page of the owner's jobs, newest first
func (s *SQLiteStore) ListJobsByOwner(ctx context.Context, ownerID string, page, limit int) ([]*models.Job, error) {
	return s.jobs.listJobsByOwner(ctx, ownerID, page, limit)
}

// GetJobsInState returns jobs in any of the given states
func (s *SQLiteStore) GetJobsInState(ctx context.Context, states ...models.JobStatus) ([]*models.Job, error) {
	return s.jobs.getJobsInState(ctx, states...)
}

// HealthCheck verifies database connectivity
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
