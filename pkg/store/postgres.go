package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/psantana5/autofi/pkg/models"
)

// PostgreSQLStore implements Store using PostgreSQL
type PostgreSQLStore struct {
	db   *sql.DB
	jobs *sqlJobs
}

// NewPostgreSQLStore creates a new PostgreSQL store
func NewPostgreSQLStore(ctx context.Context, config Config) (*PostgreSQLStore, error) {
	dsn := config.DSN
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(1 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{
		db: db,
		jobs: &sqlJobs{
			db:         db,
			dollar:     true,
			lockSuffix: " FOR UPDATE",
			now:        time.Now,
		},
	}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *PostgreSQLStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		source JSONB NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		transcript TEXT,
		keywords JSONB NOT NULL DEFAULT '[]',
		seo_keywords JSONB NOT NULL DEFAULT '[]',
		suggested_titles JSONB NOT NULL DEFAULT '[]',
		suggested_descriptions JSONB NOT NULL DEFAULT '[]',
		suggested_tags JSONB NOT NULL DEFAULT '[]',
		analytics JSONB,
		original_title TEXT,
		original_description TEXT,
		warnings JSONB,
		degraded BOOLEAN NOT NULL DEFAULT false,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		processing_started_at TIMESTAMPTZ,
		processing_completed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL,
		state_transitions JSONB,
		revision BIGINT NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_owner_created ON jobs(owner_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateJob inserts a new job
func (s *PostgreSQLStore) CreateJob(ctx context.Context, job *models.Job) error {
	return s.jobs.createJob(ctx, job)
}

// GetJob retrieves a job by ID
func (s *PostgreSQLStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return s.jobs.getJob(ctx, id)
}

// UpdateJob merges update into the job under a row lock
func (s *PostgreSQLStore) UpdateJob(ctx context.Context, id string, update models.JobUpdate) (*models.Job, error) {
	return s.jobs.updateJob(ctx, id, update)
}

// ListJobsByOwner returns one page of the owner's jobs, newest first
func (s *PostgreSQLStore) ListJobsByOwner(ctx context.Context, ownerID string, page, limit int) ([]*models.Job, error) {
	return s.jobs.listJobsByOwner(ctx, ownerID, page, limit)
}

// GetJobsInState returns jobs in any of the given states
func (s *PostgreSQLStore) GetJobsInState(ctx context.Context, states ...models.JobStatus) ([]*models.Job, error) {
	return s.jobs.getJobsInState(ctx, states...)
}

// HealthCheck verifies database connectivity
func (s *PostgreSQLStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}
