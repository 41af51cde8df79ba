package store

import (
	"context"
	"errors"
	"time"

	"github.com/psantana5/autofi/pkg/models"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrJobExists           = errors.New("job already exists")
	ErrTerminalJob         = models.ErrTerminalState
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Store defines the interface for job record persistence.
// Memory, SQLite, PostgreSQL and MongoDB implement it.
type Store interface {
	// CreateJob persists a new job record
	CreateJob(ctx context.Context, job *models.Job) error
	// GetJob returns a copy of the job or ErrJobNotFound
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// UpdateJob merges update into the stored job atomically and returns
	// the result. The write is committed before UpdateJob returns.
	UpdateJob(ctx context.Context, id string, update models.JobUpdate) (*models.Job, error)
	// ListJobsByOwner returns one page of the owner's jobs, newest first
	ListJobsByOwner(ctx context.Context, ownerID string, page, limit int) ([]*models.Job, error)
	// GetJobsInState returns jobs in any of states, oldest first
	GetJobsInState(ctx context.Context, states ...models.JobStatus) ([]*models.Job, error)

	// Lifecycle
	HealthCheck(ctx context.Context) error
	Close() error
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite", "postgres" or "mongo"
	DSN  string // Connection string or mongo URI

	// SQLite file path, used when DSN is empty
	Path string

	// MongoDB database name
	Database string

	// PostgreSQL pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewStore creates a store based on configuration
func NewStore(ctx context.Context, config Config) (Store, error) {
	switch config.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStore(ctx, config)
	case "mongo", "mongodb":
		return NewMongoStore(ctx, config)
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "autofi.db"
		}
		return NewSQLiteStore(ctx, path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}

// NormalizePage clamps paging arguments: page is 1-based, limit defaults
// to DefaultPageLimit and is capped at MaxPageLimit.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}
