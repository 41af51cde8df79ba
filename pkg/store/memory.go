package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/psantana5/autofi/pkg/models"
)

// MemoryStore is an in-memory implementation of the job store
type MemoryStore struct {
	jobs map[string]*models.Job
	mu   sync.RWMutex
	now  func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Job),
		now:  time.Now,
	}
}

// CreateJob adds a new job to the store
func (s *MemoryStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob retrieves a job by ID
func (s *MemoryStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// UpdateJob merges update into the stored job under the write lock
func (s *MemoryStore) UpdateJob(ctx context.Context, id string, update models.JobUpdate) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	next := job.Clone()
	if err := update.Apply(next, s.now().UTC()); err != nil {
		return nil, err
	}
	next.Revision++
	s.jobs[id] = next
	return next.Clone(), nil
}

// ListJobsByOwner returns one page of the owner's jobs, newest first
func (s *MemoryStore) ListJobsByOwner(ctx context.Context, ownerID string, page, limit int) ([]*models.Job, error) {
	page, limit = NormalizePage(page, limit)

	s.mu.RLock()
	owned := make([]*models.Job, 0)
	for _, job := range s.jobs {
		if job.OwnerID == ownerID {
			owned = append(owned, job)
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(owned)

	start := (page - 1) * limit
	if start >= len(owned) {
		return []*models.Job{}, nil
	}
	end := start + limit
	if end > len(owned) {
		end = len(owned)
	}

	result := make([]*models.Job, 0, end-start)
	for _, job := range owned[start:end] {
		result = append(result, job.Clone())
	}
	return result, nil
}

// GetJobsInState returns jobs in any of the given states, oldest first
func (s *MemoryStore) GetJobsInState(ctx context.Context, states ...models.JobStatus) ([]*models.Job, error) {
	want := make(map[models.JobStatus]bool, len(states))
	for _, st := range states {
		want[st] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Job, 0)
	for _, job := range s.jobs {
		if want[job.Status] {
			result = append(result, job.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// HealthCheck always succeeds for the memory store
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func sortNewestFirst(jobs []*models.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
