package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/autofi/pkg/models"
)

// runStoreSuite exercises the Store contract against any implementation
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("GetUnknownJob", func(t *testing.T) {
		_, err := s.GetJob(ctx, "does-not-exist-"+uuid.NewString())
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("UpdateUnknownJob", func(t *testing.T) {
		_, err := s.UpdateJob(ctx, "does-not-exist-"+uuid.NewString(), models.JobUpdate{Progress: models.IntPtr(5)})
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("CreateAndGet", func(t *testing.T) {
		job := newTestJob(t, "owner-"+uuid.NewString(), time.Now())
		require.NoError(t, s.CreateJob(ctx, job))

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, job.OwnerID, got.OwnerID)
		assert.Equal(t, models.JobStatusPending, got.Status)
		assert.Equal(t, 0, got.Progress)
		assert.Equal(t, job.Source, got.Source)

		err = s.CreateJob(ctx, job)
		assert.ErrorIs(t, err, ErrJobExists)
	})

	t.Run("RepeatedGetIsIdempotent", func(t *testing.T) {
		job := newTestJob(t, "owner-"+uuid.NewString(), time.Now())
		require.NoError(t, s.CreateJob(ctx, job))
		_, err := s.UpdateJob(ctx, job.ID, models.JobUpdate{
			Status:     models.StatusPtr(models.JobStatusTranscribing),
			Transcript: models.StringPtr("hello world"),
		})
		require.NoError(t, err)

		first, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			again, err := s.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})

	t.Run("UpdateMergesAndRecordsTransitions", func(t *testing.T) {
		job := newTestJob(t, "owner-"+uuid.NewString(), time.Now())
		require.NoError(t, s.CreateJob(ctx, job))

		updated, err := s.UpdateJob(ctx, job.ID, models.JobUpdate{
			Status:              models.StatusPtr(models.JobStatusTranscribing),
			ProcessingStartedAt: models.TimePtr(time.Now()),
		})
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusTranscribing, updated.Status)
		assert.NotNil(t, updated.ProcessingStartedAt)

		_, err = s.UpdateJob(ctx, job.ID, models.JobUpdate{
			Status:     models.StatusPtr(models.JobStatusKeywording),
			Transcript: models.StringPtr("the transcript"),
		})
		require.NoError(t, err)
		_, err = s.UpdateJob(ctx, job.ID, models.JobUpdate{
			Status:      models.StatusPtr(models.JobStatusGenerating),
			Keywords:    []string{"go", "video"},
			AddWarnings: []string{"seo keywords missing"},
		})
		require.NoError(t, err)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "the transcript", got.Transcript)
		assert.Equal(t, []string{"go", "video"}, got.Keywords)
		assert.True(t, got.Degraded)
		assert.Equal(t, []string{"seo keywords missing"}, got.Warnings)
		require.Len(t, got.StateTransitions, 3)
		assert.Equal(t, models.JobStatusGenerating, got.StateTransitions[2].To)
		assert.Equal(t, models.ProgressFor(models.JobStatusGenerating), got.Progress)
		assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
	})

	t.Run("TerminalJobRejectsUpdates", func(t *testing.T) {
		job := newTestJob(t, "owner-"+uuid.NewString(), time.Now())
		require.NoError(t, s.CreateJob(ctx, job))
		_, err := s.UpdateJob(ctx, job.ID, models.JobUpdate{
			Status:       models.StatusPtr(models.JobStatusFailed),
			ErrorMessage: models.StringPtr("transcript unavailable"),
		})
		require.NoError(t, err)

		_, err = s.UpdateJob(ctx, job.ID, models.JobUpdate{Progress: models.IntPtr(50)})
		assert.ErrorIs(t, err, ErrTerminalJob)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "transcript unavailable", got.ErrorMessage)
	})

	t.Run("ListByOwnerNewestFirst", func(t *testing.T) {
		owner := "owner-" + uuid.NewString()
		base := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)
		var ids []string
		for i := 0; i < 5; i++ {
			job := newTestJob(t, owner, base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, s.CreateJob(ctx, job))
			ids = append(ids, job.ID)
		}
		require.NoError(t, s.CreateJob(ctx, newTestJob(t, "someone-else-"+uuid.NewString(), base)))

		page1, err := s.ListJobsByOwner(ctx, owner, 1, 2)
		require.NoError(t, err)
		require.Len(t, page1, 2)
		assert.Equal(t, ids[4], page1[0].ID)
		assert.Equal(t, ids[3], page1[1].ID)

		page3, err := s.ListJobsByOwner(ctx, owner, 3, 2)
		require.NoError(t, err)
		require.Len(t, page3, 1)
		assert.Equal(t, ids[0], page3[0].ID)

		empty, err := s.ListJobsByOwner(ctx, owner, 9, 2)
		require.NoError(t, err)
		assert.Empty(t, empty)

		all, err := s.ListJobsByOwner(ctx, owner, 0, 0)
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})

	t.Run("GetJobsInState", func(t *testing.T) {
		job := newTestJob(t, "owner-"+uuid.NewString(), time.Now())
		require.NoError(t, s.CreateJob(ctx, job))
		_, err := s.UpdateJob(ctx, job.ID, models.JobUpdate{Status: models.StatusPtr(models.JobStatusTranscribing)})
		require.NoError(t, err)

		active, err := s.GetJobsInState(ctx, models.JobStatusTranscribing)
		require.NoError(t, err)
		found := false
		for _, j := range active {
			assert.Equal(t, models.JobStatusTranscribing, j.Status)
			if j.ID == job.ID {
				found = true
			}
		}
		assert.True(t, found, "expected %s among TRANSCRIBING jobs", job.ID)
	})

	t.Run("ConcurrentUpdatesAreSerialized", func(t *testing.T) {
		job := newTestJob(t, "owner-"+uuid.NewString(), time.Now())
		require.NoError(t, s.CreateJob(ctx, job))

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.UpdateJob(ctx, job.ID, models.JobUpdate{
					AddWarnings: []string{fmt.Sprintf("w%d", i)},
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Len(t, got.Warnings, 10)
	})
}

func newTestJob(t *testing.T, owner string, created time.Time) *models.Job {
	t.Helper()
	src, err := models.NewYouTubeSource("https://www.youtube.com/watch?v=abc12345678")
	require.NoError(t, err)
	return models.NewJob(uuid.NewString(), owner, src, created.UTC().Truncate(time.Millisecond))
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job := newTestJob(t, "owner", time.Now())
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	got.Status = models.JobStatusCompleted

	again, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, again.Status)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.HealthCheck(context.Background()))
	runStoreSuite(t, s)
}

// TestPostgreSQLIntegration runs the suite against a real database.
// Set AUTOFI_TEST_POSTGRES_DSN to run it.
func TestPostgreSQLIntegration(t *testing.T) {
	dsn := os.Getenv("AUTOFI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL integration test: AUTOFI_TEST_POSTGRES_DSN not set")
	}

	s, err := NewStore(context.Background(), Config{Type: "postgres", DSN: dsn})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.HealthCheck(context.Background()))
	runStoreSuite(t, s)
}

// TestMongoIntegration runs the suite against a real MongoDB.
// Set AUTOFI_TEST_MONGO_URI to run it.
func TestMongoIntegration(t *testing.T) {
	uri := os.Getenv("AUTOFI_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("Skipping MongoDB integration test: AUTOFI_TEST_MONGO_URI not set")
	}

	s, err := NewStore(context.Background(), Config{Type: "mongo", DSN: uri, Database: "autofi_test"})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.HealthCheck(context.Background()))
	runStoreSuite(t, s)
}

func TestNewStore_Unsupported(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Type: "cassandra"})
	assert.ErrorIs(t, err, ErrUnsupportedDatabase)
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, limit         int
		wantPage, wantLimit int
	}{
		{0, 0, 1, DefaultPageLimit},
		{-3, 10, 1, 10},
		{2, 500, 2, MaxPageLimit},
		{4, 25, 4, 25},
	}
	for _, tt := range tests {
		p, l := NormalizePage(tt.page, tt.limit)
		assert.Equal(t, tt.wantPage, p)
		assert.Equal(t, tt.wantLimit, l)
	}
}
