package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/autofi/pkg/logging"
	"github.com/psantana5/autofi/pkg/metrics"
	"github.com/psantana5/autofi/pkg/models"
	"github.com/psantana5/autofi/pkg/store"
)

// ErrForbidden is returned when a caller touches another owner's job. The
// API reports it as not found.
var ErrForbidden = errors.New("job belongs to another owner")

// UploadChecker verifies that an upload key belongs to the owner
type UploadChecker func(ownerID, storageKey string) bool

// Service is the job-facing entry point used by the API and CLI
type Service struct {
	store      store.Store
	dispatcher *Dispatcher
	metrics    *metrics.Pipeline
	logger     *logging.Logger
	ownsUpload UploadChecker
	now        func() time.Time
}

// NewService creates a service. ownsUpload may be nil to accept any key.
func NewService(st store.Store, dispatcher *Dispatcher, m *metrics.Pipeline, ownsUpload UploadChecker, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		store:      st,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
		ownsUpload: ownsUpload,
		now:        time.Now,
	}
}

// Submit creates a PENDING job for the source and schedules it. It returns
// as soon as the job is stored.
func (s *Service) Submit(ctx context.Context, ownerID string, src models.Source) (*models.Job, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if src.Kind == models.SourceUpload && s.ownsUpload != nil && !s.ownsUpload(ownerID, src.StorageKey) {
		return nil, fmt.Errorf("%w: storage key is outside the caller's namespace", models.ErrInvalidSource)
	}

	job := models.NewJob(uuid.NewString(), ownerID, src, s.now().UTC())
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if s.metrics != nil {
		s.metrics.JobSubmitted(string(src.Kind))
	}

	if err := s.dispatcher.Dispatch(job.ID); err != nil {
		// stays PENDING and is picked up by recovery on the next start
		s.logger.Warn("job stored but not dispatched", logging.Fields{"job_id": job.ID, "error": err})
	}
	s.logger.Info("job submitted", logging.Fields{"job_id": job.ID, "owner_id": ownerID, "source": string(src.Kind)})
	return job, nil
}

// Status returns the caller's job. It never mutates the record.
func (s *Service) Status(ctx context.Context, ownerID, jobID string) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && job.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return job, nil
}

// List returns one page of the owner's jobs, newest first
func (s *Service) List(ctx context.Context, ownerID string, page, limit int) ([]*models.Job, error) {
	return s.store.ListJobsByOwner(ctx, ownerID, page, limit)
}

// Cancel stops a running job. A job this process is not running is failed
// directly. Canceling a finished job returns store.ErrTerminalJob.
func (s *Service) Cancel(ctx context.Context, ownerID, jobID string) (*models.Job, error) {
	job, err := s.Status(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalState(job.Status) {
		return job, fmt.Errorf("%w: %s", store.ErrTerminalJob, job.Status)
	}

	if s.dispatcher.Cancel(jobID) {
		s.logger.Info("cancellation requested", logging.Fields{"job_id": jobID})
		return job, nil
	}

	job, err = s.store.UpdateJob(ctx, jobID, models.JobUpdate{
		Status:                models.StatusPtr(models.JobStatusFailed),
		Reason:                "cancel: " + MsgCanceled,
		ErrorMessage:          models.StringPtr(MsgCanceled),
		ProcessingCompletedAt: models.TimePtr(s.now().UTC()),
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.JobFinished(string(job.Status), job.Degraded)
	}
	return job, nil
}

// Recover re-dispatches every job left in a non-terminal state, for example
// after a crash. It returns the number of jobs scheduled.
func (s *Service) Recover(ctx context.Context) (int, error) {
	jobs, err := s.store.GetJobsInState(ctx, models.ActiveStates()...)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished jobs: %w", err)
	}

	recovered := 0
	for _, job := range jobs {
		if err := s.dispatcher.Dispatch(job.ID); err != nil {
			return recovered, err
		}
		recovered++
		s.logger.Info("recovered job", logging.Fields{"job_id": job.ID, "status": string(job.Status)})
	}
	if recovered > 0 {
		s.logger.Info("recovery complete", logging.Fields{"jobs": recovered})
	}
	return recovered, nil
}

// Active reports how many jobs this process is currently running
func (s *Service) Active() int {
	return s.dispatcher.Active()
}
