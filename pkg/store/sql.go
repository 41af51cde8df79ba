package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/autofi/pkg/models"
)

// sqlJobs holds the job queries shared by the SQLite and PostgreSQL stores.
// Queries are written with ? placeholders and rebound per dialect.
type sqlJobs struct {
	db         *sql.DB
	dollar     bool   // rebind ? to $n
	lockSuffix string // appended to the SELECT inside UpdateJob
	now        func() time.Time
}

const jobColumns = `id, owner_id, source, status, progress, transcript, keywords, seo_keywords,
	suggested_titles, suggested_descriptions, suggested_tags, analytics, original_title,
	original_description, warnings, degraded, error_message, created_at, processing_started_at,
	processing_completed_at, updated_at, state_transitions, revision`

func (s *sqlJobs) rebind(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// jobRow is the column encoding of a job
type jobRow struct {
	source, keywords, seoKeywords, titles, descriptions, tags string
	analytics, warnings, transitions                          sql.NullString
}

func encodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func encodeJob(job *models.Job) (*jobRow, error) {
	var row jobRow
	var err error
	fields := []struct {
		dst *string
		v   interface{}
	}{
		{&row.source, job.Source},
		{&row.keywords, nonNil(job.Keywords)},
		{&row.seoKeywords, nonNil(job.SEOKeywords)},
		{&row.titles, job.SuggestedTitles},
		{&row.descriptions, job.SuggestedDescriptions},
		{&row.tags, nonNil(job.SuggestedTags)},
	}
	for _, f := range fields {
		if *f.dst, err = encodeJSON(f.v); err != nil {
			return nil, fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
		}
	}
	if job.SuggestedTitles == nil {
		row.titles = "[]"
	}
	if job.SuggestedDescriptions == nil {
		row.descriptions = "[]"
	}
	if job.Analytics != nil {
		a, err := encodeJSON(job.Analytics)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal analytics: %w", err)
		}
		row.analytics = sql.NullString{String: a, Valid: true}
	}
	w, err := encodeJSON(nonNil(job.Warnings))
	if err != nil {
		return nil, err
	}
	row.warnings = sql.NullString{String: w, Valid: true}
	tr, err := encodeJSON(job.StateTransitions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state_transitions: %w", err)
	}
	row.transitions = sql.NullString{String: tr, Valid: true}
	return &row, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(sc scanner) (*models.Job, error) {
	var job models.Job
	var source, keywords, seoKeywords, titles, descriptions, tags string
	var analytics, warnings, transitions, transcript, origTitle, origDesc, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := sc.Scan(&job.ID, &job.OwnerID, &source, &job.Status, &job.Progress, &transcript,
		&keywords, &seoKeywords, &titles, &descriptions, &tags, &analytics, &origTitle,
		&origDesc, &warnings, &job.Degraded, &errMsg, &job.CreatedAt, &startedAt,
		&completedAt, &job.UpdatedAt, &transitions, &job.Revision)
	if err != nil {
		return nil, err
	}

	job.Transcript = transcript.String
	job.OriginalTitle = origTitle.String
	job.OriginalDescription = origDesc.String
	job.ErrorMessage = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		job.ProcessingStartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.ProcessingCompletedAt = &t
	}

	decode := []struct {
		raw string
		dst interface{}
	}{
		{source, &job.Source},
		{keywords, &job.Keywords},
		{seoKeywords, &job.SEOKeywords},
		{titles, &job.SuggestedTitles},
		{descriptions, &job.SuggestedDescriptions},
		{tags, &job.SuggestedTags},
		{analytics.String, &job.Analytics},
		{warnings.String, &job.Warnings},
		{transitions.String, &job.StateTransitions},
	}
	for _, d := range decode {
		if d.raw == "" || d.raw == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(d.raw), d.dst); err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", job.ID, err)
		}
	}
	normalizeEmpty(&job)
	return &job, nil
}

// normalizeEmpty maps empty decoded lists back to nil so a stored job
// round-trips to the same shape as the memory store returns.
func normalizeEmpty(job *models.Job) {
	if len(job.Keywords) == 0 {
		job.Keywords = nil
	}
	if len(job.SEOKeywords) == 0 {
		job.SEOKeywords = nil
	}
	if len(job.SuggestedTitles) == 0 {
		job.SuggestedTitles = nil
	}
	if len(job.SuggestedDescriptions) == 0 {
		job.SuggestedDescriptions = nil
	}
	if len(job.SuggestedTags) == 0 {
		job.SuggestedTags = nil
	}
	if len(job.Warnings) == 0 {
		job.Warnings = nil
	}
	if len(job.StateTransitions) == 0 {
		job.StateTransitions = nil
	}
}

func (s *sqlJobs) createJob(ctx context.Context, job *models.Job) error {
	row, err := encodeJob(job)
	if err != nil {
		return err
	}

	var exists int
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(1) FROM jobs WHERE id = ?`), job.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check job %s: %w", job.ID, err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), job.ID, job.OwnerID, row.source, job.Status, job.Progress, job.Transcript,
		row.keywords, row.seoKeywords, row.titles, row.descriptions, row.tags, row.analytics,
		job.OriginalTitle, job.OriginalDescription, row.warnings, job.Degraded, job.ErrorMessage,
		job.CreatedAt.UTC(), nullTime(job.ProcessingStartedAt), nullTime(job.ProcessingCompletedAt),
		job.UpdatedAt.UTC(), row.transitions, job.Revision)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *sqlJobs) getJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

func (s *sqlJobs) updateJob(ctx context.Context, id string, update models.JobUpdate) (*models.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`+s.lockSuffix), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	if err := update.Apply(job, s.now().UTC()); err != nil {
		return nil, err
	}
	job.Revision++

	row, err := encodeJob(job)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		UPDATE jobs SET status = ?, progress = ?, transcript = ?, keywords = ?, seo_keywords = ?,
			suggested_titles = ?, suggested_descriptions = ?, suggested_tags = ?, analytics = ?,
			original_title = ?, original_description = ?, warnings = ?, degraded = ?,
			error_message = ?, processing_started_at = ?, processing_completed_at = ?,
			updated_at = ?, state_transitions = ?, revision = ?
		WHERE id = ?
	`), job.Status, job.Progress, job.Transcript, row.keywords, row.seoKeywords, row.titles,
		row.descriptions, row.tags, row.analytics, job.OriginalTitle, job.OriginalDescription,
		row.warnings, job.Degraded, job.ErrorMessage, nullTime(job.ProcessingStartedAt),
		nullTime(job.ProcessingCompletedAt), job.UpdatedAt.UTC(), row.transitions, job.Revision, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job %s: %w", id, err)
	}
	return job, nil
}

func (s *sqlJobs) listJobsByOwner(ctx context.Context, ownerID string, page, limit int) ([]*models.Job, error) {
	page, limit = NormalizePage(page, limit)
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+jobColumns+` FROM jobs
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`), ownerID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *sqlJobs) getJobsInState(ctx context.Context, states ...models.JobStatus) ([]*models.Job, error) {
	if len(states) == 0 {
		return []*models.Job{}, nil
	}
	placeholders := make([]string, len(states))
	args := make([]interface{}, len(states))
	for i, st := range states {
		placeholders[i] = "?"
		args[i] = st
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY created_at ASC, id ASC
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs by state: %w", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]*models.Job, error) {
	defer rows.Close()
	jobs := make([]*models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
