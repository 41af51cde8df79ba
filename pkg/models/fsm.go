package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTerminalState     = errors.New("job is in a terminal state")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidUpdate     = errors.New("invalid job update")
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusTranscribing: true, // pipeline picked the job up
		JobStatusFailed:       true, // canceled before start
	},
	JobStatusTranscribing: {
		JobStatusKeywording: true, // transcript persisted
		JobStatusFailed:     true, // every transcript strategy exhausted
	},
	JobStatusKeywording: {
		JobStatusGenerating: true,
		JobStatusFailed:     true,
	},
	JobStatusGenerating: {
		JobStatusScoring: true,
		JobStatusFailed:  true,
	},
	JobStatusScoring: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	},
	// Terminal states (no transitions allowed)
	JobStatusCompleted: {},
	JobStatusFailed:    {},
}

// stageOrder ranks the non-failed states along the pipeline
var stageOrder = map[JobStatus]int{
	JobStatusPending:      0,
	JobStatusTranscribing: 1,
	JobStatusKeywording:   2,
	JobStatusGenerating:   3,
	JobStatusScoring:      4,
	JobStatusCompleted:    5,
}

// stageProgress is the progress reported when a state is entered
var stageProgress = map[JobStatus]int{
	JobStatusPending:      0,
	JobStatusTranscribing: 10,
	JobStatusKeywording:   40,
	JobStatusGenerating:   55,
	JobStatusScoring:      80,
	JobStatusCompleted:    100,
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown source state %s", ErrInvalidTransition, from)
	}
	if !allowed[to] {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusCompleted || state == JobStatusFailed
}

// IsActiveState returns true while the pipeline still owns the job
func IsActiveState(state JobStatus) bool {
	_, ok := stageOrder[state]
	return ok && !IsTerminalState(state)
}

// ActiveStates lists every non-terminal state
func ActiveStates() []JobStatus {
	return []JobStatus{
		JobStatusPending,
		JobStatusTranscribing,
		JobStatusKeywording,
		JobStatusGenerating,
		JobStatusScoring,
	}
}

// StageRank orders states along the pipeline; FAILED and unknown states rank -1
func StageRank(state JobStatus) int {
	if r, ok := stageOrder[state]; ok {
		return r
	}
	return -1
}

// ProgressFor returns the progress reported on entering state
func ProgressFor(state JobStatus) int {
	return stageProgress[state]
}

// JobUpdate is a partial update merged into a Job. Nil fields are left
// untouched; an empty non-nil slice clears a list.
type JobUpdate struct {
	Status *JobStatus
	Reason string // recorded on the state transition

	Progress *int

	Transcript            *string
	Keywords              []string
	SEOKeywords           []string
	SuggestedTitles       []TitleCandidate
	SuggestedDescriptions []DescriptionCandidate
	SuggestedTags         []string
	Analytics             *AnalyticsMetrics

	OriginalTitle       *string
	OriginalDescription *string

	AddWarnings  []string
	ErrorMessage *string

	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
}

// Apply merges the update into job and bumps UpdatedAt. The job is left
// unchanged when an error is returned.
func (u JobUpdate) Apply(job *Job, now time.Time) error {
	if IsTerminalState(job.Status) {
		return fmt.Errorf("%w: %s is %s", ErrTerminalState, job.ID, job.Status)
	}

	next := job.Clone()

	if u.Status != nil && *u.Status != next.Status {
		if err := ValidateTransition(next.Status, *u.Status); err != nil {
			return err
		}
		next.StateTransitions = append(next.StateTransitions, StateTransition{
			From:      next.Status,
			To:        *u.Status,
			Timestamp: now,
			Reason:    u.Reason,
		})
		next.Status = *u.Status
		if p := stageProgress[next.Status]; p > next.Progress {
			next.Progress = p
		}
	}

	if u.Progress != nil {
		p := *u.Progress
		if p < 0 || p > 100 {
			return fmt.Errorf("%w: progress %d out of range", ErrInvalidUpdate, p)
		}
		if p > next.Progress {
			next.Progress = p
		}
	}
	// 100 is reserved for COMPLETED
	if next.Status == JobStatusCompleted {
		next.Progress = 100
	} else if next.Progress > 99 {
		next.Progress = 99
	}

	if u.ErrorMessage != nil {
		if next.Status != JobStatusFailed {
			return fmt.Errorf("%w: error message without FAILED status", ErrInvalidUpdate)
		}
		next.ErrorMessage = *u.ErrorMessage
	}
	if next.Status == JobStatusFailed && next.ErrorMessage == "" {
		next.ErrorMessage = "processing failed"
	}

	if u.Transcript != nil {
		next.Transcript = *u.Transcript
	}
	if u.Keywords != nil {
		next.Keywords = cloneStrings(u.Keywords)
	}
	if u.SEOKeywords != nil {
		next.SEOKeywords = cloneStrings(u.SEOKeywords)
	}
	if u.SuggestedTitles != nil {
		next.SuggestedTitles = append([]TitleCandidate(nil), u.SuggestedTitles...)
	}
	if u.SuggestedDescriptions != nil {
		next.SuggestedDescriptions = append([]DescriptionCandidate(nil), u.SuggestedDescriptions...)
	}
	if u.SuggestedTags != nil {
		next.SuggestedTags = cloneStrings(u.SuggestedTags)
	}
	if u.Analytics != nil {
		a := u.Analytics.Clone()
		next.Analytics = &a
	}
	if u.OriginalTitle != nil {
		next.OriginalTitle = *u.OriginalTitle
	}
	if u.OriginalDescription != nil {
		next.OriginalDescription = *u.OriginalDescription
	}
	if len(u.AddWarnings) > 0 {
		next.Warnings = append(next.Warnings, u.AddWarnings...)
		next.Degraded = true
	}
	if u.ProcessingStartedAt != nil {
		t := *u.ProcessingStartedAt
		next.ProcessingStartedAt = &t
	}
	if u.ProcessingCompletedAt != nil {
		t := *u.ProcessingCompletedAt
		next.ProcessingCompletedAt = &t
	}

	next.UpdatedAt = now
	*job = *next
	return nil
}

// StatusPtr is a helper for building updates
func StatusPtr(s JobStatus) *JobStatus { return &s }

// StringPtr is a helper for building updates
func StringPtr(s string) *string { return &s }

// IntPtr is a helper for building updates
func IntPtr(i int) *int { return &i }

// TimePtr is a helper for building updates
func TimePtr(t time.Time) *time.Time { return &t }
