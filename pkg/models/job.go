package models

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// JobStatus represents the status of a video optimization job
type JobStatus string

const (
	JobStatusPending      JobStatus = "PENDING"
	JobStatusTranscribing JobStatus = "TRANSCRIBING"
	JobStatusKeywording   JobStatus = "KEYWORDING"
	JobStatusGenerating   JobStatus = "GENERATING"
	JobStatusScoring      JobStatus = "SCORING"
	JobStatusCompleted    JobStatus = "COMPLETED"
	JobStatusFailed       JobStatus = "FAILED"
)

// SourceKind discriminates the media source variant
type SourceKind string

const (
	SourceYouTube SourceKind = "youtube"
	SourceUpload  SourceKind = "upload"
)

var (
	ErrInvalidSource     = errors.New("invalid source")
	ErrInvalidYouTubeURL = errors.New("invalid youtube url")
)

// Source references the media a job works on. Exactly one field group is
// populated, selected by Kind.
type Source struct {
	Kind SourceKind `json:"kind" bson:"kind"`

	// youtube
	URL     string `json:"url,omitempty" bson:"url,omitempty"`
	VideoID string `json:"videoId,omitempty" bson:"videoId,omitempty"`

	// upload
	StorageKey string `json:"storageKey,omitempty" bson:"storageKey,omitempty"`
	Filename   string `json:"filename,omitempty" bson:"filename,omitempty"`
}

// NewYouTubeSource builds a youtube source, resolving the video id from the URL
func NewYouTubeSource(rawURL string) (Source, error) {
	id, err := ParseYouTubeVideoID(rawURL)
	if err != nil {
		return Source{}, err
	}
	return Source{Kind: SourceYouTube, URL: strings.TrimSpace(rawURL), VideoID: id}, nil
}

// NewUploadSource builds an upload source for an object already in storage
func NewUploadSource(storageKey, filename string) Source {
	return Source{Kind: SourceUpload, StorageKey: storageKey, Filename: filename}
}

// Validate checks that exactly the field group matching Kind is populated
func (s Source) Validate() error {
	youtube := s.URL != "" || s.VideoID != ""
	upload := s.StorageKey != "" || s.Filename != ""

	switch s.Kind {
	case SourceYouTube:
		if upload {
			return fmt.Errorf("%w: youtube source carries upload fields", ErrInvalidSource)
		}
		if s.URL == "" || !videoIDPattern.MatchString(s.VideoID) {
			return fmt.Errorf("%w: youtube source needs url and an 11 character video id", ErrInvalidSource)
		}
	case SourceUpload:
		if youtube {
			return fmt.Errorf("%w: upload source carries youtube fields", ErrInvalidSource)
		}
		if s.StorageKey == "" {
			return fmt.Errorf("%w: upload source needs a storage key", ErrInvalidSource)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSource, s.Kind)
	}
	return nil
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ParseYouTubeVideoID extracts the 11 character video id from the common
// YouTube URL shapes (watch, youtu.be, shorts, embed, live).
func ParseYouTubeVideoID(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "", ErrInvalidYouTubeURL
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 {
			switch parts[0] {
			case "shorts", "embed", "live", "v":
				id = parts[1]
			}
		}
	default:
		return "", ErrInvalidYouTubeURL
	}

	if !videoIDPattern.MatchString(id) {
		return "", ErrInvalidYouTubeURL
	}
	return id, nil
}

// TitleCandidate is a suggested title with its advisory scores
type TitleCandidate struct {
	Title            string  `json:"title" bson:"title"`
	Score            float64 `json:"score" bson:"score"`
	Reasoning        string  `json:"reasoning" bson:"reasoning"`
	ViralityIncrease float64 `json:"viralityIncrease" bson:"viralityIncrease"`
	SEOImprovement   float64 `json:"seoImprovement" bson:"seoImprovement"`
}

// DescriptionCandidate is a suggested description with its advisory scores
type DescriptionCandidate struct {
	Description      string  `json:"description" bson:"description"`
	Score            float64 `json:"score" bson:"score"`
	Reasoning        string  `json:"reasoning" bson:"reasoning"`
	ViralityIncrease float64 `json:"viralityIncrease" bson:"viralityIncrease"`
	SEOImprovement   float64 `json:"seoImprovement" bson:"seoImprovement"`
}

// Job is the persisted record of one media item's optimization request
type Job struct {
	ID      string    `json:"id" bson:"_id"`
	OwnerID string    `json:"ownerId" bson:"ownerId"`
	Source  Source    `json:"source" bson:"source"`
	Status  JobStatus `json:"status" bson:"status"`

	Progress int `json:"progress" bson:"progress"` // 0-100

	Transcript            string                 `json:"transcript,omitempty" bson:"transcript,omitempty"`
	Keywords              []string               `json:"keywords,omitempty" bson:"keywords,omitempty"`
	SEOKeywords           []string               `json:"seoKeywords,omitempty" bson:"seoKeywords,omitempty"`
	SuggestedTitles       []TitleCandidate       `json:"suggestedTitles,omitempty" bson:"suggestedTitles,omitempty"`
	SuggestedDescriptions []DescriptionCandidate `json:"suggestedDescriptions,omitempty" bson:"suggestedDescriptions,omitempty"`
	SuggestedTags         []string               `json:"suggestedTags,omitempty" bson:"suggestedTags,omitempty"`
	Analytics             *AnalyticsMetrics      `json:"analytics,omitempty" bson:"analytics,omitempty"`

	OriginalTitle       string `json:"originalTitle,omitempty" bson:"originalTitle,omitempty"`
	OriginalDescription string `json:"originalDescription,omitempty" bson:"originalDescription,omitempty"`

	Warnings     []string `json:"warnings,omitempty" bson:"warnings,omitempty"`
	Degraded     bool     `json:"degraded" bson:"degraded"`
	ErrorMessage string   `json:"errorMessage,omitempty" bson:"errorMessage,omitempty"`

	CreatedAt             time.Time  `json:"createdAt" bson:"createdAt"`
	ProcessingStartedAt   *time.Time `json:"processingStartedAt,omitempty" bson:"processingStartedAt,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processingCompletedAt,omitempty" bson:"processingCompletedAt,omitempty"`
	UpdatedAt             time.Time  `json:"updatedAt" bson:"updatedAt"`

	StateTransitions []StateTransition `json:"stateTransitions,omitempty" bson:"stateTransitions,omitempty"`

	// Revision is bumped on every stored update; used for optimistic writes
	Revision int64 `json:"-" bson:"revision"`
}

// NewJob returns a PENDING job for the owner and source
func NewJob(id, ownerID string, source Source, now time.Time) *Job {
	return &Job{
		ID:        id,
		OwnerID:   ownerID,
		Source:    source,
		Status:    JobStatusPending,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers never share slices with a store
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Keywords = cloneStrings(j.Keywords)
	c.SEOKeywords = cloneStrings(j.SEOKeywords)
	c.SuggestedTags = cloneStrings(j.SuggestedTags)
	c.Warnings = cloneStrings(j.Warnings)
	if j.SuggestedTitles != nil {
		c.SuggestedTitles = append([]TitleCandidate(nil), j.SuggestedTitles...)
	}
	if j.SuggestedDescriptions != nil {
		c.SuggestedDescriptions = append([]DescriptionCandidate(nil), j.SuggestedDescriptions...)
	}
	if j.StateTransitions != nil {
		c.StateTransitions = append([]StateTransition(nil), j.StateTransitions...)
	}
	if j.Analytics != nil {
		a := j.Analytics.Clone()
		c.Analytics = &a
	}
	if j.ProcessingStartedAt != nil {
		t := *j.ProcessingStartedAt
		c.ProcessingStartedAt = &t
	}
	if j.ProcessingCompletedAt != nil {
		t := *j.ProcessingCompletedAt
		c.ProcessingCompletedAt = &t
	}
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// StateTransition tracks job state changes with timestamps
type StateTransition struct {
	From      JobStatus `json:"from" bson:"from"`
	To        JobStatus `json:"to" bson:"to"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Reason    string    `json:"reason,omitempty" bson:"reason,omitempty"`
}

// SubmitRequest is the body accepted when creating a job
type SubmitRequest struct {
	YouTubeURL string `json:"youtubeUrl,omitempty"`
	StorageKey string `json:"storageKey,omitempty"`
	Filename   string `json:"filename,omitempty"`
}

// Source converts the request into a validated Source
func (r SubmitRequest) Source() (Source, error) {
	switch {
	case r.YouTubeURL != "" && r.StorageKey != "":
		return Source{}, fmt.Errorf("%w: provide either youtubeUrl or storageKey, not both", ErrInvalidSource)
	case r.YouTubeURL != "":
		return NewYouTubeSource(r.YouTubeURL)
	case r.StorageKey != "":
		src := NewUploadSource(r.StorageKey, r.Filename)
		return src, src.Validate()
	default:
		return Source{}, fmt.Errorf("%w: youtubeUrl or storageKey is required", ErrInvalidSource)
	}
}
