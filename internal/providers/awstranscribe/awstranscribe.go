// Package awstranscribe runs batch speech-to-text jobs on Amazon Transcribe
// against media already stored in S3.
package awstranscribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/google/uuid"

	"github.com/psantana5/autofi/pkg/retry"
)

// ErrJobFailed is returned when Transcribe reports the job as failed
var ErrJobFailed = errors.New("transcription job failed")

// API is the subset of the Transcribe client used here
type API interface {
	StartTranscriptionJob(ctx context.Context, in *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, in *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
}

// Client starts and inspects transcription jobs
type Client struct {
	api          API
	http         *http.Client
	languageCode string
}

// New creates a client from the default AWS credential chain. An empty
// languageCode enables automatic language identification.
func New(ctx context.Context, region, languageCode string) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewWithAPI(transcribe.NewFromConfig(awsCfg), languageCode), nil
}

// NewWithAPI wraps an existing API implementation
func NewWithAPI(api API, languageCode string) *Client {
	return &Client{
		api:          api,
		http:         &http.Client{Timeout: 30 * time.Second},
		languageCode: languageCode,
	}
}

// Start submits a job for the media at mediaURI (s3://bucket/key) and
// returns the job name
func (c *Client) Start(ctx context.Context, mediaURI string) (string, error) {
	name := "autofi-" + uuid.NewString()
	input := &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(name),
		Media:                &types.Media{MediaFileUri: aws.String(mediaURI)},
	}
	if c.languageCode != "" {
		input.LanguageCode = types.LanguageCode(c.languageCode)
	} else {
		input.IdentifyLanguage = aws.Bool(true)
	}

	if _, err := c.api.StartTranscriptionJob(ctx, input); err != nil {
		return "", fmt.Errorf("failed to start transcription job: %w", err)
	}
	return name, nil
}

// Check reports whether the job has finished. On completion it downloads
// and returns the transcript text.
func (c *Client) Check(ctx context.Context, name string) (bool, string, error) {
	out, err := c.api.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(name),
	})
	if err != nil {
		return false, "", fmt.Errorf("failed to get transcription job %s: %w", name, err)
	}
	job := out.TranscriptionJob
	if job == nil {
		return false, "", fmt.Errorf("transcription job %s missing from response", name)
	}

	switch job.TranscriptionJobStatus {
	case types.TranscriptionJobStatusCompleted:
		if job.Transcript == nil || aws.ToString(job.Transcript.TranscriptFileUri) == "" {
			return false, "", fmt.Errorf("transcription job %s completed without a transcript", name)
		}
		text, err := c.download(ctx, aws.ToString(job.Transcript.TranscriptFileUri))
		if err != nil {
			return false, "", err
		}
		return true, text, nil
	case types.TranscriptionJobStatusFailed:
		return false, "", retry.Permanent(fmt.Errorf("%w: %s", ErrJobFailed, aws.ToString(job.FailureReason)))
	default:
		return false, "", nil
	}
}

type transcriptDocument struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
	} `json:"results"`
}

func (c *Client) download(ctx context.Context, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create transcript request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("transcript download failed with status %d: %s", resp.StatusCode, string(body))
	}

	var doc transcriptDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode transcript: %w", err)
	}
	parts := make([]string, 0, len(doc.Results.Transcripts))
	for _, t := range doc.Results.Transcripts {
		if s := strings.TrimSpace(t.Transcript); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "), nil
}
