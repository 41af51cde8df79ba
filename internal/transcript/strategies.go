package transcript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"

	"github.com/psantana5/autofi/internal/providers/s3store"
	"github.com/psantana5/autofi/pkg/models"
	"github.com/psantana5/autofi/pkg/retry"
)

const defaultVideoMIME = "video/mp4"

var errWrongSource = errors.New("strategy does not handle this source kind")

// CaptionFetcher looks up published captions by video id
type CaptionFetcher interface {
	Fetch(ctx context.Context, videoID string) (string, error)
}

// MediaTranscriber transcribes media reachable at a URI
type MediaTranscriber interface {
	TranscribeMedia(ctx context.Context, uri, mimeType string) (string, error)
}

// StreamTranscriber transcribes media read from a stream
type StreamTranscriber interface {
	TranscribeStream(ctx context.Context, r io.Reader, mimeType, displayName string) (string, error)
}

// BatchTranscriber runs asynchronous speech-to-text jobs
type BatchTranscriber interface {
	Start(ctx context.Context, mediaURI string) (string, error)
	Check(ctx context.Context, jobName string) (bool, string, error)
}

// ObjectStore resolves and opens uploaded media
type ObjectStore interface {
	URI(key string) string
	Get(ctx context.Context, key string) (*s3store.Object, error)
}

// CaptionLookup reads existing captions for a YouTube video
type CaptionLookup struct {
	Captions CaptionFetcher
}

func (s CaptionLookup) Name() string { return "caption_lookup" }

func (s CaptionLookup) Fetch(ctx context.Context, src models.Source) (string, error) {
	if src.Kind != models.SourceYouTube {
		return "", errWrongSource
	}
	return s.Captions.Fetch(ctx, src.VideoID)
}

// GenerativeURL has a multimodal model watch the public video URL
type GenerativeURL struct {
	Model MediaTranscriber
}

func (s GenerativeURL) Name() string { return "generative_url" }

func (s GenerativeURL) Fetch(ctx context.Context, src models.Source) (string, error) {
	if src.Kind != models.SourceYouTube {
		return "", errWrongSource
	}
	return s.Model.TranscribeMedia(ctx, src.URL, defaultVideoMIME)
}

// BatchSpeechToText submits the stored upload to a batch transcription
// service and polls until the job finishes or the poll budget runs out
type BatchSpeechToText struct {
	Batch   BatchTranscriber
	Objects ObjectStore
	Poll    retry.PollConfig
	Clock   retry.Clock
}

func (s BatchSpeechToText) Name() string { return "batch_stt" }

func (s BatchSpeechToText) Fetch(ctx context.Context, src models.Source) (string, error) {
	if src.Kind != models.SourceUpload {
		return "", errWrongSource
	}
	jobName, err := s.Batch.Start(ctx, s.Objects.URI(src.StorageKey))
	if err != nil {
		return "", err
	}

	var text string
	var lastTransient error
	err = retry.Poll(ctx, s.Clock, s.Poll, func(ctx context.Context) (bool, error) {
		done, t, err := s.Batch.Check(ctx, jobName)
		if err != nil {
			// throttled or flaky status checks wait for the next interval
			if retry.IsRetryable(err) && ctx.Err() == nil {
				lastTransient = err
				return false, nil
			}
			return false, err
		}
		text = t
		return done, nil
	})
	if errors.Is(err, retry.ErrPollTimeout) && lastTransient != nil {
		err = fmt.Errorf("%w (last check error: %v)", err, lastTransient)
	}
	if err != nil {
		return "", fmt.Errorf("batch job %s: %w", jobName, err)
	}
	return text, nil
}

// GenerativeUpload streams the stored upload to a multimodal model
type GenerativeUpload struct {
	Model   StreamTranscriber
	Objects ObjectStore
}

func (s GenerativeUpload) Name() string { return "generative_upload" }

func (s GenerativeUpload) Fetch(ctx context.Context, src models.Source) (string, error) {
	if src.Kind != models.SourceUpload {
		return "", errWrongSource
	}
	obj, err := s.Objects.Get(ctx, src.StorageKey)
	if err != nil {
		return "", err
	}
	defer obj.Body.Close()

	name := src.Filename
	if name == "" {
		name = path.Base(src.StorageKey)
	}
	return s.Model.TranscribeStream(ctx, obj.Body, mediaType(obj.ContentType, name), name)
}

// mediaType prefers the stored content type, then the file extension
func mediaType(contentType, filename string) string {
	if contentType != "" && contentType != "application/octet-stream" && contentType != "binary/octet-stream" {
		return contentType
	}
	if t := mime.TypeByExtension(path.Ext(filename)); t != "" {
		return t
	}
	return defaultVideoMIME
}
