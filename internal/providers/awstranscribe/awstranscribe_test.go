package awstranscribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/autofi/pkg/retry"
)

type fakeAPI struct {
	started *transcribe.StartTranscriptionJobInput
	job     *types.TranscriptionJob
}

func (f *fakeAPI) StartTranscriptionJob(_ context.Context, in *transcribe.StartTranscriptionJobInput, _ ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error) {
	f.started = in
	return &transcribe.StartTranscriptionJobOutput{}, nil
}

func (f *fakeAPI) GetTranscriptionJob(_ context.Context, _ *transcribe.GetTranscriptionJobInput, _ ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error) {
	return &transcribe.GetTranscriptionJobOutput{TranscriptionJob: f.job}, nil
}

func TestStart(t *testing.T) {
	api := &fakeAPI{}
	c := NewWithAPI(api, "")

	name, err := c.Start(testContext(t), "s3://media/uploads/u/k.mp4")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "autofi-"))
	require.NotNil(t, api.started)
	assert.Equal(t, name, aws.ToString(api.started.TranscriptionJobName))
	assert.Equal(t, "s3://media/uploads/u/k.mp4", aws.ToString(api.started.Media.MediaFileUri))
	assert.True(t, aws.ToBool(api.started.IdentifyLanguage))

	c = NewWithAPI(api, "en-US")
	_, err = c.Start(testContext(t), "s3://media/k")
	require.NoError(t, err)
	assert.Equal(t, types.LanguageCodeEnUs, api.started.LanguageCode)
	assert.Nil(t, api.started.IdentifyLanguage)
}

func TestCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": {"transcripts": [{"transcript": "hello from the upload"}]}}`))
	}))
	defer server.Close()

	api := &fakeAPI{job: &types.TranscriptionJob{TranscriptionJobStatus: types.TranscriptionJobStatusInProgress}}
	c := NewWithAPI(api, "")

	done, text, err := c.Check(testContext(t), "job")
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, text)

	api.job = &types.TranscriptionJob{
		TranscriptionJobStatus: types.TranscriptionJobStatusCompleted,
		Transcript:             &types.Transcript{TranscriptFileUri: aws.String(server.URL + "/transcript.json")},
	}
	done, text, err = c.Check(testContext(t), "job")
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "hello from the upload", text)

	api.job = &types.TranscriptionJob{
		TranscriptionJobStatus: types.TranscriptionJobStatusFailed,
		FailureReason:          aws.String("media download timeout"),
	}
	_, _, err = c.Check(testContext(t), "job")
	assert.ErrorIs(t, err, ErrJobFailed)
	// the failure reason mentions a timeout but the job itself is over
	assert.False(t, retry.IsRetryable(err))
}
