package s3store

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticConfig() aws.Config {
	return aws.Config{
		Region: "us-east-1",
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"}, nil
		}),
	}
}

func TestUploadKey(t *testing.T) {
	key := UploadKey("user-1", "../My Holiday Video!.mp4")
	assert.True(t, strings.HasPrefix(key, "uploads/user-1/"), key)
	assert.True(t, strings.HasSuffix(key, "-My_Holiday_Video_.mp4"), key)
	assert.True(t, OwnsKey("user-1", key))
	assert.False(t, OwnsKey("user-2", key))
	assert.False(t, OwnsKey("", key))

	assert.NotEqual(t, UploadKey("user-1", "a.mp4"), UploadKey("user-1", "a.mp4"))
	assert.True(t, strings.HasSuffix(UploadKey("u", "..."), "-media"))
}

func TestPresignPut(t *testing.T) {
	store, err := NewFromConfig(staticConfig(), Config{
		Bucket:       "media",
		Endpoint:     "http://localhost:9000",
		UsePathStyle: true,
	})
	require.NoError(t, err)

	raw, err := store.PresignPut(testContext(t), "uploads/u1/abc-clip.mp4", "video/mp4")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/media/uploads/u1/abc-clip.mp4", u.Path)
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := NewFromConfig(staticConfig(), Config{})
	assert.Error(t, err)
}

func TestURI(t *testing.T) {
	store, err := NewFromConfig(staticConfig(), Config{Bucket: "media"})
	require.NoError(t, err)
	assert.Equal(t, "s3://media/uploads/u/k.mp4", store.URI("uploads/u/k.mp4"))
}
