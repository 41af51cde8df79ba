// Package s3store is the object storage used for uploaded media. Uploads
// go straight from the client to the bucket through presigned PUT URLs.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const uploadPrefix = "uploads"

// Config selects the bucket and endpoint
type Config struct {
	Bucket string
	Region string
	// Endpoint overrides the AWS endpoint (MinIO, LocalStack)
	Endpoint      string
	UsePathStyle  bool
	PresignExpiry time.Duration
}

// Store wraps an S3 bucket
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	expiry  time.Duration
}

// New loads AWS credentials from the default chain and opens the bucket
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewFromConfig(awsCfg, cfg)
}

// NewFromConfig opens the bucket with an already resolved AWS config
func NewFromConfig(awsCfg aws.Config, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = 15 * time.Minute
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		expiry:  cfg.PresignExpiry,
	}, nil
}

// Bucket returns the bucket name
func (s *Store) Bucket() string { return s.bucket }

// Expiry is how long presigned URLs stay valid
func (s *Store) Expiry() time.Duration { return s.expiry }

// URI returns the s3:// address of key
func (s *Store) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

// PresignPut returns a URL the client can PUT the object to
func (s *Store) PresignPut(ctx context.Context, key, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	req, err := s.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign upload for %s: %w", key, err)
	}
	return req.URL, nil
}

// Object is an open object body with its metadata
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Get opens the object at key. The caller closes Body.
func (s *Store) Get(ctx context.Context, key string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return &Object{
		Body:        out.Body,
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
	}, nil
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// UploadKey builds the owner-namespaced key uploads/<owner>/<uuid>-<filename>
func UploadKey(ownerID, filename string) string {
	name := unsafeFilename.ReplaceAllString(path.Base(filename), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "media"
	}
	return path.Join(uploadPrefix, ownerID, uuid.NewString()+"-"+name)
}

// OwnsKey reports whether key lies in the owner's namespace
func OwnsKey(ownerID, key string) bool {
	return ownerID != "" && strings.HasPrefix(key, path.Join(uploadPrefix, ownerID)+"/")
}
