// Package youtubemeta reads a video's current title and description from
// the YouTube Data API.
package youtubemeta

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// ErrVideoNotFound is returned when the API has no public video for the id
var ErrVideoNotFound = errors.New("video not found")

// Fetcher looks up video snippets
type Fetcher struct {
	svc *youtube.Service
}

// New creates a fetcher authenticated with an API key. Extra options are
// appended after the key.
func New(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Fetcher, error) {
	if apiKey == "" {
		return nil, errors.New("youtube api key is required")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}
	return &Fetcher{svc: svc}, nil
}

// FetchTitleAndDescription returns the published title and description
func (f *Fetcher) FetchTitleAndDescription(ctx context.Context, videoID string) (string, string, error) {
	resp, err := f.svc.Videos.List([]string{"snippet"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", "", fmt.Errorf("failed to list video %s: %w", videoID, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return "", "", fmt.Errorf("%w: %s", ErrVideoNotFound, videoID)
	}
	snippet := resp.Items[0].Snippet
	return snippet.Title, snippet.Description, nil
}
