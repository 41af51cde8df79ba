// Package transcriptapi looks up existing YouTube captions through a hosted
// transcript service.
package transcriptapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/psantana5/autofi/pkg/retry"
)

// ErrNoTranscript means the service has no captions for the video
var ErrNoTranscript = errors.New("no transcript available")

// Client calls the transcript service
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      retry.Config
}

// NewClient creates a transcript service client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: retry.Config{
			Attempts:       3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2.0,
		},
	}
}

type transcriptResponse struct {
	VideoID  string `json:"videoId"`
	Text     string `json:"text"`
	Segments []struct {
		Text     string  `json:"text"`
		Start    float64 `json:"start"`
		Duration float64 `json:"duration"`
	} `json:"segments"`
}

// Fetch returns the caption text for videoID
func (c *Client) Fetch(ctx context.Context, videoID string) (string, error) {
	var text string
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		t, err := c.fetchOnce(ctx, videoID)
		if err != nil {
			return retry.Transient(err)
		}
		text = t
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *Client) fetchOnce(ctx context.Context, videoID string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/transcripts/%s", c.baseURL, url.PathEscape(videoID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch transcript: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w for %s", ErrNoTranscript, videoID)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("transcript lookup failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode transcript: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		parts := make([]string, 0, len(result.Segments))
		for _, s := range result.Segments {
			if t := strings.TrimSpace(s.Text); t != "" {
				parts = append(parts, t)
			}
		}
		text = strings.Join(parts, " ")
	}
	if text == "" {
		return "", fmt.Errorf("%w for %s", ErrNoTranscript, videoID)
	}
	return text, nil
}
