package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/autofi/internal/pipeline"
	"github.com/psantana5/autofi/internal/providers/s3store"
	"github.com/psantana5/autofi/pkg/auth"
	"github.com/psantana5/autofi/pkg/metrics"
	"github.com/psantana5/autofi/pkg/middleware"
	"github.com/psantana5/autofi/pkg/models"
	"github.com/psantana5/autofi/pkg/ratelimit"
	"github.com/psantana5/autofi/pkg/store"
)

type fakePresigner struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *fakePresigner) PresignPut(ctx context.Context, key, contentType string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.keys = append(p.keys, key)
	return "https://bucket.example/" + key + "?sig=x", nil
}

func (p *fakePresigner) Expiry() time.Duration { return 15 * time.Minute }

type brokenStore struct{ store.Store }

func (brokenStore) HealthCheck(ctx context.Context) error { return errors.New("connection refused") }

type testServer struct {
	store      *store.MemoryStore
	dispatched chan string
	handler    http.Handler
}

// newTestServer wires the router over a memory store. Dispatched jobs are
// reported on a channel and left PENDING.
func newTestServer(t *testing.T, mutate func(*Options)) *testServer {
	t.Helper()
	ts := &testServer{store: store.NewMemoryStore(), dispatched: make(chan string, 16)}

	d := pipeline.NewDispatcher(func(ctx context.Context, jobID string) error {
		ts.dispatched <- jobID
		return nil
	}, 1, nil)
	t.Cleanup(func() { d.Shutdown(context.Background()) })

	opts := Options{
		Service: pipeline.NewService(ts.store, d, nil, s3store.OwnsKey, nil),
		Store:   ts.store,
		Uploads: &fakePresigner{},
	}
	if mutate != nil {
		mutate(&opts)
	}
	ts.handler = NewRouter(opts)
	return ts
}

func (ts *testServer) do(method, path, owner string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if owner != "" {
		req.Header.Set(middleware.OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) seed(t *testing.T, owner string, created time.Time) *models.Job {
	t.Helper()
	job := models.NewJob("job-"+created.Format("150405.000"), owner,
		models.NewUploadSource("uploads/"+owner+"/a.mp4", "a.mp4"), created)
	require.NoError(t, ts.store.CreateJob(context.Background(), job))
	return job
}

func TestSubmitVideo_Accepted(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do("POST", "/api/v1/videos", "owner-1", models.SubmitRequest{
		YouTubeURL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, models.JobStatusPending, resp.Status)

	select {
	case id := <-ts.dispatched:
		assert.Equal(t, resp.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("job was never dispatched")
	}

	job, err := ts.store.GetJob(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", job.OwnerID)
	assert.Equal(t, "dQw4w9WgXcQ", job.Source.VideoID)
}

func TestSubmitVideo_BadRequests(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body interface{}
	}{
		{"empty", models.SubmitRequest{}},
		{"both sources", models.SubmitRequest{YouTubeURL: "https://youtu.be/dQw4w9WgXcQ", StorageKey: "uploads/owner-1/a.mp4"}},
		{"not youtube", models.SubmitRequest{YouTubeURL: "https://vimeo.com/1"}},
		{"foreign upload key", models.SubmitRequest{StorageKey: "uploads/owner-2/a.mp4"}},
		{"not json", "plain string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do("POST", "/api/v1/videos", "owner-1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	jobs, err := ts.store.ListJobsByOwner(context.Background(), "owner-1", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSubmitVideo_RequiresOwner(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do("POST", "/api/v1/videos", "", models.SubmitRequest{YouTubeURL: "https://youtu.be/dQw4w9WgXcQ"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitVideo_RateLimitedPerOwner(t *testing.T) {
	ts := newTestServer(t, func(o *Options) {
		o.Limiter = ratelimit.NewLimiter(0.001, 1)
	})
	body := models.SubmitRequest{YouTubeURL: "https://youtu.be/dQw4w9WgXcQ"}

	assert.Equal(t, http.StatusAccepted, ts.do("POST", "/api/v1/videos", "owner-1", body).Code)
	rec := ts.do("POST", "/api/v1/videos", "owner-1", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// a different owner has its own bucket
	assert.Equal(t, http.StatusAccepted, ts.do("POST", "/api/v1/videos", "owner-2", body).Code)

	// reads are not limited
	assert.Equal(t, http.StatusOK, ts.do("GET", "/api/v1/videos", "owner-1", nil).Code)
}

func TestGetVideo(t *testing.T) {
	ts := newTestServer(t, nil)
	job := ts.seed(t, "owner-1", time.Now())

	rec := ts.do("GET", "/api/v1/videos/"+job.ID, "owner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got models.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.Progress)

	// polling twice returns the same body
	first := ts.do("GET", "/api/v1/videos/"+job.ID, "owner-1", nil).Body.String()
	second := ts.do("GET", "/api/v1/videos/"+job.ID, "owner-1", nil).Body.String()
	assert.Equal(t, first, second)
}

func TestGetVideo_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	job := ts.seed(t, "owner-1", time.Now())

	assert.Equal(t, http.StatusNotFound, ts.do("GET", "/api/v1/videos/does-not-exist", "owner-1", nil).Code)
	// another owner's job looks exactly like a missing one
	assert.Equal(t, http.StatusNotFound, ts.do("GET", "/api/v1/videos/"+job.ID, "owner-2", nil).Code)
}

func TestListVideos(t *testing.T) {
	ts := newTestServer(t, nil)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	older := ts.seed(t, "owner-1", base)
	newer := ts.seed(t, "owner-1", base.Add(time.Minute))
	ts.seed(t, "owner-2", base.Add(2*time.Minute))

	rec := ts.do("GET", "/api/v1/videos", "owner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Videos, 2)
	assert.Equal(t, newer.ID, resp.Videos[0].ID)
	assert.Equal(t, older.ID, resp.Videos[1].ID)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, store.DefaultPageLimit, resp.Limit)

	rec = ts.do("GET", "/api/v1/videos?page=2&limit=1", "owner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = ListResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Videos, 1)
	assert.Equal(t, older.ID, resp.Videos[0].ID)

	assert.Equal(t, http.StatusBadRequest, ts.do("GET", "/api/v1/videos?page=abc", "owner-1", nil).Code)
}

func TestCancelVideo(t *testing.T) {
	ts := newTestServer(t, nil)
	job := ts.seed(t, "owner-1", time.Now())

	rec := ts.do("POST", "/api/v1/videos/"+job.ID+"/cancel", "owner-1", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.JobStatusFailed, resp.Status)

	stored, err := ts.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.MsgCanceled, stored.ErrorMessage)

	assert.Equal(t, http.StatusConflict, ts.do("POST", "/api/v1/videos/"+job.ID+"/cancel", "owner-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do("POST", "/api/v1/videos/missing/cancel", "owner-1", nil).Code)
}

func TestCreateUpload(t *testing.T) {
	presigner := &fakePresigner{}
	ts := newTestServer(t, func(o *Options) { o.Uploads = presigner })

	rec := ts.do("POST", "/api/v1/uploads", "owner-1", UploadRequest{Filename: "My Clip.mp4", ContentType: "video/mp4"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp UploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, strings.HasPrefix(resp.StorageKey, "uploads/owner-1/"), resp.StorageKey)
	assert.True(t, strings.HasSuffix(resp.StorageKey, "-My_Clip.mp4"), resp.StorageKey)
	assert.Contains(t, resp.UploadURL, resp.StorageKey)
	assert.Equal(t, 900, resp.ExpiresIn)
	assert.Equal(t, []string{resp.StorageKey}, presigner.keys)

	// the returned key is accepted for submission by the same owner
	rec = ts.do("POST", "/api/v1/videos", "owner-1", models.SubmitRequest{StorageKey: resp.StorageKey, Filename: "My Clip.mp4"})
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, ts.do("POST", "/api/v1/uploads", "owner-1", UploadRequest{}).Code)
}

func TestCreateUpload_Errors(t *testing.T) {
	ts := newTestServer(t, func(o *Options) { o.Uploads = nil })
	assert.Equal(t, http.StatusServiceUnavailable,
		ts.do("POST", "/api/v1/uploads", "owner-1", UploadRequest{Filename: "a.mp4"}).Code)

	ts = newTestServer(t, func(o *Options) { o.Uploads = &fakePresigner{err: errors.New("no credentials")} })
	assert.Equal(t, http.StatusBadGateway,
		ts.do("POST", "/api/v1/uploads", "owner-1", UploadRequest{Filename: "a.mp4"}).Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do("GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ok", resp.Database)

	ts = newTestServer(t, func(o *Options) { o.Store = brokenStore{} })
	rec = ts.do("GET", "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp = HealthResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Contains(t, resp.Database, "connection refused")
}

func TestAPIKeyRequired(t *testing.T) {
	key, hash, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	keys, err := auth.NewKeyRing([]string{hash})
	require.NoError(t, err)

	ts := newTestServer(t, func(o *Options) { o.Keys = keys })

	assert.Equal(t, http.StatusUnauthorized, ts.do("GET", "/api/v1/videos", "owner-1", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do("GET", "/health", "", nil).Code)

	req := httptest.NewRequest("GET", "/api/v1/videos", nil)
	req.Header.Set(middleware.OwnerHeader, "owner-1")
	req.Header.Set("Authorization", "Bearer "+key)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	ts := newTestServer(t, func(o *Options) { o.Metrics = metrics.NewHTTP(reg, reg) })

	ts.do("GET", "/api/v1/videos/missing", "owner-1", nil)

	rec := ts.do("GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "autofi_http_requests_total")
	assert.Contains(t, body, `route="/api/v1/videos/{id}"`)
	assert.Contains(t, body, `status="404"`)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, func(o *Options) { o.CORSOrigins = []string{"http://localhost:5173"} })

	req := httptest.NewRequest("OPTIONS", "/api/v1/videos", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
