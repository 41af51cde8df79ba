package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/autofi/internal/pipeline"
	"github.com/psantana5/autofi/internal/providers/s3store"
	"github.com/psantana5/autofi/pkg/logging"
	"github.com/psantana5/autofi/pkg/middleware"
	"github.com/psantana5/autofi/pkg/models"
	"github.com/psantana5/autofi/pkg/ratelimit"
	"github.com/psantana5/autofi/pkg/store"
)

// Presigner hands out upload URLs for the media bucket
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string) (string, error)
	Expiry() time.Duration
}

// VideoHandler serves the video job API
type VideoHandler struct {
	service *pipeline.Service
	uploads Presigner
	limiter *ratelimit.Limiter
	logger  *logging.Logger
}

// NewVideoHandler creates a handler. uploads may be nil when no bucket is
// configured; the upload route then answers 503.
func NewVideoHandler(svc *pipeline.Service, uploads Presigner, logger *logging.Logger) *VideoHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &VideoHandler{service: svc, uploads: uploads, logger: logger}
}

// SetRateLimiter limits submissions per owner
func (h *VideoHandler) SetRateLimiter(l *ratelimit.Limiter) {
	h.limiter = l
}

// RegisterRoutes registers the video and upload routes
func (h *VideoHandler) RegisterRoutes(r *mux.Router) {
	var submit http.Handler = http.HandlerFunc(h.SubmitVideo)
	if h.limiter != nil {
		submit = h.limiter.Middleware(ratelimit.HeaderKeyFunc(middleware.OwnerHeader))(submit)
	}

	r.Handle("/api/v1/videos", submit).Methods("POST")
	r.HandleFunc("/api/v1/videos", h.ListVideos).Methods("GET")
	r.HandleFunc("/api/v1/videos/{id}", h.GetVideo).Methods("GET")
	r.HandleFunc("/api/v1/videos/{id}/cancel", h.CancelVideo).Methods("POST")
	r.HandleFunc("/api/v1/uploads", h.CreateUpload).Methods("POST")
}

// SubmitResponse acknowledges an accepted job
type SubmitResponse struct {
	ID     string           `json:"id"`
	Status models.JobStatus `json:"status"`
}

// SubmitVideo creates a job and returns before any processing happens
func (h *VideoHandler) SubmitVideo(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	src, err := req.Source()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := h.service.Submit(r.Context(), middleware.OwnerID(r), src)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{ID: job.ID, Status: job.Status})
}

// GetVideo returns the full job record for polling
func (h *VideoHandler) GetVideo(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Status(r.Context(), middleware.OwnerID(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// VideoSummary is the dashboard projection of a job
type VideoSummary struct {
	ID           string           `json:"id"`
	Source       models.Source    `json:"source"`
	Status       models.JobStatus `json:"status"`
	Progress     int              `json:"progress"`
	Degraded     bool             `json:"degraded"`
	TopTitle     string           `json:"topTitle,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// ListResponse is one page of the caller's jobs
type ListResponse struct {
	Videos []VideoSummary `json:"videos"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
}

// ListVideos returns one page of the caller's jobs, newest first
func (h *VideoHandler) ListVideos(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		http.Error(w, "Invalid page", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	page, limit = store.NormalizePage(page, limit)

	jobs, err := h.service.List(r.Context(), middleware.OwnerID(r), page, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := ListResponse{Videos: make([]VideoSummary, 0, len(jobs)), Page: page, Limit: limit}
	for _, job := range jobs {
		resp.Videos = append(resp.Videos, summarize(job))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelVideo stops a job that has not finished yet
func (h *VideoHandler) CancelVideo(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Cancel(r.Context(), middleware.OwnerID(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{ID: job.ID, Status: job.Status})
}

// UploadRequest asks for a place to put a media file
type UploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
}

// UploadResponse carries the presigned PUT URL and the key to submit
type UploadResponse struct {
	UploadURL  string `json:"uploadUrl"`
	StorageKey string `json:"storageKey"`
	ExpiresIn  int    `json:"expiresIn"`
}

// CreateUpload presigns a PUT into the caller's upload namespace
func (h *VideoHandler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	if h.uploads == nil {
		http.Error(w, "Uploads are not configured", http.StatusServiceUnavailable)
		return
	}

	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Filename == "" {
		http.Error(w, "filename is required", http.StatusBadRequest)
		return
	}

	key := s3store.UploadKey(middleware.OwnerID(r), req.Filename)
	url, err := h.uploads.PresignPut(r.Context(), key, req.ContentType)
	if err != nil {
		h.logger.Error("presign failed", logging.Fields{"key": key, "error": err})
		http.Error(w, "Failed to create upload", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{
		UploadURL:  url,
		StorageKey: key,
		ExpiresIn:  int(h.uploads.Expiry().Seconds()),
	})
}

// writeError maps service errors to status codes
func (h *VideoHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrJobNotFound), errors.Is(err, pipeline.ErrForbidden):
		http.Error(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, store.ErrTerminalJob):
		http.Error(w, "Job already finished", http.StatusConflict)
	case errors.Is(err, models.ErrInvalidSource):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("request failed", logging.Fields{"error": err})
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func summarize(job *models.Job) VideoSummary {
	s := VideoSummary{
		ID:           job.ID,
		Source:       job.Source,
		Status:       job.Status,
		Progress:     job.Progress,
		Degraded:     job.Degraded,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	if len(job.SuggestedTitles) > 0 {
		s.TopTitle = job.SuggestedTitles[0].Title
	}
	return s
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
