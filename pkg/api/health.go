package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/psantana5/autofi/pkg/logging"
)

// HealthChecker is the part of the store the health route needs
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HostStats is a snapshot of the machine the API runs on
type HostStats struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
	Load1         float64 `json:"load1"`
	Load5         float64 `json:"load5"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status     string    `json:"status"`
	Database   string    `json:"database"`
	ActiveJobs int       `json:"activeJobs"`
	Uptime     string    `json:"uptime"`
	Host       HostStats `json:"host"`
}

// HealthHandler reports store reachability and host load
type HealthHandler struct {
	store   HealthChecker
	active  func() int
	started time.Time
	logger  *logging.Logger
}

// NewHealthHandler creates a health handler. active may be nil.
func NewHealthHandler(st HealthChecker, active func() int, logger *logging.Logger) *HealthHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &HealthHandler{store: st, active: active, started: time.Now(), logger: logger}
}

// RegisterRoutes registers GET /health
func (h *HealthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// Health answers 200 when the store is reachable and 503 otherwise
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:   "healthy",
		Database: "ok",
		Uptime:   time.Since(h.started).Round(time.Second).String(),
		Host:     hostStats(),
	}
	if h.active != nil {
		resp.ActiveJobs = h.active()
	}

	status := http.StatusOK
	if err := h.store.HealthCheck(ctx); err != nil {
		h.logger.Warn("health check failed", logging.Fields{"error": err})
		resp.Status = "unhealthy"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// hostStats samples host load; readings that fail are left at zero
func hostStats() HostStats {
	var s HostStats
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vm.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		s.Load1 = avg.Load1
		s.Load5 = avg.Load5
	}
	return s
}
