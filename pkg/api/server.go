package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/psantana5/autofi/internal/pipeline"
	"github.com/psantana5/autofi/pkg/auth"
	"github.com/psantana5/autofi/pkg/logging"
	"github.com/psantana5/autofi/pkg/metrics"
	"github.com/psantana5/autofi/pkg/middleware"
	"github.com/psantana5/autofi/pkg/ratelimit"
	"github.com/psantana5/autofi/pkg/tracing"
)

// Options wires the router. Only Service and Store are required.
type Options struct {
	Service *pipeline.Service
	Store   HealthChecker
	Uploads Presigner

	Metrics *metrics.HTTP
	Tracer  *tracing.Provider
	Keys    *auth.KeyRing
	Limiter *ratelimit.Limiter

	CORSOrigins []string
	Logger      *logging.Logger
}

var publicPaths = []string{"/health", "/metrics"}

// NewRouter builds the full HTTP handler: routes, auth, owner identity,
// tracing, metrics and CORS
func NewRouter(opts Options) http.Handler {
	r := mux.NewRouter()

	if opts.Tracer != nil {
		r.Use(tracing.HTTPMiddleware(opts.Tracer))
	}
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
		r.Handle("/metrics", opts.Metrics.Handler()).Methods("GET")
	}
	if opts.Keys != nil {
		r.Use(opts.Keys.Middleware(publicPaths...))
	}
	r.Use(middleware.Owner(publicPaths...))

	var active func() int
	if opts.Service != nil {
		active = opts.Service.Active
	}
	NewHealthHandler(opts.Store, active, opts.Logger).RegisterRoutes(r)

	videos := NewVideoHandler(opts.Service, opts.Uploads, opts.Logger)
	if opts.Limiter != nil {
		videos.SetRateLimiter(opts.Limiter)
	}
	videos.RegisterRoutes(r)

	if len(opts.CORSOrigins) == 0 {
		return r
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.OwnerHeader},
		AllowCredentials: true,
	})
	return c.Handler(r)
}
