package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/autofi/internal/analytics"
	"github.com/psantana5/autofi/internal/config"
	"github.com/psantana5/autofi/internal/content"
	"github.com/psantana5/autofi/internal/llm"
	"github.com/psantana5/autofi/internal/llm/gemini"
	"github.com/psantana5/autofi/internal/llm/openai"
	"github.com/psantana5/autofi/internal/pipeline"
	"github.com/psantana5/autofi/internal/providers/awstranscribe"
	"github.com/psantana5/autofi/internal/providers/s3store"
	"github.com/psantana5/autofi/internal/providers/transcriptapi"
	"github.com/psantana5/autofi/internal/providers/youtubemeta"
	"github.com/psantana5/autofi/internal/transcript"
	"github.com/psantana5/autofi/pkg/api"
	"github.com/psantana5/autofi/pkg/auth"
	"github.com/psantana5/autofi/pkg/logging"
	"github.com/psantana5/autofi/pkg/metrics"
	"github.com/psantana5/autofi/pkg/ratelimit"
	"github.com/psantana5/autofi/pkg/retry"
	"github.com/psantana5/autofi/pkg/shutdown"
	"github.com/psantana5/autofi/pkg/store"
	tlsutil "github.com/psantana5/autofi/pkg/tls"
	"github.com/psantana5/autofi/pkg/tracing"
)

var metricsSnapshot string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and pipeline workers",
	Long: `Start the HTTP API and the background pipeline. Jobs left unfinished by a
previous run are picked up again on start.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().String("db", "", "database type: memory, sqlite, postgres, mongo (overrides database.type)")
	serveCmd.Flags().Int("concurrency", 0, "concurrent pipeline runs (overrides pipeline.concurrency)")
	serveCmd.Flags().StringVar(&metricsSnapshot, "metrics-snapshot", "", "write a Prometheus text snapshot to this file on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	v := viper.New()
	v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	v.BindPFlag("database.type", cmd.Flags().Lookup("db"))
	v.BindPFlag("pipeline.concurrency", cmd.Flags().Lookup("concurrency"))

	cfg, err := loadServeConfig(v)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", logging.Fields{"error": err})
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Server.TLSCert != "" {
		tlsConfig, err := tlsutil.LoadServerConfig(cfg.Server.TLSCert, cfg.Server.TLSKey, cfg.Server.TLSClientCA)
		if err != nil {
			srv.close(context.Background())
			return err
		}
		httpServer.TLSConfig = tlsConfig
	}

	// runs in reverse: HTTP, dispatcher drain, snapshot, tracing, store
	mgr := shutdown.New(cfg.Server.ShutdownTimeout, logger)
	mgr.Register("resources", srv.close)
	if metricsSnapshot != "" {
		mgr.Register("metrics-snapshot", func(context.Context) error {
			return writeSnapshot(metricsSnapshot, srv.registry)
		})
	}
	mgr.Register("dispatcher", srv.dispatcher.Shutdown)
	mgr.Register("http", shutdown.StopHTTPServer(httpServer))

	if n, err := srv.service.Recover(ctx); err != nil {
		logger.Error("recovery failed", logging.Fields{"error": err, "recovered": n})
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("API server listening", logging.Fields{
			"addr": cfg.Server.Addr, "tls": httpServer.TLSConfig != nil, "version": version,
		})
		var err error
		if httpServer.TLSConfig != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	go srv.cleanupLimiter(ctx)

	mgr.WaitForSignal(ctx)
	shutdownErr := mgr.Shutdown()

	select {
	case err := <-serveErr:
		return fmt.Errorf("API server failed: %w", err)
	default:
		return shutdownErr
	}
}

func loadServeConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Level)
	if cfg.File {
		return logging.NewFileLogger("autofi", level, cfg.JSON)
	}
	return logging.NewLogger(level, cfg.JSON), nil
}

// server holds everything "serve" builds, in dependency order
type server struct {
	registry   *prometheus.Registry
	store      store.Store
	tracer     *tracing.Provider
	gemini     *gemini.Provider
	dispatcher *pipeline.Dispatcher
	service    *pipeline.Service
	limiter    *ratelimit.Limiter
	handler    http.Handler
	logger     *logging.Logger
}

// newServer connects the store and providers and assembles the pipeline
// and HTTP handler. Nothing is listening yet.
func newServer(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*server, error) {
	s := &server{registry: prometheus.NewRegistry(), logger: logger}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipelineMetrics := metrics.NewPipeline(s.registry)
	httpMetrics := metrics.NewHTTP(s.registry, s.registry)

	tracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "autofi",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, err
	}
	s.tracer = tracer

	st, err := store.NewStore(ctx, store.Config{
		Type:     cfg.Database.Type,
		DSN:      cfg.Database.DSN,
		Path:     cfg.Database.Path,
		Database: cfg.Database.Name,
	})
	if err != nil {
		s.close(context.Background())
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Database.Type, err)
	}
	s.store = st
	logger.Info("store ready", logging.Fields{"type": cfg.Database.Type})

	p, err := s.buildProviders(ctx, cfg, pipelineMetrics)
	if err != nil {
		s.close(context.Background())
		return nil, err
	}

	acquirer := transcript.NewAcquirer(p.youtubeSteps, p.uploadSteps, pipelineMetrics, logger.WithField("component", "transcript"))
	generator := content.NewGenerator(p.llm)
	deps := pipeline.Deps{
		Store:       st,
		Transcripts: acquirer,
		Keywords:    generator,
		Content:     generator,
		Scorer:      analytics.NewScorer(p.llm),
		Metrics:     pipelineMetrics,
		Tracer:      tracer,
		Logger:      logger.WithField("component", "pipeline"),
	}
	if p.metadata != nil {
		deps.Metadata = p.metadata
	}
	orchestrator := pipeline.NewOrchestrator(deps, pipeline.Timeouts{
		Metadata:   cfg.Pipeline.MetadataTimeout,
		Keywords:   cfg.Pipeline.KeywordsTimeout,
		Generation: cfg.Pipeline.GenerationTimeout,
		Scoring:    cfg.Pipeline.ScoringTimeout,
	})

	s.dispatcher = pipeline.NewDispatcher(orchestrator.Run, cfg.Pipeline.Concurrency, logger)
	s.service = pipeline.NewService(st, s.dispatcher, pipelineMetrics, s3store.OwnsKey, logger)

	keys, err := auth.NewKeyRing(cfg.Server.APIKeyHashes)
	if err != nil {
		s.close(context.Background())
		return nil, err
	}
	if !keys.Enabled() {
		logger.Warn("no API keys configured, authentication is disabled")
	}
	if cfg.Server.RateLimit > 0 {
		s.limiter = ratelimit.NewLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	opts := api.Options{
		Service:     s.service,
		Store:       st,
		Metrics:     httpMetrics,
		Tracer:      tracer,
		Keys:        keys,
		Limiter:     s.limiter,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger.WithField("component", "api"),
	}
	if p.objects != nil {
		opts.Uploads = p.objects
	}
	s.handler = api.NewRouter(opts)
	return s, nil
}

// providerSet is the external services enabled by configuration
type providerSet struct {
	llm          *llm.Client
	objects      *s3store.Store
	metadata     *youtubemeta.Fetcher
	youtubeSteps []transcript.Step
	uploadSteps  []transcript.Step
}

// buildProviders creates the clients whose credentials are configured.
// Anything missing is logged and left out of the chains.
func (s *server) buildProviders(ctx context.Context, cfg *config.Config, m *metrics.Pipeline) (*providerSet, error) {
	p := &providerSet{}
	logger := s.logger

	var generative []llm.Provider
	for _, name := range cfg.LLM.Providers {
		switch name {
		case "gemini":
			if cfg.LLM.GeminiAPIKey == "" {
				logger.Warn("gemini listed but llm.gemini_api_key is empty")
				continue
			}
			g, err := gemini.New(ctx, cfg.LLM.GeminiAPIKey, cfg.LLM.GeminiModel)
			if err != nil {
				return nil, err
			}
			s.gemini = g
			generative = append(generative, g)
		case "openai":
			if cfg.LLM.OpenAIAPIKey == "" {
				logger.Warn("openai listed but llm.openai_api_key is empty")
				continue
			}
			o, err := openai.New(cfg.LLM.OpenAIBaseURL, cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIModel)
			if err != nil {
				return nil, err
			}
			generative = append(generative, o)
		}
	}
	if len(generative) == 0 {
		logger.Warn("no generative provider available, jobs will use local fallbacks")
	}
	p.llm = llm.NewClient(generative, llm.Config{
		Attempts:       cfg.LLM.Attempts,
		Timeout:        cfg.LLM.Timeout,
		InitialBackoff: time.Second,
	}, m, logger.WithField("component", "llm"))

	tc := cfg.Transcript
	if cfg.Captions.BaseURL != "" {
		p.youtubeSteps = append(p.youtubeSteps, transcript.Step{
			Strategy: transcript.CaptionLookup{Captions: transcriptapi.NewClient(cfg.Captions.BaseURL, cfg.Captions.APIKey)},
			Timeout:  tc.CaptionTimeout,
		})
	}
	if s.gemini != nil {
		p.youtubeSteps = append(p.youtubeSteps, transcript.Step{
			Strategy: transcript.GenerativeURL{Model: s.gemini},
			Timeout:  tc.GenerativeTimeout,
		})
	}

	if cfg.Storage.Bucket != "" {
		objects, err := s3store.New(ctx, s3store.Config{
			Bucket:        cfg.Storage.Bucket,
			Region:        cfg.Storage.Region,
			Endpoint:      cfg.Storage.Endpoint,
			UsePathStyle:  cfg.Storage.UsePathStyle,
			PresignExpiry: cfg.Storage.PresignExpiry,
		})
		if err != nil {
			return nil, err
		}
		p.objects = objects

		batch, err := awstranscribe.New(ctx, cfg.Storage.Region, tc.LanguageCode)
		if err != nil {
			return nil, err
		}
		p.uploadSteps = append(p.uploadSteps, transcript.Step{
			Strategy: transcript.BatchSpeechToText{
				Batch:   batch,
				Objects: objects,
				Poll:    retry.PollConfig{Interval: tc.BatchPollInterval, Timeout: tc.BatchTimeout},
			},
			// the poll budget governs; the step timeout only catches a hung call
			Timeout: tc.BatchTimeout + tc.CaptionTimeout,
		})
		if s.gemini != nil {
			p.uploadSteps = append(p.uploadSteps, transcript.Step{
				Strategy: transcript.GenerativeUpload{Model: s.gemini, Objects: objects},
				Timeout:  tc.GenerativeTimeout,
			})
		}
	} else {
		logger.Warn("storage.bucket is empty, uploads are disabled")
	}

	if cfg.YouTube.APIKey != "" {
		meta, err := youtubemeta.New(ctx, cfg.YouTube.APIKey)
		if err != nil {
			return nil, err
		}
		p.metadata = meta
	}

	logger.Info("providers ready", logging.Fields{
		"generative":         p.llm.Providers(),
		"youtube_strategies": stepNames(p.youtubeSteps),
		"upload_strategies":  stepNames(p.uploadSteps),
		"page_metadata":      p.metadata != nil,
	})
	return p, nil
}

func stepNames(steps []transcript.Step) []string {
	names := make([]string, len(steps))
	for i, st := range steps {
		names[i] = st.Strategy.Name()
	}
	return names
}

// cleanupLimiter drops idle per-owner buckets until ctx is done
func (s *server) cleanupLimiter(ctx context.Context) {
	if s.limiter == nil {
		return
	}
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.CleanupOldLimiters(time.Hour); n > 0 {
				s.logger.Debug("dropped idle rate limiters", logging.Fields{"count": n})
			}
		}
	}
}

// close releases provider clients, flushes tracing and closes the store
func (s *server) close(ctx context.Context) error {
	var errs []error
	if s.gemini != nil {
		errs = append(errs, s.gemini.Close())
	}
	if s.tracer != nil {
		errs = append(errs, s.tracer.Shutdown(ctx))
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

func writeSnapshot(path string, g prometheus.Gatherer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metrics snapshot: %w", err)
	}
	defer f.Close()
	return metrics.WriteText(f, g)
}
