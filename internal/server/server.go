// Package server implements the artcurate HTTP control surface: pipeline
// runs, dataset summaries and record lookups over the configured stores.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/artcurate/artcurate/internal/auth"
	"github.com/artcurate/artcurate/internal/config"
	"github.com/artcurate/artcurate/internal/curation"
	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/metadata"
	"github.com/artcurate/artcurate/internal/storage"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the artcurate HTTP server. Pipeline runs are serialized: a
// POST /runs while another run is in progress is rejected with 409.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	meta       metadata.MetadataStore
	blobs      storage.BlobStore
	logger     *slog.Logger
	httpServer *http.Server

	runMu sync.Mutex
	// runsCtx outlives individual requests; Shutdown cancels it.
	runsCtx    context.Context
	cancelRuns context.CancelFunc

	latestMu sync.RWMutex
	latest   *curation.RunReport
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string            `json:"status" example:"ok" doc:"Health status"`
	Checks map[string]string `json:"checks" doc:"Per-store status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// RunInput selects the stages and seed of a pipeline run.
type RunInput struct {
	Stages string `query:"stages" doc:"Comma-separated stage subset (clean,dedup,transform,split)"`
	Seed   int64  `query:"seed" doc:"Split seed override; omitted keeps the configured seed"`

	seedSet bool
}

// Resolve records whether seed was present in the query, so seed=0 can be
// told apart from an omitted seed.
func (in *RunInput) Resolve(ctx huma.Context) []error {
	in.seedSet = ctx.Query("seed") != ""
	return nil
}

// RunOutput carries the run report. Status is 500 when the run aborted.
type RunOutput struct {
	Status int
	Body   *curation.RunReport
}

// ReconcileInput controls the orphan sweep.
type ReconcileInput struct {
	DryRun bool `query:"dry_run" doc:"Report orphans without deleting them"`
}

// ReconcileOutput carries the reconcile report.
type ReconcileOutput struct {
	Body *curation.ReconcileReport
}

// SummaryOutput carries per-split record counts.
type SummaryOutput struct {
	Body *curation.Summary
}

// RecordsInput filters the record listing.
type RecordsInput struct {
	Split string `query:"split" doc:"Only records with this split label"`
}

// RecordsBody is the record listing.
type RecordsBody struct {
	Count   int                      `json:"count"`
	Records []metadata.ArtworkRecord `json:"records"`
}

// RecordsOutput carries the record listing.
type RecordsOutput struct {
	Body RecordsBody
}

// RecordInput addresses one record.
type RecordInput struct {
	ID string `path:"id" doc:"Record ID"`
}

// RecordOutput carries one record.
type RecordOutput struct {
	Body metadata.ArtworkRecord
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithMetadataStore sets the metadata store for the server.
func WithMetadataStore(meta metadata.MetadataStore) ServerOption {
	return func(s *Server) {
		s.meta = meta
	}
}

// WithBlobStore sets the blob store for the server.
func WithBlobStore(blobs storage.BlobStore) ServerOption {
	return func(s *Server) {
		s.blobs = blobs
	}
}

// WithLogger sets the logger used for access logs and pipeline runs.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new Server with the given configuration and registers all
// routes on the Chi router with Huma API. Both stores are required.
func New(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("artcurate API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	runsCtx, cancelRuns := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		router:     router,
		api:        api,
		logger:     slog.Default(),
		runsCtx:    runsCtx,
		cancelRuns: cancelRuns,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.meta == nil {
		return nil, errors.New("server: metadata store is required")
	}
	if s.blobs == nil {
		return nil, errors.New("server: blob store is required")
	}

	s.registerRoutes()
	return s, nil
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> requestLogger -> commonHeaders -> auth -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = auth.Middleware(s.cfg.Server.AuthToken)(handler)
	handler = commonHeaders(handler)
	handler = requestLogger(s.logger)(handler)
	if s.cfg.Metrics.Enabled {
		handler = metricsMiddleware(handler)
	}
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown cancels any pipeline run in progress and gracefully shuts down
// the HTTP server, waiting for in-flight requests to complete within the
// given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelRuns()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
		Description: "Pings the metadata store and the blob store.",
		Tags:        []string{"System"},
	}, s.health)

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-run",
		Method:        http.MethodPost,
		Path:          "/runs",
		Summary:       "Run the curation pipeline",
		Description:   "Runs the selected stages synchronously and returns the run report.",
		Tags:          []string{"Pipeline"},
		DefaultStatus: http.StatusOK,
	}, s.createRun)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-latest-run",
		Method:      http.MethodGet,
		Path:        "/runs/latest",
		Summary:     "Latest run report",
		Tags:        []string{"Pipeline"},
	}, s.latestRun)

	huma.Register(s.api, huma.Operation{
		OperationID: "reconcile",
		Method:      http.MethodPost,
		Path:        "/reconcile",
		Summary:     "Delete unreferenced blobs",
		Tags:        []string{"Pipeline"},
	}, s.reconcile)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-splits",
		Method:      http.MethodGet,
		Path:        "/splits",
		Summary:     "Per-split record counts",
		Tags:        []string{"Dataset"},
	}, s.splits)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-records",
		Method:      http.MethodGet,
		Path:        "/records",
		Summary:     "List records in scan order",
		Tags:        []string{"Dataset"},
	}, s.listRecords)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-record",
		Method:      http.MethodGet,
		Path:        "/records/{id}",
		Summary:     "Get one record",
		Tags:        []string{"Dataset"},
	}, s.getRecord)

	if s.cfg.Metrics.Enabled {
		s.router.Handle("/metrics", promhttp.Handler())
	}
}

func (s *Server) health(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	checks := map[string]string{"metadata": "ok", "storage": "ok"}
	healthy := true
	if err := s.meta.Ping(ctx); err != nil {
		checks["metadata"] = err.Error()
		healthy = false
	}
	if err := s.blobs.HealthCheck(ctx); err != nil {
		checks["storage"] = err.Error()
		healthy = false
	}
	if !healthy {
		return nil, huma.Error503ServiceUnavailable("store unreachable: " + formatChecks(checks))
	}
	return &HealthOutput{Body: HealthBody{Status: "ok", Checks: checks}}, nil
}

func formatChecks(checks map[string]string) string {
	var parts []string
	for _, name := range []string{"metadata", "storage"} {
		if st := checks[name]; st != "ok" {
			parts = append(parts, name+": "+st)
		}
	}
	return strings.Join(parts, "; ")
}

func (s *Server) createRun(ctx context.Context, in *RunInput) (*RunOutput, error) {
	cfg := s.cfg.Pipeline
	if in.Stages != "" {
		cfg.Stages = strings.Split(in.Stages, ",")
	}
	if in.seedSet {
		cfg.Seed = in.Seed
	}
	if _, err := curation.ParseStages(cfg.Stages); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	if !s.runMu.TryLock() {
		return nil, huma.Error409Conflict("a pipeline run is already in progress")
	}
	defer s.runMu.Unlock()

	runCtx, cancel := s.detach(ctx)
	defer cancel()

	p := curation.New(s.meta, s.blobs, cfg, s.logger)
	report, err := p.Run(runCtx)

	s.latestMu.Lock()
	s.latest = report
	s.latestMu.Unlock()

	if err != nil {
		if !curerr.IsFatal(err) {
			return nil, huma.Error500InternalServerError("pipeline run failed", err)
		}
		return &RunOutput{Status: http.StatusInternalServerError, Body: report}, nil
	}
	return &RunOutput{Status: http.StatusOK, Body: report}, nil
}

// detach returns a context that keeps the request's values but is canceled
// only by Shutdown, so a client disconnect does not abort a run midway.
func (s *Server) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.runsCtx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *Server) latestRun(ctx context.Context, _ *struct{}) (*RunOutput, error) {
	s.latestMu.RLock()
	report := s.latest
	s.latestMu.RUnlock()
	if report == nil {
		return nil, huma.Error404NotFound("no pipeline run yet")
	}
	return &RunOutput{Status: http.StatusOK, Body: report}, nil
}

func (s *Server) reconcile(ctx context.Context, in *ReconcileInput) (*ReconcileOutput, error) {
	if !s.runMu.TryLock() {
		return nil, huma.Error409Conflict("a pipeline run is already in progress")
	}
	defer s.runMu.Unlock()

	runCtx, cancel := s.detach(ctx)
	defer cancel()

	r := &curation.Reconciler{Meta: s.meta, Blobs: s.blobs, Logger: s.logger}
	report, err := r.Run(runCtx, in.DryRun)
	if err != nil {
		return nil, huma.Error500InternalServerError("reconcile failed", err)
	}
	return &ReconcileOutput{Body: report}, nil
}

func (s *Server) splits(ctx context.Context, _ *struct{}) (*SummaryOutput, error) {
	summary, err := curation.Summarize(ctx, s.meta)
	if err != nil {
		return nil, huma.Error500InternalServerError("summarizing splits", err)
	}
	return &SummaryOutput{Body: summary}, nil
}

func (s *Server) listRecords(ctx context.Context, in *RecordsInput) (*RecordsOutput, error) {
	var want metadata.Split
	if in.Split != "" {
		want = metadata.Split(in.Split)
		if !want.Valid() {
			return nil, huma.Error422UnprocessableEntity("unknown split " + in.Split)
		}
	}

	records, err := s.meta.ScanAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("scanning records", err)
	}
	out := RecordsOutput{Body: RecordsBody{Records: make([]metadata.ArtworkRecord, 0, len(records))}}
	for _, r := range records {
		if want != "" && metadata.NormalizeSplit(string(r.Split)) != want {
			continue
		}
		out.Body.Records = append(out.Body.Records, r)
	}
	out.Body.Count = len(out.Body.Records)
	return &out, nil
}

func (s *Server) getRecord(ctx context.Context, in *RecordInput) (*RecordOutput, error) {
	records, err := s.meta.ScanAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("scanning records", err)
	}
	for _, r := range records {
		if r.RecordID == in.ID {
			return &RecordOutput{Body: r}, nil
		}
	}
	return nil, huma.Error404NotFound("record " + in.ID + " not found")
}
