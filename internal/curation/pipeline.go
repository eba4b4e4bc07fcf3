package curation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/artcurate/artcurate/internal/config"
	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/metadata"
	"github.com/artcurate/artcurate/internal/metrics"
	"github.com/artcurate/artcurate/internal/storage"
)

// RunReport is the outcome of one pipeline run. Stage reports are nil for
// stages that did not run.
type RunReport struct {
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
	Stages    []Stage          `json:"stages"`
	Clean     *CleanReport     `json:"clean,omitempty"`
	Dedup     *DedupReport     `json:"dedup,omitempty"`
	Transform *TransformReport `json:"transform,omitempty"`
	Split     *SplitReport     `json:"split,omitempty"`
	Summary   *Summary         `json:"summary,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Pipeline runs the curation stages in order against one metadata store and
// one blob store. A Pipeline must not run concurrently with itself against
// the same stores.
type Pipeline struct {
	meta   metadata.MetadataStore
	blobs  storage.BlobStore
	cfg    config.PipelineConfig
	logger *slog.Logger
}

// New creates a Pipeline. Zero values in cfg fall back to the stage defaults,
// except Seed and the split fractions which are used as given.
func New(meta metadata.MetadataStore, blobs storage.BlobStore, cfg config.PipelineConfig, logger *slog.Logger) *Pipeline {
	if cfg.Sentinel == "" {
		cfg.Sentinel = DefaultSentinel
	}
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = DefaultImageSize
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	return &Pipeline{meta: meta, blobs: blobs, cfg: cfg, logger: loggerOr(logger)}
}

// Run executes the configured stages. Each stage reads the full record set
// fresh. The run stops at the first fatal error and returns the partial
// report alongside it.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{StartedAt: time.Now().UTC()}
	err := p.run(ctx, report)
	report.Duration = time.Since(report.StartedAt)

	if err != nil {
		report.Error = err.Error()
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		p.logger.Error("Pipeline run failed", "error", err, "duration", report.Duration)
		return report, err
	}
	metrics.RunsTotal.WithLabelValues("success").Inc()
	p.logger.Info("Pipeline run complete", "duration", report.Duration)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, report *RunReport) error {
	stages, err := ParseStages(p.cfg.Stages)
	if err != nil {
		return err
	}
	report.Stages = stages

	if err := p.meta.Ping(ctx); err != nil {
		return curerr.Fatal(fmt.Errorf("metadata store unreachable: %w", err))
	}
	if err := p.blobs.HealthCheck(ctx); err != nil {
		return curerr.Fatal(fmt.Errorf("blob store unreachable: %w", err))
	}

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return curerr.Fatal(err)
		}
		p.logger.Info("Running stage", "stage", stage)

		var batch *BatchReport
		switch stage {
		case StageClean:
			c := &Cleaner{Meta: p.meta, Sentinel: p.cfg.Sentinel, Logger: p.logger}
			report.Clean, err = c.Run(ctx)
			batch = &report.Clean.BatchReport
		case StageDedup:
			d := &Deduplicator{Meta: p.meta, Blobs: p.blobs, Logger: p.logger}
			report.Dedup, err = d.Run(ctx)
			batch = &report.Dedup.BatchReport
		case StageTransform:
			t := &Transformer{Meta: p.meta, Blobs: p.blobs, Size: p.cfg.ImageSize, Quality: p.cfg.JPEGQuality, Logger: p.logger}
			report.Transform, err = t.Run(ctx)
			batch = &report.Transform.BatchReport
		case StageSplit:
			s := &SplitAssigner{
				Meta:               p.meta,
				Seed:               p.cfg.Seed,
				TestFraction:       p.cfg.TestFraction,
				ValidationFraction: p.cfg.ValidationFraction,
				Logger:             p.logger,
			}
			report.Split, err = s.Run(ctx)
			batch = &report.Split.BatchReport
		}
		batch.observe()
		if err != nil {
			return err
		}
	}

	summary, err := Summarize(ctx, p.meta)
	if err != nil {
		return curerr.Fatal(err)
	}
	report.Summary = summary
	return nil
}

// Reconcile runs the orphan sweep with the pipeline's stores.
func (p *Pipeline) Reconcile(ctx context.Context, dryRun bool) (*ReconcileReport, error) {
	r := &Reconciler{Meta: p.meta, Blobs: p.blobs, Logger: p.logger}
	return r.Run(ctx, dryRun)
}

// Summary reports per-split record counts.
func (p *Pipeline) Summary(ctx context.Context) (*Summary, error) {
	return Summarize(ctx, p.meta)
}
