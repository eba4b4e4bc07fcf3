// Package curation implements the artwork curation stages (clean, dedup,
// transform, split) and the pipeline that runs them against a MetadataStore
// and a BlobStore.
package curation

import (
	"fmt"
	"strings"
	"time"

	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/metrics"
)

// Stage names a curation stage.
type Stage string

const (
	StageClean     Stage = "clean"
	StageDedup     Stage = "dedup"
	StageTransform Stage = "transform"
	StageSplit     Stage = "split"
)

// DefaultStages is the full pipeline in execution order.
var DefaultStages = []Stage{StageClean, StageDedup, StageTransform, StageSplit}

// ParseStages validates stage names. An empty list selects DefaultStages.
// Stages always run in pipeline order regardless of the order given.
func ParseStages(names []string) ([]Stage, error) {
	if len(names) == 0 {
		return DefaultStages, nil
	}
	want := make(map[Stage]bool, len(names))
	for _, n := range names {
		s := Stage(strings.ToLower(strings.TrimSpace(n)))
		if !s.valid() {
			return nil, fmt.Errorf("unknown stage %q", n)
		}
		want[s] = true
	}
	var out []Stage
	for _, s := range DefaultStages {
		if want[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (s Stage) valid() bool {
	for _, d := range DefaultStages {
		if s == d {
			return true
		}
	}
	return false
}

// Outcome is the result kind of one record within a stage.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailure Outcome = "failure"
)

// Result is the per-record outcome of a stage.
type Result struct {
	RecordID string  `json:"record_id"`
	Outcome  Outcome `json:"outcome"`
	Reason   string  `json:"reason,omitempty"`
}

// BatchReport collects the per-record results of one stage pass.
type BatchReport struct {
	Stage    Stage         `json:"stage"`
	Results  []Result      `json:"results,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (b *BatchReport) success(id string) {
	b.Results = append(b.Results, Result{RecordID: id, Outcome: OutcomeSuccess})
}

func (b *BatchReport) skip(id, reason string) {
	b.Results = append(b.Results, Result{RecordID: id, Outcome: OutcomeSkipped, Reason: reason})
}

func (b *BatchReport) fail(id string, err error) {
	b.Results = append(b.Results, Result{RecordID: id, Outcome: OutcomeFailure, Reason: err.Error()})
}

// Count returns the number of results with outcome o.
func (b *BatchReport) Count(o Outcome) int {
	n := 0
	for _, r := range b.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Failures returns the failed results.
func (b *BatchReport) Failures() []Result {
	var out []Result
	for _, r := range b.Results {
		if r.Outcome == OutcomeFailure {
			out = append(out, r)
		}
	}
	return out
}

// observe publishes the batch to the stage metrics.
func (b *BatchReport) observe() {
	for _, o := range []Outcome{OutcomeSuccess, OutcomeSkipped, OutcomeFailure} {
		if n := b.Count(o); n > 0 {
			metrics.StageRecordsTotal.WithLabelValues(string(b.Stage), string(o)).Add(float64(n))
		}
	}
	metrics.StageDuration.WithLabelValues(string(b.Stage)).Observe(b.Duration.Seconds())
}

// recordErr wraps a per-record failure.
func recordErr(stage Stage, id, op string, err error) error {
	return &curerr.RecordError{Stage: string(stage), RecordID: id, Op: op, Err: err}
}

// storeErr marks a metadata store failure as fatal for the run.
func storeErr(stage Stage, op string, err error) error {
	return curerr.Fatal(fmt.Errorf("%s: %s: %w", stage, op, err))
}
