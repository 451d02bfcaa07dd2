// Package pipeline runs one forensic analysis end to end:
// collect → normalize → merge → evaluate → persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"token-forensics/internal/collector"
	"token-forensics/internal/domain"
	"token-forensics/internal/merge"
	"token-forensics/internal/observability"
	"token-forensics/internal/rules"
	"token-forensics/internal/source"
	"token-forensics/internal/storage"
)

// Stores are the optional persistence targets of a run. Nil stores are skipped.
type Stores struct {
	Runs       storage.RunStore
	Histories  storage.HistoryStore
	Flags      storage.FlagStore
	Timeseries storage.BucketTimeseriesStore
}

// Options for creating a Pipeline.
type Options struct {
	Collector *collector.Collector
	Merger    merge.Merger
	Ruleset   rules.Ruleset
	Stores    Stores
	Logger    zerolog.Logger
	Clock     func() time.Time
	NewRunID  func() string
}

// Pipeline coordinates one analysis per Run call. It holds no per-run state.
type Pipeline struct {
	collector *collector.Collector
	merger    merge.Merger
	ruleset   rules.Ruleset
	stores    Stores
	log       zerolog.Logger
	clock     func() time.Time
	newRunID  func() string
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		collector: opts.Collector,
		merger:    opts.Merger,
		ruleset:   opts.Ruleset,
		stores:    opts.Stores,
		log:       opts.Logger.With().Str("component", "pipeline").Logger(),
		clock:     opts.Clock,
		newRunID:  opts.NewRunID,
	}
	if p.collector == nil {
		p.collector = collector.New(nil)
	}
	if p.ruleset == nil {
		p.ruleset = rules.DefaultRuleset()
	}
	if p.clock == nil {
		p.clock = func() time.Time { return time.Now().UTC() }
	}
	if p.newRunID == nil {
		p.newRunID = uuid.NewString
	}
	return p
}

// Result is the outcome of one run.
type Result struct {
	RunID     string
	RulesetID string
	History   *domain.AssetHistory
	Flags     []domain.RedFlag
	Results   []source.Result
}

// Run analyzes asset over r. Source failures never fail the run; they show
// up in the history's coverage. A storage error is returned together with
// the complete Result.
func (p *Pipeline) Run(ctx context.Context, asset domain.Asset, r domain.TimeRange) (*Result, error) {
	started := p.clock()
	log := p.log.With().Str("asset", asset.Key()).Logger()

	if !r.Valid() {
		return nil, fmt.Errorf("invalid range %d..%d", r.StartMs, r.EndMs)
	}

	phase := time.Now()
	results := p.collector.Collect(ctx, asset, r)
	observability.RecordPipelineRun("collect", "success", time.Since(phase).Seconds())

	phase = time.Now()
	history := p.merger.Merge(asset, merge.FromResults(results, p.merger.ResolutionMs))
	observability.RecordPipelineRun("merge", "success", time.Since(phase).Seconds())

	phase = time.Now()
	flags := rules.Evaluate(history, p.ruleset)
	observability.RecordPipelineRun("evaluate", "success", time.Since(phase).Seconds())

	res := &Result{
		RunID:     p.newRunID(),
		RulesetID: p.ruleset.ID(),
		History:   history,
		Flags:     flags,
		Results:   results,
	}
	log.Info().
		Str("run_id", res.RunID).
		Str("history_id", history.ID).
		Str("ruleset_id", res.RulesetID).
		Int("buckets", len(history.Buckets)).
		Int("observed", history.ObservedCount()).
		Int("gaps", len(history.Gaps)).
		Int("flags", len(flags)).
		Msg("analysis complete")

	phase = time.Now()
	err := p.persist(ctx, res, started)
	status := "success"
	if err != nil {
		status = "error"
		log.Error().Err(err).Str("run_id", res.RunID).Msg("persist failed")
	}
	observability.RecordPipelineRun("persist", status, time.Since(phase).Seconds())
	observability.RecordPipelineRun("run", status, p.clock().Sub(started).Seconds())

	if err != nil {
		return res, fmt.Errorf("persist run %s: %w", res.RunID, err)
	}
	return res, nil
}

// persist writes the history, its flags and timeseries, then the run record.
// A history that was already stored keeps its original points. Flags are
// stored once per (history, ruleset), so a changed ruleset over a known
// history still persists its own flag set.
func (p *Pipeline) persist(ctx context.Context, res *Result, started time.Time) error {
	h := res.History
	stored := true

	if p.stores.Histories != nil {
		err := p.stores.Histories.Insert(ctx, h)
		switch {
		case errors.Is(err, storage.ErrDuplicateKey):
			stored = false
			p.log.Info().Str("history_id", h.ID).Msg("history already stored, skipping timeseries")
		case err != nil:
			return fmt.Errorf("insert history: %w", err)
		}
	}

	if p.stores.Flags != nil && len(res.Flags) > 0 {
		err := p.stores.Flags.InsertBulk(ctx, h.ID, res.RulesetID, res.Flags)
		switch {
		case errors.Is(err, storage.ErrDuplicateKey):
			p.log.Info().
				Str("history_id", h.ID).
				Str("ruleset_id", res.RulesetID).
				Msg("flags already stored for ruleset")
		case err != nil:
			return fmt.Errorf("insert flags: %w", err)
		}
	}

	if stored && p.stores.Timeseries != nil {
		if err := p.stores.Timeseries.InsertBulk(ctx, domain.BucketPoints(h)); err != nil {
			return fmt.Errorf("insert bucket timeseries: %w", err)
		}
	}

	if p.stores.Runs != nil {
		run := &domain.RunRecord{
			RunID:      res.RunID,
			AssetKey:   h.Asset.Key(),
			HistoryID:  h.ID,
			RulesetID:  res.RulesetID,
			StartedAt:  started.UnixMilli(),
			FinishedAt: p.clock().UnixMilli(),
			FlagCount:  len(res.Flags),
			Coverage:   h.Coverage,
		}
		if err := p.stores.Runs.Insert(ctx, run); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
	}
	return nil
}
