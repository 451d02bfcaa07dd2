// Package rules evaluates a fixed set of red-flag detectors over a merged
// AssetHistory.
package rules

import (
	"errors"
	"fmt"
	"sort"

	"token-forensics/internal/config"
	"token-forensics/internal/domain"
	"token-forensics/internal/idhash"
	"token-forensics/internal/observability"
)

// Detector scans a history and emits zero or more flags. Detectors hold
// only their thresholds and never fail; unmet preconditions mean no flag.
type Detector interface {
	Name() string
	Detect(h *domain.AssetHistory) []domain.RedFlag
}

// Ruleset is the list of detectors evaluated together.
type Ruleset []Detector

// NewRuleset builds the four detectors from validated thresholds.
func NewRuleset(cfg config.Rules) (Ruleset, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return Ruleset{
		LiquidityCollapse{Fraction: cfg.LiquidityCollapse.Fraction, MinBuckets: cfg.LiquidityCollapse.MinBuckets},
		HolderConcentration{
			TopK:                cfg.HolderConcentration.TopK,
			Threshold:           cfg.HolderConcentration.Threshold,
			ExcludeProgramOwned: cfg.HolderConcentration.ExcludeProgramOwned,
		},
		CommunicationBlackout{
			MaxGapMs:      cfg.CommunicationBlackout.MaxGap.Milliseconds(),
			MinConfidence: cfg.CommunicationBlackout.MinConfidence,
		},
		VolumeCollapse{Window: cfg.VolumeCollapse.Window, Floor: cfg.VolumeCollapse.Floor, Peak: cfg.VolumeCollapse.Peak},
	}, nil
}

// DefaultRuleset returns the detectors with default thresholds.
func DefaultRuleset() Ruleset {
	rs, _ := NewRuleset(config.DefaultRules())
	return rs
}

// ID fingerprints the detectors and their thresholds. Two rulesets with the
// same ID produce the same flags for the same history.
func (rs Ruleset) ID() string {
	parts := make([]string, len(rs))
	for i, d := range rs {
		parts[i] = fmt.Sprintf("%T%+v", d, d)
	}
	return idhash.ComputeRulesetID(parts)
}

// Evaluate runs every detector independently and returns their flags
// ordered by (severity desc, start asc, category asc, end asc). Each flag
// gets a content ID derived from the history ID and the ruleset ID.
func Evaluate(h *domain.AssetHistory, rs Ruleset) []domain.RedFlag {
	if h == nil || len(h.Buckets) == 0 {
		return nil
	}
	rulesetID := rs.ID()
	var flags []domain.RedFlag
	for _, d := range rs {
		for _, f := range d.Detect(h) {
			f.ID = idhash.ComputeFlagID(h.ID, rulesetID, f.Category, f.Severity, f.TimeRange.StartMs, f.TimeRange.EndMs)
			flags = append(flags, f)
		}
	}
	SortFlags(flags)
	for _, f := range flags {
		observability.RecordFlag(string(f.Category), string(f.Severity))
	}
	return flags
}

// SortFlags orders flags by (severity desc, start asc, category asc, end asc).
func SortFlags(flags []domain.RedFlag) {
	sort.SliceStable(flags, func(i, j int) bool {
		a, b := flags[i], flags[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.TimeRange.StartMs != b.TimeRange.StartMs {
			return a.TimeRange.StartMs < b.TimeRange.StartMs
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.TimeRange.EndMs < b.TimeRange.EndMs
	})
}

// span builds a flag covering buckets idx (ascending, non-empty).
func span(h *domain.AssetHistory, idx []int) (domain.FlagRange, []domain.BucketRef) {
	refs := make([]domain.BucketRef, len(idx))
	for i, k := range idx {
		refs[i] = h.Ref(k)
	}
	return domain.FlagRange{
		StartMs: h.Buckets[idx[0]].StartMs,
		EndMs:   h.Buckets[idx[len(idx)-1]].StartMs + h.ResolutionMs,
	}, refs
}
