package config

import (
	"time"

	"token-forensics/internal/domain"
)

// Rules holds the per-detector thresholds.
type Rules struct {
	LiquidityCollapse     LiquidityCollapseRule     `yaml:"liquidity_collapse"`
	HolderConcentration   HolderConcentrationRule   `yaml:"holder_concentration"`
	CommunicationBlackout CommunicationBlackoutRule `yaml:"communication_blackout"`
	VolumeCollapse        VolumeCollapseRule        `yaml:"volume_collapse"`
}

// LiquidityCollapseRule fires when liquidity stays below Fraction of the
// prior maximum for MinBuckets consecutive observed buckets.
type LiquidityCollapseRule struct {
	Fraction   float64 `yaml:"fraction"`
	MinBuckets int     `yaml:"min_buckets"`
}

// HolderConcentrationRule fires when the top TopK holders exceed Threshold.
type HolderConcentrationRule struct {
	TopK                int     `yaml:"top_k"`
	Threshold           float64 `yaml:"threshold"`
	ExcludeProgramOwned bool    `yaml:"exclude_program_owned"`
}

// CommunicationBlackoutRule fires on silences longer than MaxGap.
type CommunicationBlackoutRule struct {
	MaxGap        time.Duration     `yaml:"max_gap"`
	MinConfidence domain.Confidence `yaml:"min_confidence"`
}

// VolumeCollapseRule fires when the trailing average over Window buckets
// drops below Floor after some earlier bucket exceeded Peak.
type VolumeCollapseRule struct {
	Window int     `yaml:"window"`
	Floor  float64 `yaml:"floor"`
	Peak   float64 `yaml:"peak"`
}

// DefaultRules returns the documented detector defaults.
func DefaultRules() Rules {
	return Rules{
		LiquidityCollapse: LiquidityCollapseRule{
			Fraction:   0.10,
			MinBuckets: 3,
		},
		HolderConcentration: HolderConcentrationRule{
			TopK:      10,
			Threshold: 0.50,
		},
		CommunicationBlackout: CommunicationBlackoutRule{
			MaxGap:        90 * 24 * time.Hour,
			MinConfidence: domain.ConfidenceAsserted,
		},
		VolumeCollapse: VolumeCollapseRule{
			Window: 30,
			Floor:  1000,
			Peak:   10000,
		},
	}
}

// Validate returns one ConfigurationError per invalid threshold.
func (r Rules) Validate() []error {
	var errs []error
	lc := r.LiquidityCollapse
	if lc.Fraction <= 0 || lc.Fraction > 1 {
		errs = append(errs, invalid("rules.liquidity_collapse.fraction", "must be within (0, 1], got %v", lc.Fraction))
	}
	if lc.MinBuckets < 1 {
		errs = append(errs, invalid("rules.liquidity_collapse.min_buckets", "must be at least 1"))
	}

	hc := r.HolderConcentration
	if hc.TopK < 1 {
		errs = append(errs, invalid("rules.holder_concentration.top_k", "must be at least 1"))
	}
	if hc.Threshold <= 0 || hc.Threshold > 1 {
		errs = append(errs, invalid("rules.holder_concentration.threshold", "must be within (0, 1], got %v", hc.Threshold))
	}

	cb := r.CommunicationBlackout
	if cb.MaxGap <= 0 {
		errs = append(errs, invalid("rules.communication_blackout.max_gap", "must be positive"))
	}
	if cb.MinConfidence.Rank() == 0 {
		errs = append(errs, invalid("rules.communication_blackout.min_confidence", "unknown confidence %q", cb.MinConfidence))
	}

	vc := r.VolumeCollapse
	if vc.Window < 1 {
		errs = append(errs, invalid("rules.volume_collapse.window", "must be at least 1"))
	}
	if vc.Floor < 0 {
		errs = append(errs, invalid("rules.volume_collapse.floor", "must not be negative"))
	}
	if vc.Peak <= vc.Floor {
		errs = append(errs, invalid("rules.volume_collapse.peak", "must exceed floor"))
	}
	return errs
}
