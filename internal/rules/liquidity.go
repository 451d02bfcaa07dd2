package rules

import (
	"fmt"

	"token-forensics/internal/domain"
)

// LiquidityCollapse fires critical when liquidity stays below Fraction of
// the highest earlier liquidity for at least MinBuckets consecutive
// observed buckets. Buckets without a liquidity observation neither extend
// nor break a run.
type LiquidityCollapse struct {
	Fraction   float64
	MinBuckets int
}

// Name implements Detector.
func (LiquidityCollapse) Name() string { return string(domain.FlagLiquidityCollapse) }

// Detect implements Detector.
func (d LiquidityCollapse) Detect(h *domain.AssetHistory) []domain.RedFlag {
	var (
		flags    []domain.RedFlag
		run      []int
		priorMax float64
		runMax   float64
		low      float64
		seen     bool
	)
	flush := func() {
		if len(run) >= d.MinBuckets {
			tr, refs := span(h, run)
			flags = append(flags, domain.RedFlag{
				Category:  domain.FlagLiquidityCollapse,
				Severity:  domain.SeverityCritical,
				TimeRange: tr,
				Evidence:  refs,
				Rationale: fmt.Sprintf("liquidity stayed below %.0f%% of the prior peak $%.2f for %d buckets (low $%.2f)",
					d.Fraction*100, runMax, len(run), low),
			})
		}
		run = nil
	}

	for i := range h.Buckets {
		obs := h.Buckets[i].Liquidity
		if obs == nil {
			continue
		}
		v := obs.Value
		if seen && v < d.Fraction*priorMax {
			if len(run) == 0 {
				runMax, low = priorMax, v
			}
			if v < low {
				low = v
			}
			run = append(run, i)
		} else {
			flush()
		}
		if !seen || v > priorMax {
			priorMax = v
			seen = true
		}
	}
	flush()
	return flags
}
