package rules

import (
	"fmt"
	"sort"

	"token-forensics/internal/domain"
)

// HolderConcentration fires warning when the top TopK holders of the most
// recent holder snapshot together hold strictly more than Threshold of
// supply.
type HolderConcentration struct {
	TopK                int
	Threshold           float64
	ExcludeProgramOwned bool
}

// Name implements Detector.
func (HolderConcentration) Name() string { return string(domain.FlagHolderConcentration) }

// Detect implements Detector.
func (d HolderConcentration) Detect(h *domain.AssetHistory) []domain.RedFlag {
	idx := -1
	for i := len(h.Buckets) - 1; i >= 0; i-- {
		if len(h.Buckets[i].Holders) > 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	holders := make([]domain.HolderSnapshot, 0, len(h.Buckets[idx].Holders))
	for _, hs := range h.Buckets[idx].Holders {
		if d.ExcludeProgramOwned && hs.ProgramOwned {
			continue
		}
		holders = append(holders, hs)
	}
	sort.SliceStable(holders, func(i, j int) bool {
		return holders[i].ShareOfSupply > holders[j].ShareOfSupply
	})
	if len(holders) > d.TopK {
		holders = holders[:d.TopK]
	}

	total := 0.0
	for _, hs := range holders {
		total += hs.ShareOfSupply
	}
	if total <= d.Threshold {
		return nil
	}

	tr, refs := span(h, []int{idx})
	scope := "holders"
	if d.ExcludeProgramOwned {
		scope = "non-program holders"
	}
	return []domain.RedFlag{{
		Category:  domain.FlagHolderConcentration,
		Severity:  domain.SeverityWarning,
		TimeRange: tr,
		Evidence:  refs,
		Rationale: fmt.Sprintf("top %d %s hold %.1f%% of supply (threshold %.1f%%)",
			len(holders), scope, total*100, d.Threshold*100),
	}}
}
