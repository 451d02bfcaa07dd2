package rules

import (
	"fmt"

	"token-forensics/internal/domain"
)

// VolumeCollapse fires info while the trailing average volume over Window
// buckets is below Floor after some bucket before the window exceeded Peak.
// Contiguous collapsed buckets form one flag.
type VolumeCollapse struct {
	Window int
	Floor  float64
	Peak   float64
}

// Name implements Detector.
func (VolumeCollapse) Name() string { return string(domain.FlagVolumeCollapse) }

// Detect implements Detector.
func (d VolumeCollapse) Detect(h *domain.AssetHistory) []domain.RedFlag {
	n := len(h.Buckets)
	// peakBefore[k]: some bucket in [0, k) had volume above Peak
	peakBefore := make([]bool, n+1)
	for i := 0; i < n; i++ {
		v := h.Buckets[i].Volume
		peakBefore[i+1] = peakBefore[i] || (v != nil && v.Value > d.Peak)
	}

	var (
		flags []domain.RedFlag
		run   []int
		peak  float64
	)
	flush := func() {
		if len(run) > 0 {
			tr, refs := span(h, run)
			flags = append(flags, domain.RedFlag{
				Category:  domain.FlagVolumeCollapse,
				Severity:  domain.SeverityInfo,
				TimeRange: tr,
				Evidence:  refs,
				Rationale: fmt.Sprintf("trailing %d-bucket average volume below $%.0f for %d buckets after an earlier peak of $%.0f",
					d.Window, d.Floor, len(run), peak),
			})
		}
		run = nil
	}

	for i := 0; i < n; i++ {
		if h.Buckets[i].Volume == nil {
			continue
		}
		from := i - d.Window + 1
		if from < 0 {
			from = 0
		}
		sum, count := 0.0, 0
		for j := from; j <= i; j++ {
			if v := h.Buckets[j].Volume; v != nil {
				sum += v.Value
				count++
			}
		}
		if sum/float64(count) < d.Floor && peakBefore[from] {
			if len(run) == 0 {
				peak = maxVolume(h, from)
			}
			run = append(run, i)
		} else {
			flush()
		}
	}
	flush()
	return flags
}

func maxVolume(h *domain.AssetHistory, before int) float64 {
	m := 0.0
	for i := 0; i < before; i++ {
		if v := h.Buckets[i].Volume; v != nil && v.Value > m {
			m = v.Value
		}
	}
	return m
}
