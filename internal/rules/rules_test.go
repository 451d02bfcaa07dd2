package rules

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-forensics/internal/config"
	"token-forensics/internal/domain"
)

const day = int64(86_400_000)

// newHistory returns n observed daily buckets starting at zero.
func newHistory(n int) *domain.AssetHistory {
	h := &domain.AssetHistory{ID: "history", ResolutionMs: day}
	for i := 0; i < n; i++ {
		h.Buckets = append(h.Buckets, domain.HistoryBucket{StartMs: int64(i) * day, Observed: true})
	}
	return h
}

func obs(v float64) *domain.Observation {
	return &domain.Observation{Value: v, Source: domain.SourceDEXAggregator}
}

func withLiquidity(values ...float64) *domain.AssetHistory {
	h := newHistory(len(values))
	for i, v := range values {
		if v >= 0 {
			h.Buckets[i].Liquidity = obs(v)
		}
	}
	return h
}

func indexes(refs []domain.BucketRef) []int {
	out := make([]int, len(refs))
	for i, r := range refs {
		out[i] = r.Index
	}
	return out
}

func TestLiquidityCollapse_FiresOnce(t *testing.T) {
	h := withLiquidity(100, 100, 100, 5, 5, 5, 5)
	flags := Evaluate(h, DefaultRuleset())

	require.Len(t, flags, 1)
	f := flags[0]
	assert.Equal(t, domain.FlagLiquidityCollapse, f.Category)
	assert.Equal(t, domain.SeverityCritical, f.Severity)
	assert.Equal(t, []int{3, 4, 5, 6}, indexes(f.Evidence))
	assert.Equal(t, domain.FlagRange{StartMs: 3 * day, EndMs: 7 * day}, f.TimeRange)
	assert.Len(t, f.ID, 64)
	assert.Contains(t, f.Rationale, "$100.00")
}

func TestLiquidityCollapse_ShortRunIgnored(t *testing.T) {
	h := withLiquidity(100, 5, 5, 100, 5)
	assert.Empty(t, LiquidityCollapse{Fraction: 0.1, MinBuckets: 3}.Detect(h))
}

func TestLiquidityCollapse_UnobservedBucketsDoNotBreakRun(t *testing.T) {
	h := withLiquidity(100, -1, 5, -1, 5, 5)
	h.Buckets[1].Observed = false
	h.Buckets[3].Observed = false

	flags := LiquidityCollapse{Fraction: 0.1, MinBuckets: 3}.Detect(h)
	require.Len(t, flags, 1)
	assert.Equal(t, []int{2, 4, 5}, indexes(flags[0].Evidence))
}

func TestLiquidityCollapse_SeparateRuns(t *testing.T) {
	h := withLiquidity(100, 5, 5, 5, 100, 1, 1, 1)
	flags := LiquidityCollapse{Fraction: 0.1, MinBuckets: 3}.Detect(h)
	require.Len(t, flags, 2)
	assert.Equal(t, []int{1, 2, 3}, indexes(flags[0].Evidence))
	assert.Equal(t, []int{5, 6, 7}, indexes(flags[1].Evidence))
}

func holdersWithShare(share float64, n int) []domain.HolderSnapshot {
	out := make([]domain.HolderSnapshot, n)
	for i := range out {
		out[i] = domain.HolderSnapshot{Address: fmt.Sprintf("0x%02d", i), ShareOfSupply: share}
	}
	return out
}

func TestHolderConcentration(t *testing.T) {
	tests := []struct {
		name  string
		share float64
		want  int
	}{
		{"55 percent fires", 0.055, 1},
		{"45 percent quiet", 0.045, 0},
		{"exactly at threshold quiet", 0.05, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHistory(3)
			h.Buckets[2].Holders = holdersWithShare(tt.share, 15)
			flags := Evaluate(h, DefaultRuleset())
			require.Len(t, flags, tt.want)
			if tt.want == 1 {
				assert.Equal(t, domain.SeverityWarning, flags[0].Severity)
				assert.Equal(t, []int{2}, indexes(flags[0].Evidence))
				assert.Contains(t, flags[0].Rationale, "55.0%")
			}
		})
	}
}

func TestHolderConcentration_UsesMostRecentSnapshot(t *testing.T) {
	h := newHistory(4)
	h.Buckets[0].Holders = holdersWithShare(0.09, 10)
	h.Buckets[2].Holders = holdersWithShare(0.01, 10)

	assert.Empty(t, HolderConcentration{TopK: 10, Threshold: 0.5}.Detect(h))
}

func TestHolderConcentration_ExcludeProgramOwned(t *testing.T) {
	h := newHistory(1)
	h.Buckets[0].Holders = []domain.HolderSnapshot{
		{Address: "pool", ShareOfSupply: 0.45, ProgramOwned: true},
		{Address: "a", ShareOfSupply: 0.10},
		{Address: "b", ShareOfSupply: 0.05},
	}
	assert.Len(t, HolderConcentration{TopK: 10, Threshold: 0.5}.Detect(h), 1)
	assert.Empty(t, HolderConcentration{TopK: 10, Threshold: 0.5, ExcludeProgramOwned: true}.Detect(h))
}

func commHistory(n int, eventDays ...int) *domain.AssetHistory {
	h := newHistory(n)
	for _, d := range eventDays {
		h.Buckets[d].Events = append(h.Buckets[d].Events, domain.Event{
			TimestampMs: int64(d) * day,
			Category:    domain.EventCommunication,
			Confidence:  domain.ConfidenceAsserted,
		})
	}
	return h
}

func TestCommunicationBlackout_GapBetweenEvents(t *testing.T) {
	h := commHistory(201, 0, 200)
	flags := Evaluate(h, DefaultRuleset())

	require.Len(t, flags, 1)
	f := flags[0]
	assert.Equal(t, domain.FlagCommunicationBlackout, f.Category)
	assert.Equal(t, domain.SeverityWarning, f.Severity)
	assert.Equal(t, domain.FlagRange{StartMs: 90 * day, EndMs: 200 * day}, f.TimeRange)
	assert.Equal(t, []int{0, 200}, indexes(f.Evidence))
	assert.Contains(t, f.Rationale, "asserted")
}

func TestCommunicationBlackout_UnsetConfidenceCounts(t *testing.T) {
	h := commHistory(201, 0, 200)
	for _, i := range []int{0, 200} {
		h.Buckets[i].Events[0].Confidence = ""
	}
	flags := Evaluate(h, DefaultRuleset())

	require.Len(t, flags, 1)
	assert.Equal(t, domain.FlagRange{StartMs: 90 * day, EndMs: 200 * day}, flags[0].TimeRange)
	assert.Contains(t, flags[0].Rationale, "asserted")

	// unset is weaker than observed
	assert.Empty(t, CommunicationBlackout{MaxGapMs: 90 * day, MinConfidence: domain.ConfidenceObserved}.Detect(h))
}

func TestCommunicationBlackout_NoEvents(t *testing.T) {
	assert.Empty(t, Evaluate(commHistory(400), DefaultRuleset()))
}

func TestCommunicationBlackout_TrailingSilence(t *testing.T) {
	h := commHistory(120, 10)
	flags := CommunicationBlackout{MaxGapMs: 90 * day, MinConfidence: domain.ConfidenceAsserted}.Detect(h)

	require.Len(t, flags, 1)
	assert.Equal(t, domain.FlagRange{StartMs: 100 * day, EndMs: 120 * day}, flags[0].TimeRange)
	assert.Equal(t, []int{10}, indexes(flags[0].Evidence))
}

func TestCommunicationBlackout_WithinLimit(t *testing.T) {
	h := commHistory(100, 0, 90, 99)
	assert.Empty(t, CommunicationBlackout{MaxGapMs: 90 * day, MinConfidence: domain.ConfidenceAsserted}.Detect(h))
}

func TestCommunicationBlackout_MinConfidence(t *testing.T) {
	h := commHistory(201, 0, 200)
	assert.Empty(t, CommunicationBlackout{MaxGapMs: 90 * day, MinConfidence: domain.ConfidenceObserved}.Detect(h))
}

func withVolume(values ...float64) *domain.AssetHistory {
	h := newHistory(len(values))
	for i, v := range values {
		if v >= 0 {
			h.Buckets[i].Volume = obs(v)
		}
	}
	return h
}

func TestVolumeCollapse(t *testing.T) {
	h := withVolume(20000, 20000, 500, 500, 500, 500)
	flags := VolumeCollapse{Window: 3, Floor: 1000, Peak: 10000}.Detect(h)

	require.Len(t, flags, 1)
	assert.Equal(t, domain.SeverityInfo, flags[0].Severity)
	assert.Equal(t, []int{4, 5}, indexes(flags[0].Evidence))
	assert.Equal(t, domain.FlagRange{StartMs: 4 * day, EndMs: 6 * day}, flags[0].TimeRange)
}

func TestVolumeCollapse_NeverPeaked(t *testing.T) {
	h := withVolume(5000, 5000, 500, 500, 500, 500)
	assert.Empty(t, VolumeCollapse{Window: 3, Floor: 1000, Peak: 10000}.Detect(h))
}

func TestVolumeCollapse_Recovery(t *testing.T) {
	h := withVolume(20000, 100, 100, 5000, 5000, 100, 100)
	flags := VolumeCollapse{Window: 2, Floor: 1000, Peak: 10000}.Detect(h)
	require.Len(t, flags, 2)
	assert.Equal(t, []int{2}, indexes(flags[0].Evidence))
	assert.Equal(t, []int{6}, indexes(flags[1].Evidence))
}

func TestEvaluate_Ordering(t *testing.T) {
	h := withLiquidity(100, 100, 100, 5, 5, 5, 5)
	h.Buckets[6].Holders = holdersWithShare(0.2, 5)
	for i, v := range []float64{50000, 50000, 100, 100, 100, 100, 100} {
		h.Buckets[i].Volume = obs(v)
	}
	rs := Ruleset{
		VolumeCollapse{Window: 2, Floor: 1000, Peak: 10000},
		HolderConcentration{TopK: 10, Threshold: 0.5},
		LiquidityCollapse{Fraction: 0.1, MinBuckets: 3},
	}

	flags := Evaluate(h, rs)
	require.Len(t, flags, 3)
	assert.Equal(t, domain.SeverityCritical, flags[0].Severity)
	assert.Equal(t, domain.SeverityWarning, flags[1].Severity)
	assert.Equal(t, domain.SeverityInfo, flags[2].Severity)

	// re-evaluation produces the same flags
	assert.Equal(t, flags, Evaluate(h, rs))
}

func TestSortFlags_TieBreakers(t *testing.T) {
	flags := []domain.RedFlag{
		{Category: domain.FlagVolumeCollapse, Severity: domain.SeverityWarning, TimeRange: domain.FlagRange{StartMs: 5, EndMs: 9}},
		{Category: domain.FlagCommunicationBlackout, Severity: domain.SeverityWarning, TimeRange: domain.FlagRange{StartMs: 5, EndMs: 20}},
		{Category: domain.FlagCommunicationBlackout, Severity: domain.SeverityWarning, TimeRange: domain.FlagRange{StartMs: 5, EndMs: 10}},
		{Category: domain.FlagHolderConcentration, Severity: domain.SeverityWarning, TimeRange: domain.FlagRange{StartMs: 1, EndMs: 2}},
	}
	SortFlags(flags)
	assert.Equal(t, domain.FlagHolderConcentration, flags[0].Category)
	assert.Equal(t, int64(10), flags[1].TimeRange.EndMs)
	assert.Equal(t, int64(20), flags[2].TimeRange.EndMs)
	assert.Equal(t, domain.FlagVolumeCollapse, flags[3].Category)
}

func TestEvaluate_EmptyHistory(t *testing.T) {
	assert.Nil(t, Evaluate(nil, DefaultRuleset()))
	assert.Nil(t, Evaluate(&domain.AssetHistory{ResolutionMs: day}, DefaultRuleset()))
}

func TestNewRuleset(t *testing.T) {
	rs, err := NewRuleset(config.DefaultRules())
	require.NoError(t, err)
	assert.Len(t, rs, 4)

	cfg := config.DefaultRules()
	cfg.LiquidityCollapse.Fraction = 2
	cfg.CommunicationBlackout.MaxGap = -time.Hour
	_, err = NewRuleset(cfg)
	require.Error(t, err)
	var cerr *config.ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestRuleset_ID(t *testing.T) {
	id := DefaultRuleset().ID()
	assert.Len(t, id, 64)
	assert.Equal(t, id, DefaultRuleset().ID())

	cfg := config.DefaultRules()
	cfg.HolderConcentration.Threshold = 0.6
	changed, err := NewRuleset(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, id, changed.ID())

	// same history, different thresholds: flag IDs do not collide
	h := withLiquidity(100, 100, 100, 5, 5, 5, 5)
	a := Evaluate(h, DefaultRuleset())
	b := Evaluate(h, changed)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].TimeRange, b[0].TimeRange)
	assert.NotEqual(t, a[0].ID, b[0].ID)
}
