package domain

// Bucket is one fixed-width interval produced by the normalizer.
// Records are retained as sets, never averaged.
type Bucket struct {
	StartMs   int64            `json:"start_ms"`
	Prices    []PricePoint     `json:"prices,omitempty"`
	Liquidity []LiquidityPoint `json:"liquidity,omitempty"`
	Holders   []HolderSnapshot `json:"holders,omitempty"`
	Events    []Event          `json:"events,omitempty"`
}

// Empty reports whether the bucket carries no records.
func (b Bucket) Empty() bool {
	return len(b.Prices) == 0 && len(b.Liquidity) == 0 && len(b.Holders) == 0 && len(b.Events) == 0
}

// Records returns the bucket contents as a RecordSet.
func (b Bucket) Records() RecordSet {
	return RecordSet{
		Prices:    b.Prices,
		Liquidity: b.Liquidity,
		Holders:   b.Holders,
		Events:    b.Events,
	}
}

// FloorMs returns floor(ts/resolution)*resolution, correct for negative ts.
func FloorMs(ts, resolutionMs int64) int64 {
	q := ts / resolutionMs
	if ts%resolutionMs != 0 && ts < 0 {
		q--
	}
	return q * resolutionMs
}
