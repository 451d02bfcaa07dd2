package domain

// CoverageStatus describes how much of the requested range a source delivered.
type CoverageStatus string

const (
	CoverageComplete CoverageStatus = "complete"
	CoveragePartial  CoverageStatus = "partial" // records plus a trailing fetch error
	CoverageFailed   CoverageStatus = "failed"  // fetch error, no records
	CoverageMissing  CoverageStatus = "missing" // configured in precedence, never sent
)

// AltValue is a losing value of a merge conflict, kept as evidence.
type AltValue struct {
	Value  float64  `json:"value"`
	Source SourceID `json:"source"`
}

// Observation is a merged scalar with its winning source.
type Observation struct {
	Value        float64    `json:"value"`
	Source       SourceID   `json:"source"`
	Alternatives []AltValue `json:"alternatives,omitempty"`
}

// Conflicted reports whether another source disagreed with the winner.
func (o *Observation) Conflicted() bool {
	return o != nil && len(o.Alternatives) > 0
}

// HistoryBucket is one merged bucket of an AssetHistory.
// Unobserved buckets have Observed=false and nil scalars.
type HistoryBucket struct {
	StartMs      int64            `json:"start_ms"`
	Observed     bool             `json:"observed"`
	Sources      []SourceID       `json:"sources,omitempty"`
	Price        *Observation     `json:"price,omitempty"`
	Volume       *Observation     `json:"volume,omitempty"`
	Liquidity    *Observation     `json:"liquidity,omitempty"`
	Holders      []HolderSnapshot `json:"holders,omitempty"`
	HolderSource SourceID         `json:"holder_source,omitempty"`
	Events       []Event          `json:"events,omitempty"`
	Records      RecordSet        `json:"records"`
}

// SourceCoverage records one source's contribution to a history.
type SourceCoverage struct {
	Source    SourceID       `json:"source"`
	Status    CoverageStatus `json:"status"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
	Buckets   int            `json:"buckets"`
	FirstMs   int64          `json:"first_ms,omitempty"`
	LastMs    int64          `json:"last_ms,omitempty"`
}

// CoverageGap is a half-open [StartMs, EndMs) run of unobserved buckets.
type CoverageGap struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

// AssetHistory is the canonical merged per-asset timeline.
type AssetHistory struct {
	ID           string           `json:"id"`
	Asset        Asset            `json:"asset"`
	ResolutionMs int64            `json:"resolution_ms"`
	Precedence   []SourceID       `json:"precedence"`
	Buckets      []HistoryBucket  `json:"buckets"`
	Coverage     []SourceCoverage `json:"coverage"`
	Gaps         []CoverageGap    `json:"gaps,omitempty"`
}

// StartMs returns the start of the first bucket, or 0 for an empty history.
func (h *AssetHistory) StartMs() int64 {
	if len(h.Buckets) == 0 {
		return 0
	}
	return h.Buckets[0].StartMs
}

// EndMs returns the exclusive end of the last bucket, or 0 for an empty history.
func (h *AssetHistory) EndMs() int64 {
	if len(h.Buckets) == 0 {
		return 0
	}
	return h.Buckets[len(h.Buckets)-1].StartMs + h.ResolutionMs
}

// IndexOf returns the index of the bucket containing ts, or -1.
func (h *AssetHistory) IndexOf(ts int64) int {
	if len(h.Buckets) == 0 || h.ResolutionMs <= 0 {
		return -1
	}
	start := FloorMs(ts, h.ResolutionMs)
	idx := int((start - h.Buckets[0].StartMs) / h.ResolutionMs)
	if idx < 0 || idx >= len(h.Buckets) || h.Buckets[idx].StartMs != start {
		return -1
	}
	return idx
}

// Ref returns a bucket reference for index i.
func (h *AssetHistory) Ref(i int) BucketRef {
	return BucketRef{Index: i, StartMs: h.Buckets[i].StartMs}
}

// ObservedCount returns the number of buckets carrying data.
func (h *AssetHistory) ObservedCount() int {
	n := 0
	for i := range h.Buckets {
		if h.Buckets[i].Observed {
			n++
		}
	}
	return n
}
