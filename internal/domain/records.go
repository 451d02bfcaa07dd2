package domain

// EventCategory classifies a discrete occurrence on the timeline.
type EventCategory string

const (
	EventLaunch          EventCategory = "launch"
	EventListing         EventCategory = "listing"
	EventCommunication   EventCategory = "communication"
	EventLiquidityChange EventCategory = "liquidity_change"
	EventLargeTransfer   EventCategory = "large_transfer"
)

// IsValid checks if the category is a known value.
func (c EventCategory) IsValid() bool {
	switch c {
	case EventLaunch, EventListing, EventCommunication, EventLiquidityChange, EventLargeTransfer:
		return true
	}
	return false
}

// Confidence separates facts observed on-chain from secondary-source assertions.
type Confidence string

const (
	ConfidenceObserved Confidence = "observed"
	ConfidenceAsserted Confidence = "asserted"
)

// OrAsserted returns c, or ConfidenceAsserted when c is unset. Events
// without a confidence are treated as secondary-source assertions.
func (c Confidence) OrAsserted() Confidence {
	if c == "" {
		return ConfidenceAsserted
	}
	return c
}

// Rank orders confidence levels; higher is stronger.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceObserved:
		return 2
	case ConfidenceAsserted:
		return 1
	}
	return 0
}

// PricePoint is one price/volume observation. VolumeUSD is nil when the
// source reported a price without a volume for that instant.
type PricePoint struct {
	TimestampMs int64    `json:"timestamp_ms"`
	PriceUSD    float64  `json:"price_usd"`
	VolumeUSD   *float64 `json:"volume_usd,omitempty"`
	Source      SourceID `json:"source"`
}

// LiquidityPoint is the USD liquidity of one trading pair at a point in time.
type LiquidityPoint struct {
	TimestampMs  int64    `json:"timestamp_ms"`
	PairID       string   `json:"pair_id"`
	DexID        string   `json:"dex_id"`
	LiquidityUSD float64  `json:"liquidity_usd"`
	Source       SourceID `json:"source"`
}

// HolderSnapshot is one address's balance at a point in time.
type HolderSnapshot struct {
	TimestampMs   int64    `json:"timestamp_ms"`
	Address       string   `json:"address"`
	Balance       float64  `json:"balance"`         // token units, decimals applied
	ShareOfSupply float64  `json:"share_of_supply"` // fraction in [0, 1]
	ProgramOwned  bool     `json:"program_owned,omitempty"`
	Source        SourceID `json:"source"`
}

// Event is a dated, categorized occurrence.
type Event struct {
	TimestampMs int64         `json:"timestamp_ms"`
	Category    EventCategory `json:"category"`
	Description string        `json:"description"`
	Confidence  Confidence    `json:"confidence"`
	Source      SourceID      `json:"source"`
	Reference   string        `json:"reference,omitempty"` // tx hash or URL
}

// RecordSet holds the heterogeneous records produced by one adapter.
type RecordSet struct {
	Prices    []PricePoint     `json:"prices,omitempty"`
	Liquidity []LiquidityPoint `json:"liquidity,omitempty"`
	Holders   []HolderSnapshot `json:"holders,omitempty"`
	Events    []Event          `json:"events,omitempty"`
}

// Len returns the total number of records.
func (r RecordSet) Len() int {
	return len(r.Prices) + len(r.Liquidity) + len(r.Holders) + len(r.Events)
}

// Append adds all records of other to r.
func (r *RecordSet) Append(other RecordSet) {
	r.Prices = append(r.Prices, other.Prices...)
	r.Liquidity = append(r.Liquidity, other.Liquidity...)
	r.Holders = append(r.Holders, other.Holders...)
	r.Events = append(r.Events, other.Events...)
}

// TimeRange is an inclusive [StartMs, EndMs] window used for fetch requests.
type TimeRange struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

// Contains reports whether ts lies within the inclusive range.
func (r TimeRange) Contains(ts int64) bool {
	return ts >= r.StartMs && ts <= r.EndMs
}

// Valid reports whether the range is non-empty.
func (r TimeRange) Valid() bool {
	return r.EndMs >= r.StartMs
}
