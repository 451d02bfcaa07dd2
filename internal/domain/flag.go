package domain

// Severity of a red flag. Ordered info < warning < critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordering weight of the severity.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// IsValid checks if the severity is a known value.
func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

// FlagCategory names the detector that produced a red flag.
type FlagCategory string

const (
	FlagLiquidityCollapse     FlagCategory = "liquidity_collapse"
	FlagHolderConcentration   FlagCategory = "holder_concentration"
	FlagCommunicationBlackout FlagCategory = "communication_blackout"
	FlagVolumeCollapse        FlagCategory = "volume_collapse"
)

// BucketRef points at one bucket of an AssetHistory.
type BucketRef struct {
	Index   int   `json:"index"`
	StartMs int64 `json:"start_ms"`
}

// FlagRange is the half-open [StartMs, EndMs) span a flag covers.
type FlagRange struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

// RedFlag is one detector firing. Produced fresh per evaluation.
type RedFlag struct {
	ID        string       `json:"id"`
	Category  FlagCategory `json:"category"`
	Severity  Severity     `json:"severity"`
	TimeRange FlagRange    `json:"time_range"`
	Evidence  []BucketRef  `json:"evidence"`
	Rationale string       `json:"rationale"`
}
