package domain

// SourceID identifies the external data source a record came from.
type SourceID string

const (
	SourceOnChainRPC    SourceID = "onchain_rpc"
	SourceDEXAggregator SourceID = "dex_aggregator"
	SourcePriceAPI      SourceID = "price_api"
	SourceEventLog      SourceID = "event_log"
)

// DefaultPrecedence is the conflict-resolution order used when none is configured.
var DefaultPrecedence = []SourceID{
	SourceOnChainRPC,
	SourceDEXAggregator,
	SourcePriceAPI,
	SourceEventLog,
}

// String returns the string representation of SourceID.
func (s SourceID) String() string {
	return string(s)
}

// IsKnown checks if the source is one of the built-in source kinds.
func (s SourceID) IsKnown() bool {
	switch s {
	case SourceOnChainRPC, SourceDEXAggregator, SourcePriceAPI, SourceEventLog:
		return true
	}
	return false
}
