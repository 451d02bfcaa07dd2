package normalization

import (
	"sort"

	"token-forensics/internal/domain"
)

// SortPrices orders price points by (source, timestamp, price, volume).
func SortPrices(ps []domain.PricePoint) {
	sort.Slice(ps, func(i, j int) bool {
		return ComparePrices(ps[i], ps[j]) < 0
	})
}

// SortLiquidity orders liquidity points by (source, timestamp, pair, dex, liquidity).
func SortLiquidity(ls []domain.LiquidityPoint) {
	sort.Slice(ls, func(i, j int) bool {
		return CompareLiquidity(ls[i], ls[j]) < 0
	})
}

// SortHolders orders holder snapshots by (source, timestamp, address, balance, share, program_owned).
func SortHolders(hs []domain.HolderSnapshot) {
	sort.Slice(hs, func(i, j int) bool {
		return CompareHolders(hs[i], hs[j]) < 0
	})
}

// SortEvents orders events by (source, timestamp, category, confidence, reference, description).
func SortEvents(es []domain.Event) {
	sort.Slice(es, func(i, j int) bool {
		return CompareEvents(es[i], es[j]) < 0
	})
}

// ComparePrices returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func ComparePrices(a, b domain.PricePoint) int {
	if c := cmpString(string(a.Source), string(b.Source)); c != 0 {
		return c
	}
	if c := cmpInt(a.TimestampMs, b.TimestampMs); c != 0 {
		return c
	}
	if c := cmpFloat(a.PriceUSD, b.PriceUSD); c != 0 {
		return c
	}
	return cmpOptFloat(a.VolumeUSD, b.VolumeUSD)
}

// CompareLiquidity returns -1, 0 or 1 like ComparePrices.
func CompareLiquidity(a, b domain.LiquidityPoint) int {
	if c := cmpString(string(a.Source), string(b.Source)); c != 0 {
		return c
	}
	if c := cmpInt(a.TimestampMs, b.TimestampMs); c != 0 {
		return c
	}
	if c := cmpString(a.PairID, b.PairID); c != 0 {
		return c
	}
	if c := cmpString(a.DexID, b.DexID); c != 0 {
		return c
	}
	return cmpFloat(a.LiquidityUSD, b.LiquidityUSD)
}

// CompareHolders returns -1, 0 or 1 like ComparePrices.
func CompareHolders(a, b domain.HolderSnapshot) int {
	if c := cmpString(string(a.Source), string(b.Source)); c != 0 {
		return c
	}
	if c := cmpInt(a.TimestampMs, b.TimestampMs); c != 0 {
		return c
	}
	if c := cmpString(a.Address, b.Address); c != 0 {
		return c
	}
	if c := cmpFloat(a.Balance, b.Balance); c != 0 {
		return c
	}
	if c := cmpFloat(a.ShareOfSupply, b.ShareOfSupply); c != 0 {
		return c
	}
	return cmpBool(a.ProgramOwned, b.ProgramOwned)
}

// CompareEvents returns -1, 0 or 1 like ComparePrices.
func CompareEvents(a, b domain.Event) int {
	if c := cmpString(string(a.Source), string(b.Source)); c != 0 {
		return c
	}
	return CompareEventsBySource(a, b)
}

// CompareEventsBySource is CompareEvents without the source key, for
// ordering events merged from several sources on one timeline.
func CompareEventsBySource(a, b domain.Event) int {
	if c := cmpInt(a.TimestampMs, b.TimestampMs); c != 0 {
		return c
	}
	if c := cmpString(string(a.Category), string(b.Category)); c != 0 {
		return c
	}
	if c := cmpString(string(a.Confidence), string(b.Confidence)); c != 0 {
		return c
	}
	if c := cmpString(a.Reference, b.Reference); c != 0 {
		return c
	}
	return cmpString(a.Description, b.Description)
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// cmpOptFloat orders nil before any value.
func cmpOptFloat(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return cmpFloat(*a, *b)
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}
