// Package normalization aligns records from all sources onto one
// fixed-resolution timeline.
package normalization

import (
	"sort"

	"token-forensics/internal/domain"
)

// Normalize groups records into buckets keyed by
// floor(timestamp / resolution) * resolution.
//
// Records of one kind in a bucket are kept as a set: exact duplicates are
// collapsed, nothing is averaged. Buckets ascend by start; records inside a
// bucket are ordered by (source, timestamp, remaining fields), so the output
// depends only on the input multiset. A non-positive resolution yields nil.
func Normalize(records domain.RecordSet, resolutionMs int64) []domain.Bucket {
	if resolutionMs <= 0 || records.Len() == 0 {
		return nil
	}

	byStart := make(map[int64]*domain.Bucket)
	bucket := func(ts int64) *domain.Bucket {
		start := domain.FloorMs(ts, resolutionMs)
		b, ok := byStart[start]
		if !ok {
			b = &domain.Bucket{StartMs: start}
			byStart[start] = b
		}
		return b
	}

	for _, p := range records.Prices {
		b := bucket(p.TimestampMs)
		b.Prices = append(b.Prices, p)
	}
	for _, l := range records.Liquidity {
		b := bucket(l.TimestampMs)
		b.Liquidity = append(b.Liquidity, l)
	}
	for _, h := range records.Holders {
		b := bucket(h.TimestampMs)
		b.Holders = append(b.Holders, h)
	}
	for _, e := range records.Events {
		b := bucket(e.TimestampMs)
		b.Events = append(b.Events, e)
	}

	starts := make([]int64, 0, len(byStart))
	for s := range byStart {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	out := make([]domain.Bucket, 0, len(starts))
	for _, s := range starts {
		b := byStart[s]
		SortPrices(b.Prices)
		b.Prices = dedup(b.Prices, ComparePrices)
		SortLiquidity(b.Liquidity)
		b.Liquidity = dedup(b.Liquidity, CompareLiquidity)
		SortHolders(b.Holders)
		b.Holders = dedup(b.Holders, CompareHolders)
		SortEvents(b.Events)
		b.Events = dedup(b.Events, CompareEvents)
		out = append(out, *b)
	}
	return out
}

// Flatten returns all records of buckets as one RecordSet, in bucket order.
// Normalize(Flatten(b), r) == b for any b produced by Normalize at r.
func Flatten(buckets []domain.Bucket) domain.RecordSet {
	var rs domain.RecordSet
	for _, b := range buckets {
		rs.Append(b.Records())
	}
	return rs
}

// dedup drops adjacent equal elements of a sorted slice in place.
func dedup[T any](xs []T, cmp func(a, b T) int) []T {
	if len(xs) < 2 {
		return xs
	}
	out := xs[:1]
	for _, x := range xs[1:] {
		if cmp(out[len(out)-1], x) != 0 {
			out = append(out, x)
		}
	}
	return out
}
