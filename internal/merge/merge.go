// Package merge combines per-source bucket sequences into one canonical
// AssetHistory, resolving scalar conflicts by source precedence.
package merge

import (
	"math"
	"sort"

	"token-forensics/internal/domain"
	"token-forensics/internal/idhash"
	"token-forensics/internal/normalization"
	"token-forensics/internal/observability"
	"token-forensics/internal/source"
)

// SourceBuckets is one source's normalized contribution. Err marks a short
// read; its buckets are merged all the same.
type SourceBuckets struct {
	Source  domain.SourceID
	Buckets []domain.Bucket
	Err     *source.FetchError
}

// FromResults normalizes collector results into merge inputs.
func FromResults(results []source.Result, resolutionMs int64) []SourceBuckets {
	out := make([]SourceBuckets, 0, len(results))
	for _, r := range results {
		out = append(out, SourceBuckets{
			Source:  r.Source,
			Buckets: normalization.Normalize(r.Records, resolutionMs),
			Err:     r.Err,
		})
	}
	return out
}

// Merger merges bucket sequences. The zero Precedence means
// domain.DefaultPrecedence.
type Merger struct {
	Precedence   []domain.SourceID
	ResolutionMs int64
}

// input is a canonicalized SourceBuckets.
type input struct {
	source  domain.SourceID
	rank    int
	buckets map[int64]domain.Bucket
	starts  []int64
	records int
	err     *source.FetchError
}

// Merge builds the history. It is pure apart from metrics: the same inputs
// in any order produce an identical history, including its ID.
func (m Merger) Merge(asset domain.Asset, inputs []SourceBuckets) *domain.AssetHistory {
	precedence := m.Precedence
	if len(precedence) == 0 {
		precedence = domain.DefaultPrecedence
	}
	h := &domain.AssetHistory{
		Asset:        asset,
		ResolutionMs: m.ResolutionMs,
		Precedence:   append([]domain.SourceID(nil), precedence...),
	}
	if m.ResolutionMs <= 0 {
		h.ID = idhash.ComputeHistoryID(*h)
		return h
	}

	ins := m.canonicalize(precedence, inputs)
	h.Coverage = coverage(precedence, ins)

	first, last, ok := span(ins)
	if ok {
		for start := first; start <= last; start += m.ResolutionMs {
			h.Buckets = append(h.Buckets, mergeBucket(start, ins))
		}
	}
	h.Gaps = gaps(h.Buckets, m.ResolutionMs)
	h.ID = idhash.ComputeHistoryID(*h)

	observed := h.ObservedCount()
	observability.RecordHistory(observed, len(h.Buckets)-observed, len(h.Gaps))
	return h
}

// canonicalize groups inputs by source, drops non-finite values,
// re-normalizes at the merger's resolution and orders sources by
// precedence rank then ID.
func (m Merger) canonicalize(precedence []domain.SourceID, inputs []SourceBuckets) []*input {
	rank := make(map[domain.SourceID]int, len(precedence))
	for i, s := range precedence {
		if _, dup := rank[s]; !dup {
			rank[s] = i
		}
	}

	records := make(map[domain.SourceID]*domain.RecordSet)
	errs := make(map[domain.SourceID]*source.FetchError)
	for _, in := range inputs {
		rs, ok := records[in.Source]
		if !ok {
			rs = &domain.RecordSet{}
			records[in.Source] = rs
		}
		rs.Append(stamp(normalization.Flatten(in.Buckets), in.Source))
		if in.Err != nil && (errs[in.Source] == nil || in.Err.Error() < errs[in.Source].Error()) {
			errs[in.Source] = in.Err
		}
	}

	out := make([]*input, 0, len(records))
	for id, rs := range records {
		r, known := rank[id]
		if !known {
			r = len(precedence)
		}
		in := &input{source: id, rank: r, buckets: make(map[int64]domain.Bucket), err: errs[id]}
		for _, b := range normalization.Normalize(*rs, m.ResolutionMs) {
			in.buckets[b.StartMs] = b
			in.starts = append(in.starts, b.StartMs)
			in.records += b.Records().Len()
		}
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].rank != out[j].rank {
			return out[i].rank < out[j].rank
		}
		return out[i].source < out[j].source
	})
	return out
}

// stamp copies rs keeping only finite records, attributed to id. Events
// without a confidence become asserted.
func stamp(rs domain.RecordSet, id domain.SourceID) domain.RecordSet {
	var out domain.RecordSet
	for _, p := range rs.Prices {
		if finite(p.PriceUSD) && (p.VolumeUSD == nil || finite(*p.VolumeUSD)) {
			p.Source = id
			out.Prices = append(out.Prices, p)
		}
	}
	for _, l := range rs.Liquidity {
		if finite(l.LiquidityUSD) {
			l.Source = id
			out.Liquidity = append(out.Liquidity, l)
		}
	}
	for _, hs := range rs.Holders {
		if finite(hs.Balance, hs.ShareOfSupply) {
			hs.Source = id
			out.Holders = append(out.Holders, hs)
		}
	}
	for _, e := range rs.Events {
		e.Source = id
		e.Confidence = e.Confidence.OrAsserted()
		out.Events = append(out.Events, e)
	}
	return out
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// span returns the first and last bucket start observed by any source.
func span(ins []*input) (first, last int64, ok bool) {
	for _, in := range ins {
		if len(in.starts) == 0 {
			continue
		}
		lo, hi := in.starts[0], in.starts[len(in.starts)-1]
		if !ok || lo < first {
			first = lo
		}
		if !ok || hi > last {
			last = hi
		}
		ok = true
	}
	return first, last, ok
}

func coverage(precedence []domain.SourceID, ins []*input) []domain.SourceCoverage {
	seen := make(map[domain.SourceID]bool, len(ins))
	out := make([]domain.SourceCoverage, 0, len(ins)+len(precedence))
	for _, in := range ins {
		seen[in.source] = true
		c := domain.SourceCoverage{Source: in.source, Buckets: len(in.starts)}
		switch {
		case in.err == nil:
			c.Status = domain.CoverageComplete
		case in.records > 0:
			c.Status = domain.CoveragePartial
		default:
			c.Status = domain.CoverageFailed
		}
		if in.err != nil {
			c.ErrorKind = string(in.err.Kind)
			c.Error = in.err.Error()
		}
		if len(in.starts) > 0 {
			c.FirstMs = in.starts[0]
			c.LastMs = in.starts[len(in.starts)-1]
		}
		out = append(out, c)
	}
	for _, id := range precedence {
		if !seen[id] {
			seen[id] = true
			out = append(out, domain.SourceCoverage{Source: id, Status: domain.CoverageMissing})
		}
	}
	return out
}

// gaps returns runs of unobserved buckets as half-open ranges.
func gaps(buckets []domain.HistoryBucket, resolutionMs int64) []domain.CoverageGap {
	var out []domain.CoverageGap
	for i := 0; i < len(buckets); i++ {
		if buckets[i].Observed {
			continue
		}
		j := i
		for j+1 < len(buckets) && !buckets[j+1].Observed {
			j++
		}
		out = append(out, domain.CoverageGap{StartMs: buckets[i].StartMs, EndMs: buckets[j].StartMs + resolutionMs})
		i = j
	}
	return out
}
