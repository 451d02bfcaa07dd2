package merge

import (
	"sort"

	"token-forensics/internal/domain"
	"token-forensics/internal/normalization"
	"token-forensics/internal/observability"
)

// candidate is one source's value for a scalar in one bucket.
type candidate struct {
	value  float64
	source domain.SourceID
}

// mergeBucket merges the buckets starting at start across sources. ins is
// in precedence order, so the first candidate for each scalar wins.
func mergeBucket(start int64, ins []*input) domain.HistoryBucket {
	hb := domain.HistoryBucket{StartMs: start}

	var prices, volumes, liquidity []candidate
	var events []domain.Event
	for _, in := range ins {
		b, ok := in.buckets[start]
		if !ok {
			continue
		}
		hb.Observed = true
		hb.Sources = append(hb.Sources, in.source)
		hb.Records.Append(b.Records())

		if p, ok := latestPrice(b.Prices); ok {
			prices = append(prices, candidate{p.PriceUSD, in.source})
		}
		if v, ok := latestVolume(b.Prices); ok {
			volumes = append(volumes, candidate{v, in.source})
		}
		if v, ok := pairLiquidity(b.Liquidity); ok {
			liquidity = append(liquidity, candidate{v, in.source})
		}
		if hb.Holders == nil && len(b.Holders) > 0 {
			hb.Holders = latestHolders(b.Holders)
			hb.HolderSource = in.source
		}
		events = append(events, b.Events...)
	}

	hb.Price = resolve("price", prices)
	hb.Volume = resolve("volume", volumes)
	hb.Liquidity = resolve("liquidity", liquidity)
	hb.Events = unionEvents(events)
	return hb
}

// resolve picks the first candidate and keeps disagreeing losers.
func resolve(field string, cs []candidate) *domain.Observation {
	if len(cs) == 0 {
		return nil
	}
	obs := &domain.Observation{Value: cs[0].value, Source: cs[0].source}
	for _, c := range cs[1:] {
		if c.value != obs.Value {
			obs.Alternatives = append(obs.Alternatives, domain.AltValue{Value: c.value, Source: c.source})
		}
	}
	if obs.Conflicted() {
		observability.RecordMergeConflict(field)
	}
	return obs
}

// latestPrice returns the point with the greatest timestamp. Points are
// sorted by timestamp within a source, so that is the last one.
func latestPrice(ps []domain.PricePoint) (domain.PricePoint, bool) {
	if len(ps) == 0 {
		return domain.PricePoint{}, false
	}
	return ps[len(ps)-1], true
}

// latestVolume returns the volume of the latest point that reported one.
// A source that never reported a volume in the bucket is not a candidate.
func latestVolume(ps []domain.PricePoint) (float64, bool) {
	for i := len(ps) - 1; i >= 0; i-- {
		if ps[i].VolumeUSD != nil {
			return *ps[i].VolumeUSD, true
		}
	}
	return 0, false
}

// pairLiquidity sums the latest point of every pair.
func pairLiquidity(ls []domain.LiquidityPoint) (float64, bool) {
	if len(ls) == 0 {
		return 0, false
	}
	latest := make(map[string]domain.LiquidityPoint, len(ls))
	for _, l := range ls {
		if cur, ok := latest[l.PairID]; !ok || l.TimestampMs >= cur.TimestampMs {
			latest[l.PairID] = l
		}
	}
	pairs := make([]string, 0, len(latest))
	for id := range latest {
		pairs = append(pairs, id)
	}
	sort.Strings(pairs)

	total := 0.0
	for _, id := range pairs {
		total += latest[id].LiquidityUSD
	}
	return total, true
}

// latestHolders keeps the latest snapshot per address, largest share first.
func latestHolders(hs []domain.HolderSnapshot) []domain.HolderSnapshot {
	latest := make(map[string]domain.HolderSnapshot, len(hs))
	for _, h := range hs {
		if cur, ok := latest[h.Address]; !ok || h.TimestampMs >= cur.TimestampMs {
			latest[h.Address] = h
		}
	}
	out := make([]domain.HolderSnapshot, 0, len(latest))
	for _, h := range latest {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ShareOfSupply != out[j].ShareOfSupply {
			return out[i].ShareOfSupply > out[j].ShareOfSupply
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// unionEvents orders events on the timeline and drops copies reported by
// more than one source, keeping the highest-precedence one.
func unionEvents(es []domain.Event) []domain.Event {
	if len(es) == 0 {
		return nil
	}
	out := make([]domain.Event, len(es))
	copy(out, es)
	sort.SliceStable(out, func(i, j int) bool {
		return normalization.CompareEventsBySource(out[i], out[j]) < 0
	})
	kept := out[:1]
	for _, e := range out[1:] {
		if normalization.CompareEventsBySource(kept[len(kept)-1], e) != 0 {
			kept = append(kept, e)
		}
	}
	return kept
}
