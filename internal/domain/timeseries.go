package domain

// BucketPoint is one observed history bucket flattened to scalars for
// analytics storage. Nil fields were not observed.
type BucketPoint struct {
	AssetKey        string   `json:"asset_key"`
	HistoryID       string   `json:"history_id"`
	StartMs         int64    `json:"start_ms"`
	Price           *float64 `json:"price,omitempty"`
	Volume          *float64 `json:"volume,omitempty"`
	Liquidity       *float64 `json:"liquidity,omitempty"`
	PriceSource     SourceID `json:"price_source,omitempty"`
	LiquiditySource SourceID `json:"liquidity_source,omitempty"`
	TopHolderShare  *float64 `json:"top_holder_share,omitempty"`
	EventCount      int      `json:"event_count"`
	Conflicts       int      `json:"conflicts"`
}

// BucketPoints flattens the observed buckets of h.
func BucketPoints(h *AssetHistory) []BucketPoint {
	key := h.Asset.Key()
	var out []BucketPoint
	for _, b := range h.Buckets {
		if !b.Observed {
			continue
		}
		p := BucketPoint{
			AssetKey:   key,
			HistoryID:  h.ID,
			StartMs:    b.StartMs,
			EventCount: len(b.Events),
		}
		if b.Price != nil {
			p.Price = ptr(b.Price.Value)
			p.PriceSource = b.Price.Source
		}
		if b.Volume != nil {
			p.Volume = ptr(b.Volume.Value)
		}
		if b.Liquidity != nil {
			p.Liquidity = ptr(b.Liquidity.Value)
			p.LiquiditySource = b.Liquidity.Source
		}
		if len(b.Holders) > 0 {
			top := 0.0
			for _, hs := range b.Holders {
				if hs.ShareOfSupply > top {
					top = hs.ShareOfSupply
				}
			}
			p.TopHolderShare = ptr(top)
		}
		for _, o := range []*Observation{b.Price, b.Volume, b.Liquidity} {
			if o.Conflicted() {
				p.Conflicts++
			}
		}
		out = append(out, p)
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
