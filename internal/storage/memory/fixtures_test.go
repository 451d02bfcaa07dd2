package memory

import "token-forensics/internal/domain"

const testAssetKey = "ethereum:0x1111111111111111111111111111111111111111"

func sampleHistory(id string) *domain.AssetHistory {
	day := int64(86_400_000)
	return &domain.AssetHistory{
		ID: id,
		Asset: domain.Asset{
			Chain:    domain.ChainEthereum,
			Address:  "0x1111111111111111111111111111111111111111",
			Symbol:   "RUG",
			Decimals: 18,
		},
		ResolutionMs: day,
		Precedence:   []domain.SourceID{domain.SourceOnChainRPC, domain.SourceDEXAggregator},
		Buckets: []domain.HistoryBucket{
			{
				StartMs:  0,
				Observed: true,
				Sources:  []domain.SourceID{domain.SourceDEXAggregator},
				Price: &domain.Observation{
					Value:        1.1,
					Source:       domain.SourceDEXAggregator,
					Alternatives: []domain.AltValue{{Value: 1.05, Source: domain.SourcePriceAPI}},
				},
				Records: domain.RecordSet{
					Prices: []domain.PricePoint{{TimestampMs: 10, PriceUSD: 1.1, Source: domain.SourceDEXAggregator}},
				},
			},
			{StartMs: day},
		},
		Coverage: []domain.SourceCoverage{
			{Source: domain.SourceDEXAggregator, Status: domain.CoverageComplete, Buckets: 1, LastMs: 10},
			{Source: domain.SourceOnChainRPC, Status: domain.CoverageMissing},
		},
		Gaps: []domain.CoverageGap{{StartMs: day, EndMs: 2 * day}},
	}
}

func sampleFlag(id string, start int64) domain.RedFlag {
	return domain.RedFlag{
		ID:        id,
		Category:  domain.FlagLiquidityCollapse,
		Severity:  domain.SeverityCritical,
		TimeRange: domain.FlagRange{StartMs: start, EndMs: start + 1000},
		Evidence:  []domain.BucketRef{{Index: 0, StartMs: start}},
		Rationale: "liquidity fell",
	}
}

func ptr[T any](v T) *T {
	return &v
}
