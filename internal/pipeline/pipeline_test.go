package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-forensics/internal/codec"
	"token-forensics/internal/collector"
	"token-forensics/internal/config"
	"token-forensics/internal/domain"
	"token-forensics/internal/merge"
	"token-forensics/internal/rules"
	"token-forensics/internal/source"
	"token-forensics/internal/source/stub"
	"token-forensics/internal/storage"
	"token-forensics/internal/storage/memory"
)

const day = int64(86_400_000)

var (
	asset = domain.Asset{Chain: domain.ChainPolygon, Address: "0x5555555555555555555555555555555555555555", Symbol: "RUG", Decimals: 18}
	span  = domain.TimeRange{StartMs: 0, EndMs: 4*day - 1}
	clock = func() time.Time { return time.UnixMilli(10 * day).UTC() }
)

func adapters() []source.Adapter {
	dex := stub.New(domain.SourceDEXAggregator, domain.RecordSet{
		Liquidity: []domain.LiquidityPoint{
			{TimestampMs: 100, PairID: "p1", LiquidityUSD: 1000},
			{TimestampMs: day + 100, PairID: "p1", LiquidityUSD: 50},
			{TimestampMs: 2*day + 100, PairID: "p1", LiquidityUSD: 40},
			{TimestampMs: 3*day + 100, PairID: "p1", LiquidityUSD: 30},
		},
	})
	chain := stub.New(domain.SourceOnChainRPC, domain.RecordSet{
		Holders: []domain.HolderSnapshot{
			{TimestampMs: 3*day + 500, Address: "0xdev", Balance: 900, ShareOfSupply: 0.9},
			{TimestampMs: 3*day + 500, Address: "0xpool", Balance: 100, ShareOfSupply: 0.1},
		},
	})
	prices := stub.New(domain.SourcePriceAPI, domain.RecordSet{}).
		WithError(source.Unreachable(errors.New("connection refused")))
	return []source.Adapter{dex, chain, prices}
}

type memStores struct {
	runs       *memory.RunStore
	histories  *memory.HistoryStore
	flags      *memory.FlagStore
	timeseries *memory.BucketTimeseriesStore
}

func newMemStores() memStores {
	return memStores{
		runs:       memory.NewRunStore(),
		histories:  memory.NewHistoryStore(),
		flags:      memory.NewFlagStore(),
		timeseries: memory.NewBucketTimeseriesStore(),
	}
}

func (m memStores) stores() Stores {
	return Stores{Runs: m.runs, Histories: m.histories, Flags: m.flags, Timeseries: m.timeseries}
}

func newPipeline(s Stores) *Pipeline {
	n := 0
	return New(Options{
		Collector: collector.New(adapters(), collector.WithTimeout(5*time.Second), collector.WithLogger(zerolog.Nop())),
		Merger:    merge.Merger{ResolutionMs: day},
		Stores:    s,
		Logger:    zerolog.Nop(),
		Clock:     clock,
		NewRunID: func() string {
			n++
			return fmt.Sprintf("run-%d", n)
		},
	})
}

func TestRun_PartialSourcesProduceFlags(t *testing.T) {
	ms := newMemStores()
	p := newPipeline(ms.stores())
	ctx := context.Background()

	res, err := p.Run(ctx, asset, span)
	require.NoError(t, err)
	require.NotNil(t, res.History)

	assert.Equal(t, "run-1", res.RunID)
	assert.Len(t, res.Results, 3)
	assert.Len(t, res.History.Buckets, 4)

	status := make(map[domain.SourceID]domain.CoverageStatus)
	for _, c := range res.History.Coverage {
		status[c.Source] = c.Status
	}
	assert.Equal(t, domain.CoverageComplete, status[domain.SourceDEXAggregator])
	assert.Equal(t, domain.CoverageComplete, status[domain.SourceOnChainRPC])
	assert.Equal(t, domain.CoverageFailed, status[domain.SourcePriceAPI])
	assert.Equal(t, domain.CoverageMissing, status[domain.SourceEventLog])

	require.Len(t, res.Flags, 2)
	assert.Equal(t, domain.FlagLiquidityCollapse, res.Flags[0].Category)
	assert.Equal(t, domain.SeverityCritical, res.Flags[0].Severity)
	assert.Equal(t, domain.FlagRange{StartMs: day, EndMs: 4 * day}, res.Flags[0].TimeRange)
	assert.Equal(t, domain.FlagHolderConcentration, res.Flags[1].Category)
	for _, f := range res.Flags {
		assert.NotEmpty(t, f.ID)
	}

	stored, err := ms.histories.GetByID(ctx, res.History.ID)
	require.NoError(t, err)
	want, err := codec.EncodeHistory(res.History)
	require.NoError(t, err)
	got, err := codec.EncodeHistory(stored)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))

	assert.Equal(t, rules.DefaultRuleset().ID(), res.RulesetID)
	flags, err := ms.flags.GetByHistoryID(ctx, res.History.ID, res.RulesetID)
	require.NoError(t, err)
	assert.Equal(t, res.Flags, flags)

	points, err := ms.timeseries.GetByAsset(ctx, asset.Key(), 0, 4*day)
	require.NoError(t, err)
	assert.Len(t, points, 4)

	run, err := ms.runs.GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, res.History.ID, run.HistoryID)
	assert.Equal(t, res.RulesetID, run.RulesetID)
	assert.Equal(t, 2, run.FlagCount)
	assert.Equal(t, 10*day, run.StartedAt)
	assert.Equal(t, res.History.Coverage, run.Coverage)
}

func TestRun_RepeatedAnalysisReusesHistory(t *testing.T) {
	ms := newMemStores()
	p := newPipeline(ms.stores())
	ctx := context.Background()

	first, err := p.Run(ctx, asset, span)
	require.NoError(t, err)
	second, err := p.Run(ctx, asset, span)
	require.NoError(t, err)

	assert.Equal(t, first.History.ID, second.History.ID)
	assert.Equal(t, first.Flags, second.Flags)

	runs, err := ms.runs.GetByAsset(ctx, asset.Key())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, runs[0].HistoryID, runs[1].HistoryID)

	flags, err := ms.flags.GetByHistoryID(ctx, first.History.ID, first.RulesetID)
	require.NoError(t, err)
	assert.Len(t, flags, 2, "flags are stored once per history and ruleset")
}

func TestRun_ChangedRulesetStoresNewFlags(t *testing.T) {
	ms := newMemStores()
	p := newPipeline(ms.stores())
	ctx := context.Background()

	first, err := p.Run(ctx, asset, span)
	require.NoError(t, err)
	require.Len(t, first.Flags, 2)

	cfg := config.DefaultRules()
	cfg.HolderConcentration.TopK = 1
	cfg.HolderConcentration.Threshold = 0.95
	rs, err := rules.NewRuleset(cfg)
	require.NoError(t, err)

	p.ruleset = rs
	second, err := p.Run(ctx, asset, span)
	require.NoError(t, err)

	assert.Equal(t, first.History.ID, second.History.ID)
	assert.NotEqual(t, first.RulesetID, second.RulesetID)
	require.Len(t, second.Flags, 1)
	assert.Equal(t, domain.FlagLiquidityCollapse, second.Flags[0].Category)
	assert.NotEqual(t, first.Flags[0].ID, second.Flags[0].ID)

	stored, err := ms.flags.GetByHistoryID(ctx, second.History.ID, second.RulesetID)
	require.NoError(t, err)
	assert.Equal(t, second.Flags, stored)

	original, err := ms.flags.GetByHistoryID(ctx, first.History.ID, first.RulesetID)
	require.NoError(t, err)
	assert.Equal(t, first.Flags, original)

	points, err := ms.timeseries.GetByAsset(ctx, asset.Key(), 0, 4*day)
	require.NoError(t, err)
	assert.Len(t, points, 4, "timeseries are written with the first history only")

	run, err := ms.runs.GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, first.RulesetID, run.RulesetID)
}

type failingRuns struct{}

func (failingRuns) Insert(context.Context, *domain.RunRecord) error {
	return errors.New("connection reset")
}

func (failingRuns) GetByID(context.Context, string) (*domain.RunRecord, error) {
	return nil, storage.ErrNotFound
}

func (failingRuns) GetByAsset(context.Context, string) ([]*domain.RunRecord, error) {
	return nil, nil
}

func TestRun_StorageErrorKeepsResult(t *testing.T) {
	p := newPipeline(Stores{Runs: failingRuns{}})

	res, err := p.Run(context.Background(), asset, span)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	require.NotNil(t, res)
	assert.Len(t, res.Flags, 2)
}

func TestRun_WithoutStores(t *testing.T) {
	p := newPipeline(Stores{})

	res, err := p.Run(context.Background(), asset, span)
	require.NoError(t, err)
	assert.Len(t, res.Flags, 2)
}

func TestRun_InvalidRange(t *testing.T) {
	p := newPipeline(Stores{})

	_, err := p.Run(context.Background(), asset, domain.TimeRange{StartMs: 10, EndMs: 5})
	assert.Error(t, err)
}

func TestRun_NoAdapters(t *testing.T) {
	p := New(Options{Merger: merge.Merger{ResolutionMs: day}, Logger: zerolog.Nop()})

	res, err := p.Run(context.Background(), asset, span)
	require.NoError(t, err)
	assert.Empty(t, res.History.Buckets)
	assert.Empty(t, res.Flags)
	assert.NotEmpty(t, res.RunID)
	for _, c := range res.History.Coverage {
		assert.Equal(t, domain.CoverageMissing, c.Status)
	}
}
