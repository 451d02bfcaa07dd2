package main

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-forensics/internal/cache"
	"token-forensics/internal/config"
	"token-forensics/internal/domain"
)

func TestParseRange(t *testing.T) {
	now := time.Date(2022, 3, 15, 13, 0, 0, 0, time.UTC)

	r, err := parseRange("2021-10-01", "2021-10-02", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 10, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), r.StartMs)
	assert.Equal(t, time.Date(2021, 10, 3, 0, 0, 0, 0, time.UTC).UnixMilli()-1, r.EndMs)

	r, err = parseRange("2022-03-01", "", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 3, 16, 0, 0, 0, 0, time.UTC).UnixMilli()-1, r.EndMs)

	_, err = parseRange("", "", now)
	assert.Error(t, err)
	_, err = parseRange("2022-03-01", "2022-02-01", now)
	assert.Error(t, err)
	_, err = parseRange("03/01/2022", "", now)
	assert.Error(t, err)
}

func TestBuildAsset(t *testing.T) {
	asset, err := buildAsset(params{
		chain:       "polygon",
		address:     "0x5aaa5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a",
		symbol:      "rug",
		decimals:    18,
		coingeckoID: "rug-token",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ChainPolygon, asset.Chain)
	assert.Equal(t, "RUG", asset.Symbol)
	assert.Equal(t, "rug-token", asset.CoinGeckoID)

	_, err = buildAsset(params{chain: "polygon"})
	assert.Error(t, err)
	_, err = buildAsset(params{chain: "tron", address: "T9yD14Nj9j7xAB4dbGeiX9h8unkKHxuWwb"})
	assert.Error(t, err)
}

func TestBuildAdapters(t *testing.T) {
	cfg := config.Default()
	cfg.Sources = map[string]config.SourceConfig{
		config.SourceEVM:         {Enabled: true, BaseURL: "http://localhost:8545"},
		config.SourceSolana:      {Enabled: true, BaseURL: "http://localhost:8899"},
		config.SourceDEXScreener: {Enabled: true},
		config.SourceCoinGecko:   {Enabled: true},
		config.SourceEventLog:    {Enabled: true, File: "events.yaml"},
	}
	asset := domain.Asset{Chain: domain.ChainPolygon, Address: "0x5555555555555555555555555555555555555555", CoinGeckoID: "rug"}

	adapters, err := buildAdapters(cfg, asset, cache.NewMemory(), zerolog.Nop())
	require.NoError(t, err)

	var ids []domain.SourceID
	for _, a := range adapters {
		ids = append(ids, a.Source())
	}
	assert.Equal(t, []domain.SourceID{
		domain.SourceOnChainRPC,
		domain.SourceDEXAggregator,
		domain.SourcePriceAPI,
		domain.SourceEventLog,
	}, ids, "solana is skipped for a polygon asset")

	asset.CoinGeckoID = ""
	adapters, err = buildAdapters(cfg, asset, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, adapters, 3)
}

func TestBuildAdapters_MissingEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Sources = map[string]config.SourceConfig{config.SourceEVM: {Enabled: true}}
	asset := domain.Asset{Chain: domain.ChainEthereum, Address: "0x5555555555555555555555555555555555555555"}

	_, err := buildAdapters(cfg, asset, nil, zerolog.Nop())
	assert.Error(t, err)
}
