package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"token-forensics/internal/cache"
	"token-forensics/internal/config"
	"token-forensics/internal/domain"
	"token-forensics/internal/logging"
	"token-forensics/internal/pipeline"
	"token-forensics/internal/source"
	"token-forensics/internal/source/coingecko"
	"token-forensics/internal/source/dexscreener"
	"token-forensics/internal/source/eventlog"
	"token-forensics/internal/source/evm"
	"token-forensics/internal/source/solana"
	chstore "token-forensics/internal/storage/clickhouse"
	"token-forensics/internal/storage/memory"
	"token-forensics/internal/storage/migrations"
	pgstore "token-forensics/internal/storage/postgres"
)

// openCache returns the Redis cache when configured, otherwise an in-process one.
func openCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Cache, func(), error) {
	if cfg.Cache.RedisAddr == "" {
		return cache.NewMemory(), func() {}, nil
	}
	client, err := cache.DialRedis(ctx, cfg.Cache.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("addr", cfg.Cache.RedisAddr).Msg("using redis response cache")
	return cache.NewRedis(client, "forensics:"), func() { _ = client.Close() }, nil
}

// buildAdapters creates the enabled adapters that apply to asset, in
// registration order. On-chain adapters for another chain are skipped.
func buildAdapters(cfg *config.Config, asset domain.Asset, respCache cache.Cache, logger zerolog.Logger) ([]source.Adapter, error) {
	retrier := source.NewRetrier(cfg.MaxRetries, cfg.RetryBackoffBase, cfg.RetryBackoffMax)

	var adapters []source.Adapter
	for _, name := range cfg.EnabledSources() {
		sc := cfg.Source(name)
		log := logging.Component(logger, name)
		tOpts := []source.TransportOption{
			source.WithRateLimitDelay(sc.RateLimitDelay),
			source.WithRequestTimeout(sc.RequestTimeout),
		}
		if respCache != nil && sc.CacheTTL > 0 {
			tOpts = append(tOpts, source.WithCache(respCache, sc.CacheTTL))
		}

		switch name {
		case config.SourceEVM:
			if !asset.Chain.IsEVM() {
				log.Debug().Str("chain", string(asset.Chain)).Msg("skipping evm source for non-EVM chain")
				continue
			}
			a, err := evm.New(evm.Options{
				Endpoint:           sc.BaseURL,
				PageSize:           sc.PageSize,
				TopHolders:         sc.TopHolders,
				LargeTransferShare: sc.LargeTransferShare,
				PairAddresses:      sc.PairAddresses,
				Retrier:            retrier,
				TransportOptions:   tOpts,
				Logger:             log,
			})
			if err != nil {
				return nil, fmt.Errorf("sources.%s: %w", name, err)
			}
			adapters = append(adapters, a)

		case config.SourceSolana:
			if asset.Chain != domain.ChainSolana {
				log.Debug().Str("chain", string(asset.Chain)).Msg("skipping solana source for other chain")
				continue
			}
			a, err := solana.New(solana.Options{
				Endpoint:         sc.BaseURL,
				TopHolders:       sc.TopHolders,
				PageSize:         sc.PageSize,
				Retrier:          retrier,
				TransportOptions: tOpts,
				Logger:           log,
			})
			if err != nil {
				return nil, fmt.Errorf("sources.%s: %w", name, err)
			}
			adapters = append(adapters, a)

		case config.SourceDEXScreener:
			adapters = append(adapters, dexscreener.New(dexscreener.Options{
				BaseURL:          sc.BaseURL,
				Retrier:          retrier,
				TransportOptions: tOpts,
				Logger:           log,
			}))

		case config.SourceCoinGecko:
			if asset.CoinGeckoID == "" {
				log.Warn().Msg("coingecko enabled but no coin id given; skipping price history")
				continue
			}
			adapters = append(adapters, coingecko.New(coingecko.Options{
				BaseURL:          sc.BaseURL,
				APIKey:           sc.APIKey,
				PageDays:         sc.PageSize,
				Retrier:          retrier,
				TransportOptions: tOpts,
				Logger:           log,
			}))

		case config.SourceEventLog:
			adapters = append(adapters, eventlog.New(sc.File, log))
		}
	}
	return adapters, nil
}

// openStores returns memory stores, or PostgreSQL stores plus the optional
// ClickHouse timeseries store with migrations applied.
func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (pipeline.Stores, func(), error) {
	if cfg.Storage.UseMemory {
		return pipeline.Stores{
			Runs:       memory.NewRunStore(),
			Histories:  memory.NewHistoryStore(),
			Flags:      memory.NewFlagStore(),
			Timeseries: memory.NewBucketTimeseriesStore(),
		}, func() {}, nil
	}

	log := logging.Component(logger, "storage")
	pool, err := pgstore.NewPool(ctx, pgstore.PoolOptions{
		DSN:          cfg.Storage.PostgresDSN,
		MaxConns:     cfg.Storage.PostgresMaxConns,
		ConnLifetime: cfg.Storage.PostgresConnLifetime,
	})
	if err != nil {
		return pipeline.Stores{}, nil, err
	}
	if err := migrations.RunPostgres(ctx, pool, log); err != nil {
		pool.Close()
		return pipeline.Stores{}, nil, err
	}
	stores := pipeline.Stores{
		Runs:      pgstore.NewRunStore(pool),
		Histories: pgstore.NewHistoryStore(pool),
		Flags:     pgstore.NewFlagStore(pool),
	}
	closeAll := pool.Close

	if cfg.Storage.ClickhouseDSN == "" {
		log.Info().Msg("no clickhouse dsn; bucket timeseries are not stored")
		return stores, closeAll, nil
	}
	conn, err := migrations.RunClickhouse(ctx, cfg.Storage.ClickhouseDSN, log)
	if err != nil {
		pool.Close()
		return pipeline.Stores{}, nil, err
	}
	stores.Timeseries = chstore.NewBucketTimeseriesStore(conn)
	return stores, func() {
		_ = conn.Close()
		pool.Close()
	}, nil
}
