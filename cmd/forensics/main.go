// Command forensics assembles the forensic history of one token, evaluates
// red-flag rules against it and writes the history and flags as JSON.
//
// Usage:
//
//	forensics --config forensics.yaml --chain polygon --address 0x... --from 2021-10-01 --to 2022-03-31
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"token-forensics/internal/codec"
	"token-forensics/internal/collector"
	"token-forensics/internal/config"
	"token-forensics/internal/domain"
	"token-forensics/internal/logging"
	"token-forensics/internal/merge"
	"token-forensics/internal/observability"
	"token-forensics/internal/pipeline"
	"token-forensics/internal/rules"
)

// params are the per-invocation inputs that do not belong in the config file.
type params struct {
	chain       string
	address     string
	symbol      string
	name        string
	decimals    int
	coingeckoID string
	from        string
	to          string
	output      string
}

func main() {
	var p params
	configPath := flag.String("config", os.Getenv("FORENSICS_CONFIG"), "YAML configuration file")
	flag.StringVar(&p.chain, "chain", os.Getenv("FORENSICS_CHAIN"), "Chain: ethereum, polygon, bsc, solana (required)")
	flag.StringVar(&p.address, "address", os.Getenv("FORENSICS_ADDRESS"), "Token contract or mint address (required)")
	flag.StringVar(&p.symbol, "symbol", os.Getenv("FORENSICS_SYMBOL"), "Token symbol")
	flag.StringVar(&p.name, "name", os.Getenv("FORENSICS_NAME"), "Token name")
	flag.IntVar(&p.decimals, "decimals", envInt("FORENSICS_DECIMALS", 18), "Token decimals")
	flag.StringVar(&p.coingeckoID, "coingecko-id", os.Getenv("FORENSICS_COINGECKO_ID"), "CoinGecko coin id (price history is skipped when empty)")
	flag.StringVar(&p.from, "from", os.Getenv("FORENSICS_FROM"), "Range start, YYYY-MM-DD UTC (required)")
	flag.StringVar(&p.to, "to", os.Getenv("FORENSICS_TO"), "Range end, YYYY-MM-DD UTC inclusive (default: today)")
	flag.StringVar(&p.output, "output", "", "Write the JSON report to this file instead of stdout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.Log, os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Warn().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, p, logger); err != nil {
		logger.Error().Err(err).Msg("forensics run failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, p params, logger zerolog.Logger) error {
	asset, err := buildAsset(p)
	if err != nil {
		return err
	}
	r, err := parseRange(p.from, p.to, time.Now().UTC())
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := startMetrics(cfg.MetricsAddr, logger)
		defer srv.Close()
	}

	respCache, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	adapters, err := buildAdapters(cfg, asset, respCache, logger)
	if err != nil {
		return err
	}
	if len(adapters) == 0 {
		logger.Warn().Msg("no sources enabled; the history will be empty")
	}

	stores, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	ruleset, err := rules.NewRuleset(cfg.Rules)
	if err != nil {
		return fmt.Errorf("build ruleset: %w", err)
	}

	pl := pipeline.New(pipeline.Options{
		Collector: collector.New(adapters,
			collector.WithParallelism(cfg.Parallelism),
			collector.WithTimeout(cfg.FetchTimeout),
			collector.WithLogger(logging.Component(logger, "collector")),
		),
		Merger:  merge.Merger{Precedence: cfg.SourcePrecedence, ResolutionMs: cfg.ResolutionMs()},
		Ruleset: ruleset,
		Stores:  stores,
		Logger:  logger,
	})

	res, runErr := pl.Run(ctx, asset, r)
	if res == nil {
		return runErr
	}
	if err := writeReport(p.output, res); err != nil {
		return errors.Join(runErr, err)
	}
	for _, f := range res.Flags {
		logger.Info().
			Str("severity", string(f.Severity)).
			Str("category", string(f.Category)).
			Time("from", time.UnixMilli(f.TimeRange.StartMs).UTC()).
			Time("to", time.UnixMilli(f.TimeRange.EndMs).UTC()).
			Msg(f.Rationale)
	}
	return runErr
}

func buildAsset(p params) (domain.Asset, error) {
	if p.chain == "" || p.address == "" {
		return domain.Asset{}, errors.New("--chain and --address are required")
	}
	asset, err := domain.NewAsset(domain.Chain(p.chain), p.address, p.symbol, p.decimals)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("asset: %w", err)
	}
	asset.Name = p.name
	asset.CoinGeckoID = p.coingeckoID
	return asset, nil
}

// parseRange turns inclusive UTC dates into an inclusive millisecond range
// ending at the last millisecond of the to date.
func parseRange(from, to string, now time.Time) (domain.TimeRange, error) {
	if from == "" {
		return domain.TimeRange{}, errors.New("--from is required")
	}
	start, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return domain.TimeRange{}, fmt.Errorf("--from: %w", err)
	}
	end := now.Truncate(24 * time.Hour)
	if to != "" {
		if end, err = time.Parse(time.DateOnly, to); err != nil {
			return domain.TimeRange{}, fmt.Errorf("--to: %w", err)
		}
	}
	r := domain.TimeRange{
		StartMs: start.UnixMilli(),
		EndMs:   end.Add(24*time.Hour).UnixMilli() - 1,
	}
	if !r.Valid() {
		return domain.TimeRange{}, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return r, nil
}

func writeReport(path string, res *pipeline.Result) error {
	data, err := codec.EncodeReport(res.History, res.Flags)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func startMetrics(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info().Str("addr", addr).Msg("starting metrics server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
