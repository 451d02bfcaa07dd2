// Package dexscreener reads current pair liquidity, price and listing dates
// from the DEX Screener aggregator.
package dexscreener

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"token-forensics/internal/domain"
	"token-forensics/internal/source"
)

// DefaultBaseURL is the public DEX Screener API.
const DefaultBaseURL = "https://api.dexscreener.com"

// Options configures the adapter.
type Options struct {
	BaseURL          string
	Retrier          *source.Retrier
	TransportOptions []source.TransportOption
	Logger           zerolog.Logger
	Clock            func() time.Time
}

// Adapter implements source.Adapter for the DEX aggregator.
// The aggregator only reports the present, so liquidity and price are
// observed at fetch time; pair creation dates become listing events.
type Adapter struct {
	baseURL   string
	retrier   *source.Retrier
	transport *source.Transport
	log       zerolog.Logger
	now       func() time.Time
}

// New creates a DEX Screener adapter.
func New(opts Options) *Adapter {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Retrier == nil {
		opts.Retrier = source.NewRetrier(0, 0, 0)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	tOpts := append([]source.TransportOption{source.WithLogger(opts.Logger)}, opts.TransportOptions...)
	return &Adapter{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		retrier:   opts.Retrier,
		transport: source.NewTransport("dexscreener", tOpts...),
		log:       opts.Logger,
		now:       opts.Clock,
	}
}

// Source implements source.Adapter.
func (a *Adapter) Source() domain.SourceID {
	return domain.SourceDEXAggregator
}

type tokensResponse struct {
	Pairs []pair `json:"pairs"`
}

type token struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

type pair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	PairAddress string `json:"pairAddress"`
	BaseToken   token  `json:"baseToken"`
	QuoteToken  token  `json:"quoteToken"`
	PriceUSD    string `json:"priceUsd"`
	Liquidity   *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PairCreatedAt int64 `json:"pairCreatedAt"`
}

// Fetch reads all pairs of the token on the asset's chain.
func (a *Adapter) Fetch(ctx context.Context, req source.Request) source.Result {
	res := source.Result{Source: a.Source()}
	u := a.baseURL + "/latest/dex/tokens/" + url.PathEscape(req.Asset.Address)

	var body tokensResponse
	attempts, ferr := a.retrier.Do(ctx, req.Deadline, func(ctx context.Context) error {
		body = tokensResponse{}
		return a.transport.GetJSON(ctx, u, &body)
	})
	res.Attempts = attempts
	if ferr != nil {
		res.Err = ferr
		return res
	}
	res.Pages = 1

	pairs := filterPairs(body.Pairs, req.Asset)
	if len(pairs) == 0 {
		res.Err = source.NotFound(fmt.Errorf("no %s pairs for %s", req.Asset.Chain, req.Asset.Address))
		return res
	}

	records, err := a.toRecords(pairs, req)
	if err != nil {
		res.Err = source.Malformed(err)
		return res
	}
	res.Records = records
	a.log.Debug().Int("pairs", len(pairs)).Int("events", len(records.Events)).Msg("pairs fetched")
	return res
}

// filterPairs keeps pairs on the asset's chain that contain the asset,
// ordered by pair address for deterministic output.
func filterPairs(all []pair, asset domain.Asset) []pair {
	var out []pair
	for _, p := range all {
		if p.ChainID != string(asset.Chain) || p.PairAddress == "" {
			continue
		}
		if !sameAddress(p.BaseToken.Address, asset) && !sameAddress(p.QuoteToken.Address, asset) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PairAddress < out[j].PairAddress })
	return out
}

func sameAddress(addr string, asset domain.Asset) bool {
	if asset.Chain.IsEVM() {
		return strings.EqualFold(addr, asset.Address)
	}
	return addr == asset.Address
}

func (a *Adapter) toRecords(pairs []pair, req source.Request) (domain.RecordSet, error) {
	var rs domain.RecordSet
	nowMs := a.now().UnixMilli()
	observeNow := req.Range.Contains(nowMs)

	var (
		bestLiquidity = decimal.NewFromInt(-1)
		bestPrice     decimal.Decimal
		volume        = decimal.Zero
		havePrice     bool
	)
	for _, p := range pairs {
		if p.PairCreatedAt > 0 && req.Range.Contains(p.PairCreatedAt) {
			rs.Events = append(rs.Events, domain.Event{
				TimestampMs: p.PairCreatedAt,
				Category:    domain.EventListing,
				Description: fmt.Sprintf("%s/%s pair created on %s (%s)", p.BaseToken.Symbol, p.QuoteToken.Symbol, p.DexID, p.PairAddress),
				Confidence:  domain.ConfidenceObserved,
				Source:      domain.SourceDEXAggregator,
				Reference:   p.PairAddress,
			})
		}
		if !observeNow {
			continue
		}

		liq := decimal.Zero
		if p.Liquidity != nil {
			liq = decimal.NewFromFloat(p.Liquidity.USD)
		}
		rs.Liquidity = append(rs.Liquidity, domain.LiquidityPoint{
			TimestampMs:  nowMs,
			PairID:       p.PairAddress,
			DexID:        p.DexID,
			LiquidityUSD: liq.InexactFloat64(),
			Source:       domain.SourceDEXAggregator,
		})

		// price quoted by DEX Screener is for the base token
		if !sameAddress(p.BaseToken.Address, req.Asset) || p.PriceUSD == "" {
			continue
		}
		price, err := decimal.NewFromString(p.PriceUSD)
		if err != nil {
			return domain.RecordSet{}, fmt.Errorf("pair %s priceUsd %q: %w", p.PairAddress, p.PriceUSD, err)
		}
		volume = volume.Add(decimal.NewFromFloat(p.Volume.H24))
		if liq.GreaterThan(bestLiquidity) {
			bestLiquidity = liq
			bestPrice = price
			havePrice = true
		}
	}

	if havePrice {
		v := volume.InexactFloat64()
		rs.Prices = append(rs.Prices, domain.PricePoint{
			TimestampMs: nowMs,
			PriceUSD:    bestPrice.InexactFloat64(),
			VolumeUSD:   &v,
			Source:      domain.SourceDEXAggregator,
		})
	}
	return rs, nil
}

var _ source.Adapter = (*Adapter)(nil)
