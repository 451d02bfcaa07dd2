// Package coingecko fetches price and volume history from the CoinGecko API.
package coingecko

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"token-forensics/internal/domain"
	"token-forensics/internal/source"
)

// Default configuration values.
const (
	DefaultBaseURL  = "https://api.coingecko.com/api/v3"
	DefaultPageDays = 90
	apiKeyHeader    = "x-cg-pro-api-key"
	dayMs           = int64(24 * time.Hour / time.Millisecond)
)

// platformIDs maps chains onto CoinGecko asset platform identifiers.
var platformIDs = map[domain.Chain]string{
	domain.ChainEthereum: "ethereum",
	domain.ChainPolygon:  "polygon-pos",
	domain.ChainBSC:      "binance-smart-chain",
	domain.ChainSolana:   "solana",
}

// Options configures the adapter.
type Options struct {
	BaseURL          string
	APIKey           string
	PageDays         int // days per market_chart/range request
	Retrier          *source.Retrier
	TransportOptions []source.TransportOption
	Logger           zerolog.Logger
}

// Adapter implements source.Adapter for the price API.
type Adapter struct {
	baseURL   string
	pageMs    int64
	retrier   *source.Retrier
	transport *source.Transport
	log       zerolog.Logger
}

// New creates a CoinGecko adapter.
func New(opts Options) *Adapter {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.PageDays <= 0 {
		opts.PageDays = DefaultPageDays
	}
	if opts.Retrier == nil {
		opts.Retrier = source.NewRetrier(0, 0, 0)
	}
	tOpts := append([]source.TransportOption{source.WithLogger(opts.Logger)}, opts.TransportOptions...)
	if opts.APIKey != "" {
		tOpts = append(tOpts, source.WithHeader(apiKeyHeader, opts.APIKey))
	}
	return &Adapter{
		baseURL:   opts.BaseURL,
		pageMs:    int64(opts.PageDays) * dayMs,
		retrier:   opts.Retrier,
		transport: source.NewTransport("coingecko", tOpts...),
		log:       opts.Logger,
	}
}

// Source implements source.Adapter.
func (a *Adapter) Source() domain.SourceID {
	return domain.SourcePriceAPI
}

// marketChart is the subset of the market_chart/range response consumed.
type marketChart struct {
	Prices       [][]float64 `json:"prices"`
	TotalVolumes [][]float64 `json:"total_volumes"`
}

// Fetch requests the range in consecutive windows, oldest first.
func (a *Adapter) Fetch(ctx context.Context, req source.Request) source.Result {
	res := source.Result{Source: a.Source()}
	path, err := a.chartPath(req.Asset)
	if err != nil {
		res.Err = source.NotFound(err)
		return res
	}
	if !req.Range.Valid() {
		res.Err = source.Malformed(fmt.Errorf("invalid range %d..%d", req.Range.StartMs, req.Range.EndMs))
		return res
	}

	for from := req.Range.StartMs; from <= req.Range.EndMs; from += a.pageMs {
		to := from + a.pageMs - 1
		if to > req.Range.EndMs {
			to = req.Range.EndMs
		}
		if a.retrier.Expired(req.Deadline) {
			res.Err = source.Timeout(fmt.Errorf("deadline reached before window starting %d", from))
			return res
		}

		u := a.pageURL(path, from, to)
		var chart marketChart
		attempts, ferr := a.retrier.Do(ctx, req.Deadline, func(ctx context.Context) error {
			chart = marketChart{}
			return a.transport.GetJSON(ctx, u, &chart)
		})
		res.Attempts += attempts
		if ferr != nil {
			a.log.Warn().Err(ferr).Int64("from", from).Msg("price window failed")
			res.Err = ferr
			return res
		}
		res.Pages++

		points, err := toPricePoints(chart, from, to)
		if err != nil {
			res.Err = source.Malformed(err)
			return res
		}
		res.Records.Prices = append(res.Records.Prices, points...)
	}

	a.log.Debug().Int("prices", len(res.Records.Prices)).Int("pages", res.Pages).Msg("price history fetched")
	return res
}

func (a *Adapter) chartPath(asset domain.Asset) (string, error) {
	if asset.CoinGeckoID != "" {
		return "/coins/" + url.PathEscape(asset.CoinGeckoID) + "/market_chart/range", nil
	}
	platform, ok := platformIDs[asset.Chain]
	if !ok {
		return "", fmt.Errorf("no coingecko platform for chain %q", asset.Chain)
	}
	return "/coins/" + platform + "/contract/" + url.PathEscape(asset.Address) + "/market_chart/range", nil
}

func (a *Adapter) pageURL(path string, fromMs, toMs int64) string {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("from", strconv.FormatInt(fromMs/1000, 10))
	// "to" is inclusive at second precision
	q.Set("to", strconv.FormatInt(toMs/1000, 10))
	return a.baseURL + path + "?" + q.Encode()
}

// toPricePoints joins prices and volumes by timestamp. Volumes without a
// matching price are dropped and prices without a matching volume carry a
// nil volume: a missing value must not read as zero.
func toPricePoints(chart marketChart, fromMs, toMs int64) ([]domain.PricePoint, error) {
	volumes := make(map[int64]float64, len(chart.TotalVolumes))
	for _, v := range chart.TotalVolumes {
		if len(v) != 2 {
			return nil, fmt.Errorf("total_volumes entry has %d fields", len(v))
		}
		volumes[int64(v[0])] = v[1]
	}

	points := make([]domain.PricePoint, 0, len(chart.Prices))
	for _, p := range chart.Prices {
		if len(p) != 2 {
			return nil, fmt.Errorf("prices entry has %d fields", len(p))
		}
		ts := int64(p[0])
		if ts < fromMs || ts > toMs {
			continue
		}
		point := domain.PricePoint{
			TimestampMs: ts,
			PriceUSD:    p[1],
			Source:      domain.SourcePriceAPI,
		}
		if v, ok := volumes[ts]; ok {
			point.VolumeUSD = &v
		}
		points = append(points, point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].TimestampMs < points[j].TimestampMs })
	return points, nil
}

var _ source.Adapter = (*Adapter)(nil)
