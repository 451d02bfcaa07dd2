// Package solana reads holder distribution and first activity of an SPL
// token mint over Solana JSON-RPC.
package solana

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"token-forensics/internal/address"
	"token-forensics/internal/domain"
	"token-forensics/internal/jsonrpc"
	"token-forensics/internal/source"
)

// Default configuration values.
const (
	DefaultTopHolders = 20
	DefaultPageSize   = 1000 // getSignaturesForAddress limit
	DefaultMaxPages   = 50
)

// Options configures the adapter.
type Options struct {
	Endpoint   string
	TopHolders int
	PageSize   int
	// MaxPages caps the backwards signature walk used to find the mint's
	// first activity. A walk that hits the cap emits no launch event.
	MaxPages         int
	Retrier          *source.Retrier
	TransportOptions []source.TransportOption
	Logger           zerolog.Logger
	Clock            func() time.Time
}

// Adapter implements source.Adapter for SPL tokens.
type Adapter struct {
	rpc        *jsonrpc.Client
	retrier    *source.Retrier
	topHolders int
	pageSize   int
	maxPages   int
	log        zerolog.Logger
	now        func() time.Time
}

// New creates a Solana adapter.
func New(opts Options) (*Adapter, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("solana: endpoint required")
	}
	if opts.TopHolders <= 0 {
		opts.TopHolders = DefaultTopHolders
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.Retrier == nil {
		opts.Retrier = source.NewRetrier(0, 0, 0)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	tOpts := append([]source.TransportOption{source.WithLogger(opts.Logger)}, opts.TransportOptions...)
	return &Adapter{
		rpc:        jsonrpc.NewClient(opts.Endpoint, source.NewTransport("solana", tOpts...)),
		retrier:    opts.Retrier,
		topHolders: opts.TopHolders,
		pageSize:   opts.PageSize,
		maxPages:   opts.MaxPages,
		log:        opts.Logger,
		now:        opts.Clock,
	}, nil
}

// Source implements source.Adapter.
func (a *Adapter) Source() domain.SourceID {
	return domain.SourceOnChainRPC
}

// Fetch takes a holder snapshot when the fetch time falls inside the range,
// then walks the mint's signatures backwards to find its first activity.
func (a *Adapter) Fetch(ctx context.Context, req source.Request) source.Result {
	f := &fetch{adapter: a, req: req, res: source.Result{Source: a.Source()}}
	if req.Asset.Chain != domain.ChainSolana {
		f.res.Err = source.NotFound(fmt.Errorf("chain %q is not solana", req.Asset.Chain))
		return f.res
	}
	if !req.Range.Valid() {
		f.res.Err = source.Malformed(fmt.Errorf("invalid range %d..%d", req.Range.StartMs, req.Range.EndMs))
		return f.res
	}

	now := a.now().UnixMilli()
	if req.Range.Contains(now) {
		if ferr := f.snapshot(ctx, now); ferr != nil {
			f.res.Err = ferr
			return f.res
		}
	}
	if ferr := f.launch(ctx); ferr != nil {
		f.res.Err = ferr
	}
	a.log.Debug().
		Int("holders", len(f.res.Records.Holders)).
		Int("events", len(f.res.Records.Events)).
		Int("pages", f.res.Pages).
		Msg("mint scanned")
	return f.res
}

var _ source.Adapter = (*Adapter)(nil)

type fetch struct {
	adapter *Adapter
	req     source.Request
	res     source.Result
}

func (f *fetch) call(ctx context.Context, method string, params []interface{}, out interface{}) *source.FetchError {
	attempts, ferr := f.adapter.retrier.Do(ctx, f.req.Deadline, func(ctx context.Context) error {
		return f.adapter.rpc.Call(ctx, method, params, out)
	})
	f.res.Attempts += attempts
	return ferr
}

type tokenAmount struct {
	Amount   string `json:"amount"`
	Decimals int    `json:"decimals"`
}

type supplyResult struct {
	Value tokenAmount `json:"value"`
}

type largestResult struct {
	Value []struct {
		Address string `json:"address"`
		Amount  string `json:"amount"`
	} `json:"value"`
}

type accountsResult struct {
	Value []*struct {
		Data struct {
			Parsed struct {
				Info struct {
					Owner string `json:"owner"`
					Mint  string `json:"mint"`
				} `json:"info"`
			} `json:"parsed"`
		} `json:"data"`
	} `json:"value"`
}

// snapshot records the largest holders aggregated per owner wallet.
func (f *fetch) snapshot(ctx context.Context, ts int64) *source.FetchError {
	mint := f.req.Asset.Address

	var supply supplyResult
	if ferr := f.call(ctx, "getTokenSupply", []interface{}{mint}, &supply); ferr != nil {
		return ferr
	}
	total, err := decimal.NewFromString(supply.Value.Amount)
	if err != nil {
		return source.Malformed(fmt.Errorf("getTokenSupply amount: %w", err))
	}
	if total.Sign() <= 0 {
		return nil
	}

	var largest largestResult
	if ferr := f.call(ctx, "getTokenLargestAccounts", []interface{}{mint}, &largest); ferr != nil {
		return ferr
	}
	if len(largest.Value) == 0 {
		return nil
	}
	keys := make([]string, len(largest.Value))
	for i, acc := range largest.Value {
		keys[i] = acc.Address
	}

	var accounts accountsResult
	params := []interface{}{keys, map[string]interface{}{"encoding": "jsonParsed"}}
	if ferr := f.call(ctx, "getMultipleAccounts", params, &accounts); ferr != nil {
		return ferr
	}
	if len(accounts.Value) != len(keys) {
		return source.Malformed(fmt.Errorf("getMultipleAccounts returned %d accounts for %d keys", len(accounts.Value), len(keys)))
	}

	byOwner := make(map[string]decimal.Decimal)
	for i, acc := range largest.Value {
		amount, err := decimal.NewFromString(acc.Amount)
		if err != nil {
			return source.Malformed(fmt.Errorf("token account %s amount: %w", acc.Address, err))
		}
		// closed accounts have no owner; attribute to the token account itself
		owner := acc.Address
		if v := accounts.Value[i]; v != nil && v.Data.Parsed.Info.Owner != "" {
			owner = v.Data.Parsed.Info.Owner
		}
		if canonical, err := address.CanonicalSolana(owner); err == nil {
			owner = canonical
		}
		byOwner[owner] = byOwner[owner].Add(amount)
	}

	type holder struct {
		owner string
		bal   decimal.Decimal
	}
	holders := make([]holder, 0, len(byOwner))
	for owner, bal := range byOwner {
		if bal.Sign() > 0 {
			holders = append(holders, holder{owner, bal})
		}
	}
	sort.Slice(holders, func(i, j int) bool {
		if c := holders[i].bal.Cmp(holders[j].bal); c != 0 {
			return c > 0
		}
		return holders[i].owner < holders[j].owner
	})
	if len(holders) > f.adapter.topHolders {
		holders = holders[:f.adapter.topHolders]
	}

	decimals := int32(supply.Value.Decimals)
	for _, h := range holders {
		f.res.Records.Holders = append(f.res.Records.Holders, domain.HolderSnapshot{
			TimestampMs:   ts,
			Address:       h.owner,
			Balance:       h.bal.Shift(-decimals).InexactFloat64(),
			ShareOfSupply: h.bal.Div(total).InexactFloat64(),
			ProgramOwned:  !address.IsOnCurve(h.owner),
			Source:        domain.SourceOnChainRPC,
		})
	}
	f.res.Pages++
	return nil
}

type signature struct {
	Signature string      `json:"signature"`
	Slot      int64       `json:"slot"`
	BlockTime *int64      `json:"blockTime"`
	Err       interface{} `json:"err"`
}

// launch walks signatures newest to oldest. The oldest one is the mint's
// first activity; it becomes a launch event when it lies inside the range.
func (f *fetch) launch(ctx context.Context) *source.FetchError {
	mint := f.req.Asset.Address
	var (
		before string
		oldest *signature
	)
	for page := 0; page < f.adapter.maxPages; page++ {
		if f.adapter.retrier.Expired(f.req.Deadline) {
			return source.Timeout(fmt.Errorf("deadline reached after %d signature pages", page))
		}
		opts := map[string]interface{}{"limit": f.adapter.pageSize}
		if before != "" {
			opts["before"] = before
		}
		var sigs []signature
		if ferr := f.call(ctx, "getSignaturesForAddress", []interface{}{mint, opts}, &sigs); ferr != nil {
			return ferr
		}
		f.res.Pages++
		if len(sigs) > 0 {
			last := sigs[len(sigs)-1]
			oldest = &last
			before = last.Signature
			// history reaches back past the range; the launch is not in it
			if last.BlockTime != nil && *last.BlockTime*1000 < f.req.Range.StartMs {
				return nil
			}
		}
		if len(sigs) < f.adapter.pageSize {
			f.emitLaunch(oldest)
			return nil
		}
	}
	f.adapter.log.Debug().Int("max_pages", f.adapter.maxPages).Msg("signature walk capped; launch not located")
	return nil
}

func (f *fetch) emitLaunch(sig *signature) {
	if sig == nil || sig.BlockTime == nil {
		return
	}
	ts := *sig.BlockTime * 1000
	if !f.req.Range.Contains(ts) {
		return
	}
	f.res.Records.Events = append(f.res.Records.Events, domain.Event{
		TimestampMs: ts,
		Category:    domain.EventLaunch,
		Description: fmt.Sprintf("first activity on mint %s at slot %d", f.req.Asset.Address, sig.Slot),
		Confidence:  domain.ConfidenceObserved,
		Source:      domain.SourceOnChainRPC,
		Reference:   sig.Signature,
	})
}
