// Package evm reconstructs holder distribution and on-chain events for an
// ERC-20 token from JSON-RPC transfer logs.
package evm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"token-forensics/internal/address"
	"token-forensics/internal/domain"
	"token-forensics/internal/jsonrpc"
	"token-forensics/internal/source"
)

// Default configuration values.
const (
	DefaultPageSize           = 2000 // blocks per eth_getLogs request
	DefaultTopHolders         = 20
	DefaultLargeTransferShare = 0.01
)

// Options configures the adapter.
type Options struct {
	Endpoint           string
	PageSize           int
	TopHolders         int
	LargeTransferShare float64
	// PairAddresses are liquidity pool contracts; transfers touching them
	// become liquidity_change events.
	PairAddresses    []string
	Retrier          *source.Retrier
	TransportOptions []source.TransportOption
	Logger           zerolog.Logger
}

// Adapter implements source.Adapter for EVM chains.
type Adapter struct {
	rpc        *jsonrpc.Client
	retrier    *source.Retrier
	pageSize   uint64
	topHolders int
	largeShare decimal.Decimal
	pairs      map[string]bool
	log        zerolog.Logger
}

// New creates an EVM adapter. Invalid pair addresses are returned as an error.
func New(opts Options) (*Adapter, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("evm: endpoint required")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.TopHolders <= 0 {
		opts.TopHolders = DefaultTopHolders
	}
	if opts.LargeTransferShare <= 0 {
		opts.LargeTransferShare = DefaultLargeTransferShare
	}
	if opts.Retrier == nil {
		opts.Retrier = source.NewRetrier(0, 0, 0)
	}

	pairs := make(map[string]bool, len(opts.PairAddresses))
	for _, p := range opts.PairAddresses {
		canonical, err := address.ChecksumEVM(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("evm: pair address: %w", err)
		}
		pairs[canonical] = true
	}

	tOpts := append([]source.TransportOption{source.WithLogger(opts.Logger)}, opts.TransportOptions...)
	transport := source.NewTransport("evm", tOpts...)
	return &Adapter{
		rpc: jsonrpc.NewClient(opts.Endpoint, transport,
			jsonrpc.WithCacheableMethods("eth_getLogs", "eth_getBlockByNumber", "eth_call")),
		retrier:    opts.Retrier,
		pageSize:   uint64(opts.PageSize),
		topHolders: opts.TopHolders,
		largeShare: decimal.NewFromFloat(opts.LargeTransferShare),
		pairs:      pairs,
		log:        opts.Logger,
	}, nil
}

// Source implements source.Adapter.
func (a *Adapter) Source() domain.SourceID {
	return domain.SourceOnChainRPC
}

// Fetch resolves the range to blocks, pages through Transfer logs and
// replays them into holder snapshots and events. A failure mid-way returns
// the records replayed from the pages that completed.
func (a *Adapter) Fetch(ctx context.Context, req source.Request) source.Result {
	f := &fetch{
		adapter:    a,
		req:        req,
		res:        source.Result{Source: a.Source()},
		blockTimes: make(map[uint64]int64),
		contracts:  make(map[string]bool),
	}
	if !req.Asset.Chain.IsEVM() {
		f.res.Err = source.NotFound(fmt.Errorf("chain %q is not an EVM chain", req.Asset.Chain))
		return f.res
	}
	if !req.Range.Valid() {
		f.res.Err = source.Malformed(fmt.Errorf("invalid range %d..%d", req.Range.StartMs, req.Range.EndMs))
		return f.res
	}
	f.run(ctx)
	a.log.Debug().
		Int("holders", len(f.res.Records.Holders)).
		Int("events", len(f.res.Records.Events)).
		Int("pages", f.res.Pages).
		Msg("transfer logs replayed")
	return f.res
}

var _ source.Adapter = (*Adapter)(nil)
