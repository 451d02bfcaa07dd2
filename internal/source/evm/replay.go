package evm

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"token-forensics/internal/address"
	"token-forensics/internal/domain"
	"token-forensics/internal/source"
)

const dayMs = int64(86_400_000)

// transfer is one decoded ERC-20 Transfer log.
type transfer struct {
	block    uint64
	logIndex uint64
	ts       int64
	tx       string
	from     string
	to       string
	amount   *big.Int
}

// fetch holds the state of one Fetch call.
type fetch struct {
	adapter    *Adapter
	req        source.Request
	res        source.Result
	blockTimes map[uint64]int64
	contracts  map[string]bool
}

func (f *fetch) run(ctx context.Context) {
	token := f.req.Asset.Address

	head, ferr := f.blockNumber(ctx)
	if ferr != nil {
		f.res.Err = ferr
		return
	}
	startBlock, ferr := f.firstBlockAtOrAfter(ctx, f.req.Range.StartMs, head)
	if ferr != nil {
		f.res.Err = ferr
		return
	}
	afterEnd, ferr := f.firstBlockAtOrAfter(ctx, f.req.Range.EndMs+1, head)
	if ferr != nil {
		f.res.Err = ferr
		return
	}
	if afterEnd == 0 || startBlock > afterEnd-1 {
		return
	}
	endBlock := afterEnd - 1

	var transfers []transfer
	for from := startBlock; from <= endBlock; from += f.adapter.pageSize {
		to := from + f.adapter.pageSize - 1
		if to > endBlock {
			to = endBlock
		}
		if f.adapter.retrier.Expired(f.req.Deadline) {
			f.res.Err = source.Timeout(fmt.Errorf("deadline reached before block %d", from))
			break
		}
		page, ferr := f.transferPage(ctx, token, from, to)
		if ferr != nil {
			f.res.Err = ferr
			break
		}
		transfers = append(transfers, page...)
		f.res.Pages++
	}

	supplyErr := f.replay(ctx, token, transfers)
	if f.res.Err == nil {
		f.res.Err = supplyErr
	}
}

// transferPage fetches one block window and resolves log timestamps. The
// page is all-or-nothing so partial results never hold untimed transfers.
func (f *fetch) transferPage(ctx context.Context, token string, from, to uint64) ([]transfer, *source.FetchError) {
	logs, ferr := f.getLogs(ctx, token, from, to)
	if ferr != nil {
		return nil, ferr
	}
	out := make([]transfer, 0, len(logs))
	for _, l := range logs {
		// ERC-721 transfers carry a fourth indexed topic; skip them.
		if l.Removed || len(l.Topics) != 3 || l.Topics[0] != transferTopic {
			continue
		}
		t, err := decodeTransfer(l)
		if err != nil {
			return nil, source.Malformed(err)
		}
		if l.BlockTimestamp != "" {
			secs, err := parseHexUint(l.BlockTimestamp)
			if err != nil {
				return nil, source.Malformed(fmt.Errorf("log blockTimestamp: %w", err))
			}
			t.ts = int64(secs) * 1000
			f.blockTimes[t.block] = t.ts
		} else {
			ts, ferr := f.blockTime(ctx, t.block)
			if ferr != nil {
				return nil, ferr
			}
			t.ts = ts
		}
		out = append(out, t)
	}
	return out, nil
}

func decodeTransfer(l logEntry) (transfer, error) {
	block, err := parseHexUint(l.BlockNumber)
	if err != nil {
		return transfer{}, fmt.Errorf("log blockNumber: %w", err)
	}
	idx, err := parseHexUint(l.LogIndex)
	if err != nil {
		return transfer{}, fmt.Errorf("log logIndex: %w", err)
	}
	from, err := address.EVMFromTopic(l.Topics[1])
	if err != nil {
		return transfer{}, err
	}
	to, err := address.EVMFromTopic(l.Topics[2])
	if err != nil {
		return transfer{}, err
	}
	amount, err := parseHexBig(l.Data)
	if err != nil {
		return transfer{}, fmt.Errorf("log data: %w", err)
	}
	return transfer{
		block:    block,
		logIndex: idx,
		tx:       l.TransactionHash,
		from:     from,
		to:       to,
		amount:   amount,
	}, nil
}

// replay applies transfers in chain order and closes every UTC day that saw
// activity with a holder snapshot. Balances start at zero at the range
// start, so ranges should begin at or before deployment for a complete
// holder picture.
func (f *fetch) replay(ctx context.Context, token string, transfers []transfer) *source.FetchError {
	if len(transfers) == 0 {
		return nil
	}
	sort.Slice(transfers, func(i, j int) bool {
		if transfers[i].block != transfers[j].block {
			return transfers[i].block < transfers[j].block
		}
		return transfers[i].logIndex < transfers[j].logIndex
	})

	balances := make(map[string]*big.Int)
	launched := false
	day := domain.FloorMs(transfers[0].ts, dayMs)
	var pending []transfer // this day's transfers, sized against the day's supply

	for i, t := range transfers {
		if d := domain.FloorMs(t.ts, dayMs); d != day {
			if ferr := f.closeDay(ctx, token, balances, day, transfers[i-1].block, pending); ferr != nil {
				return ferr
			}
			day, pending = d, pending[:0]
		}

		if t.from != address.ZeroEVM {
			bal := balance(balances, t.from)
			bal.Sub(bal, t.amount)
			if bal.Sign() < 0 {
				// sender funded before the range start
				bal.SetInt64(0)
			}
		}
		if t.to != address.ZeroEVM {
			bal := balance(balances, t.to)
			bal.Add(bal, t.amount)
		}

		if t.from == address.ZeroEVM && !launched {
			launched = true
			f.addEvent(t, domain.EventLaunch, fmt.Sprintf("first mint of %s tokens to %s", f.amount(t), t.to))
		}
		if f.adapter.pairs[t.to] {
			f.addEvent(t, domain.EventLiquidityChange, fmt.Sprintf("%s tokens moved into pair %s from %s", f.amount(t), t.to, t.from))
		}
		if f.adapter.pairs[t.from] {
			f.addEvent(t, domain.EventLiquidityChange, fmt.Sprintf("%s tokens moved out of pair %s to %s", f.amount(t), t.from, t.to))
		}
		pending = append(pending, t)
	}
	return f.closeDay(ctx, token, balances, day, transfers[len(transfers)-1].block, pending)
}

func balance(m map[string]*big.Int, addr string) *big.Int {
	b, ok := m[addr]
	if !ok {
		b = new(big.Int)
		m[addr] = b
	}
	return b
}

func (f *fetch) amount(t transfer) string {
	return decimal.NewFromBigInt(t.amount, -int32(f.req.Asset.Decimals)).String()
}

func (f *fetch) addEvent(t transfer, cat domain.EventCategory, desc string) {
	f.res.Records.Events = append(f.res.Records.Events, domain.Event{
		TimestampMs: t.ts,
		Category:    cat,
		Description: desc,
		Confidence:  domain.ConfidenceObserved,
		Source:      domain.SourceOnChainRPC,
		Reference:   t.tx,
	})
}

// closeDay reads totalSupply at the day's last block, flags the day's large
// transfers against it and records the top holders.
func (f *fetch) closeDay(ctx context.Context, token string, balances map[string]*big.Int, day int64, block uint64, transfers []transfer) *source.FetchError {
	supply, ferr := f.totalSupply(ctx, token, block)
	if ferr != nil {
		return ferr
	}
	if supply.Sign() == 0 {
		return nil
	}
	total := decimal.NewFromBigInt(supply, 0)

	for _, t := range transfers {
		if t.from == address.ZeroEVM || t.to == address.ZeroEVM {
			continue
		}
		share := decimal.NewFromBigInt(t.amount, 0).Div(total)
		if share.GreaterThanOrEqual(f.adapter.largeShare) {
			f.addEvent(t, domain.EventLargeTransfer, fmt.Sprintf("%s tokens (%s%% of supply) from %s to %s",
				f.amount(t), share.Mul(decimal.NewFromInt(100)).StringFixed(2), t.from, t.to))
		}
	}

	type holder struct {
		addr string
		bal  *big.Int
	}
	holders := make([]holder, 0, len(balances))
	for addr, bal := range balances {
		if bal.Sign() > 0 {
			holders = append(holders, holder{addr, bal})
		}
	}
	sort.Slice(holders, func(i, j int) bool {
		if c := holders[i].bal.Cmp(holders[j].bal); c != 0 {
			return c > 0
		}
		return holders[i].addr < holders[j].addr
	})
	if len(holders) > f.adapter.topHolders {
		holders = holders[:f.adapter.topHolders]
	}

	ts := day + dayMs - 1
	if ts > f.req.Range.EndMs {
		ts = f.req.Range.EndMs
	}
	decimals := int32(f.req.Asset.Decimals)
	for _, h := range holders {
		f.res.Records.Holders = append(f.res.Records.Holders, domain.HolderSnapshot{
			TimestampMs:   ts,
			Address:       h.addr,
			Balance:       decimal.NewFromBigInt(h.bal, -decimals).InexactFloat64(),
			ShareOfSupply: decimal.NewFromBigInt(h.bal, 0).Div(total).InexactFloat64(),
			ProgramOwned:  f.isContract(ctx, h.addr),
			Source:        domain.SourceOnChainRPC,
		})
	}
	return nil
}
