package evm

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"token-forensics/internal/source"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
const transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// totalSupplySelector is the ERC-20 totalSupply() function selector.
const totalSupplySelector = "0x18160ddd"

type blockHeader struct {
	Number    string `json:"number"`
	Timestamp string `json:"timestamp"`
}

type logEntry struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
	LogIndex        string   `json:"logIndex"`
	BlockTimestamp  string   `json:"blockTimestamp,omitempty"` // some providers include it
	Removed         bool     `json:"removed"`
}

// call runs one RPC method under the retrier and accumulates attempts.
func (f *fetch) call(ctx context.Context, method string, params []interface{}, out interface{}) *source.FetchError {
	attempts, ferr := f.adapter.retrier.Do(ctx, f.req.Deadline, func(ctx context.Context) error {
		return f.adapter.rpc.Call(ctx, method, params, out)
	})
	f.res.Attempts += attempts
	return ferr
}

func (f *fetch) blockNumber(ctx context.Context) (uint64, *source.FetchError) {
	var head string
	if ferr := f.call(ctx, "eth_blockNumber", nil, &head); ferr != nil {
		return 0, ferr
	}
	n, err := parseHexUint(head)
	if err != nil {
		return 0, source.Malformed(fmt.Errorf("eth_blockNumber: %w", err))
	}
	return n, nil
}

// blockTime returns the block timestamp in ms, memoized per fetch.
func (f *fetch) blockTime(ctx context.Context, n uint64) (int64, *source.FetchError) {
	if ts, ok := f.blockTimes[n]; ok {
		return ts, nil
	}
	var hdr *blockHeader
	if ferr := f.call(ctx, "eth_getBlockByNumber", []interface{}{toHex(n), false}, &hdr); ferr != nil {
		return 0, ferr
	}
	if hdr == nil {
		return 0, source.NotFound(fmt.Errorf("block %d", n))
	}
	secs, err := parseHexUint(hdr.Timestamp)
	if err != nil {
		return 0, source.Malformed(fmt.Errorf("block %d timestamp: %w", n, err))
	}
	ts := int64(secs) * 1000
	f.blockTimes[n] = ts
	return ts, nil
}

// firstBlockAtOrAfter binary-searches [0, head] for the first block whose
// timestamp is >= tsMs. Returns head+1 when no such block exists.
func (f *fetch) firstBlockAtOrAfter(ctx context.Context, tsMs int64, head uint64) (uint64, *source.FetchError) {
	headTs, ferr := f.blockTime(ctx, head)
	if ferr != nil {
		return 0, ferr
	}
	if headTs < tsMs {
		return head + 1, nil
	}
	lo, hi := uint64(0), head
	for lo < hi {
		mid := lo + (hi-lo)/2
		ts, ferr := f.blockTime(ctx, mid)
		if ferr != nil {
			return 0, ferr
		}
		if ts >= tsMs {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

func (f *fetch) getLogs(ctx context.Context, token string, from, to uint64) ([]logEntry, *source.FetchError) {
	filter := map[string]interface{}{
		"address":   token,
		"fromBlock": toHex(from),
		"toBlock":   toHex(to),
		"topics":    []interface{}{transferTopic},
	}
	var logs []logEntry
	if ferr := f.call(ctx, "eth_getLogs", []interface{}{filter}, &logs); ferr != nil {
		return nil, ferr
	}
	return logs, nil
}

// totalSupply calls totalSupply() at block n.
func (f *fetch) totalSupply(ctx context.Context, token string, n uint64) (*big.Int, *source.FetchError) {
	msg := map[string]interface{}{"to": token, "data": totalSupplySelector}
	var out string
	if ferr := f.call(ctx, "eth_call", []interface{}{msg, toHex(n)}, &out); ferr != nil {
		return nil, ferr
	}
	v, err := parseHexBig(out)
	if err != nil {
		return nil, source.Malformed(fmt.Errorf("totalSupply: %w", err))
	}
	return v, nil
}

// isContract reports whether addr has code, memoized per fetch. Lookup
// failures classify the holder as an account.
func (f *fetch) isContract(ctx context.Context, addr string) bool {
	if v, ok := f.contracts[addr]; ok {
		return v
	}
	var code string
	if ferr := f.call(ctx, "eth_getCode", []interface{}{addr, "latest"}, &code); ferr != nil {
		f.adapter.log.Debug().Err(ferr).Str("holder", addr).Msg("eth_getCode failed")
		return false
	}
	v := code != "" && code != "0x"
	f.contracts[addr] = v
	return v
}

func toHex(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

func parseHexUint(s string) (uint64, error) {
	raw := strings.TrimPrefix(s, "0x")
	if raw == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	return strconv.ParseUint(raw, 16, 64)
}

func parseHexBig(s string) (*big.Int, error) {
	raw := strings.TrimPrefix(s, "0x")
	if raw == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(raw, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex %q", s)
	}
	return v, nil
}
