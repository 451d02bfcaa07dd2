// Package jsonrpc is a JSON-RPC 2.0 client over source.Transport, shared by
// the EVM and Solana adapters.
package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"token-forensics/internal/cache"
	"token-forensics/internal/observability"
	"token-forensics/internal/source"
)

// Client performs single JSON-RPC calls. Retries belong to the caller's
// source.Retrier so the shared deadline is honored between attempts.
type Client struct {
	endpoint  string
	transport *source.Transport
	cacheable map[string]bool
	requestID atomic.Uint64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithCacheableMethods marks methods whose results are immutable for given
// params (historical logs, finalized blocks) so responses may be cached.
func WithCacheableMethods(methods ...string) ClientOption {
	return func(c *Client) {
		for _, m := range methods {
			c.cacheable[m] = true
		}
	}
}

// NewClient creates a JSON-RPC client for endpoint.
func NewClient(endpoint string, transport *source.Transport, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:  endpoint,
		transport: transport,
		cacheable: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Call invokes method and decodes the result into result.
// Every failure is a *source.FetchError.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return source.Malformed(fmt.Errorf("marshal request: %w", err))
	}

	call := source.Call{Method: http.MethodPost, URL: c.endpoint, Body: body}
	if c.cacheable[method] {
		// request IDs vary per call; key on method and params only
		identity, _ := json.Marshal(params)
		call.CacheKey = cache.Key("rpc", c.endpoint+"|"+method+"|"+string(identity))
	}

	start := time.Now()
	respBody, err := c.transport.Do(ctx, call)
	observability.RecordRPCLatency(method, time.Since(start).Seconds())
	if err != nil {
		return err
	}

	var resp rpcResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return source.Malformed(fmt.Errorf("unmarshal %s response: %w", method, err))
	}
	if resp.Error != nil {
		return classify(method, resp.Error)
	}
	if result != nil {
		if len(resp.Result) == 0 {
			return source.Malformed(fmt.Errorf("%s: empty result", method))
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return source.Malformed(fmt.Errorf("unmarshal %s result: %w", method, err))
		}
	}
	return nil
}

// classify maps a JSON-RPC error object onto the fetch error taxonomy.
func classify(method string, e *Error) *source.FetchError {
	cause := fmt.Errorf("%s: %w", method, e)
	msg := strings.ToLower(e.Message)
	switch {
	case e.Code == 429 || e.Code == -32005 || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return source.RateLimited(0, cause)
	case strings.Contains(msg, "not found") || strings.Contains(msg, "could not find"):
		return source.NotFound(cause)
	case e.Code == -32603 || (e.Code <= -32000 && e.Code >= -32099):
		return source.Unreachable(cause)
	default:
		return source.Malformed(cause)
	}
}
