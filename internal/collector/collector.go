// Package collector fetches every registered adapter concurrently under one
// shared deadline.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"token-forensics/internal/domain"
	"token-forensics/internal/observability"
	"token-forensics/internal/source"
)

// Collector runs adapters in a bounded pool.
type Collector struct {
	adapters    []source.Adapter
	parallelism int
	timeout     time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

// Option configures Collector.
type Option func(*Collector)

// WithParallelism bounds concurrent fetches. Zero or less means one worker
// per adapter.
func WithParallelism(n int) Option {
	return func(c *Collector) {
		c.parallelism = n
	}
}

// WithTimeout sets the overall fetch deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Collector) {
		c.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Collector) {
		c.log = l
	}
}

// WithClock overrides the clock used to compute the deadline.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// New creates a collector over adapters. Results keep this order.
func New(adapters []source.Adapter, opts ...Option) *Collector {
	c := &Collector{
		adapters: adapters,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Adapters returns the registered adapters.
func (c *Collector) Adapters() []source.Adapter {
	return c.adapters
}

// Collect fetches asset over r from every adapter and returns one result
// per adapter. It never fails: adapter failures, deadline expiry and panics
// surface as FetchErrors in the corresponding result.
func (c *Collector) Collect(ctx context.Context, asset domain.Asset, r domain.TimeRange) []source.Result {
	results := make([]source.Result, len(c.adapters))
	if len(c.adapters) == 0 {
		return results
	}

	var deadline time.Time
	if c.timeout > 0 {
		deadline = c.now().Add(c.timeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	limit := c.parallelism
	if limit <= 0 || limit > len(c.adapters) {
		limit = len(c.adapters)
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, a := range c.adapters {
		i, a := i, a
		req := source.Request{Asset: asset, Range: r, Deadline: deadline}
		g.Go(func() error {
			start := time.Now()
			res := c.fetch(ctx, a, req)
			results[i] = res
			c.record(res, time.Since(start))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// fetch runs one adapter, converting a panic into an unreachable result.
func (c *Collector) fetch(ctx context.Context, a source.Adapter, req source.Request) (res source.Result) {
	id := a.Source()
	defer func() {
		if p := recover(); p != nil {
			res = source.Failed(id, source.Unreachable(fmt.Errorf("adapter panicked: %v", p)))
		}
	}()
	if err := ctx.Err(); err != nil {
		return source.Failed(id, source.AsFetchError(err))
	}
	res = a.Fetch(ctx, req)
	res.Source = id
	return res
}

func (c *Collector) record(res source.Result, elapsed time.Duration) {
	rs := res.Records
	status := res.CoverageStatus()
	observability.RecordFetch(string(res.Source), string(status),
		len(rs.Prices), len(rs.Liquidity), len(rs.Holders), len(rs.Events))

	ev := c.log.Info()
	if res.Err != nil {
		ev = c.log.Warn().Err(res.Err).Str("error_kind", string(res.Err.Kind))
	}
	ev.Str("source", string(res.Source)).
		Str("status", string(status)).
		Int("records", rs.Len()).
		Int("pages", res.Pages).
		Int("attempts", res.Attempts).
		Dur("elapsed", elapsed).
		Msg("source fetched")
}
