// Package stub provides a fixed in-memory adapter for tests and fixtures.
package stub

import (
	"context"
	"time"

	"token-forensics/internal/domain"
	"token-forensics/internal/source"
)

// Adapter returns fixed records filtered to the requested range.
// Implements source.Adapter.
type Adapter struct {
	id      domain.SourceID
	records domain.RecordSet
	err     *source.FetchError
	delay   time.Duration
	panics  bool
}

// New creates a stub adapter for id returning records.
func New(id domain.SourceID, records domain.RecordSet) *Adapter {
	return &Adapter{id: id, records: records}
}

// WithError makes every fetch end with err after the records.
func (a *Adapter) WithError(err *source.FetchError) *Adapter {
	a.err = err
	return a
}

// WithDelay blocks each fetch for d or until the context ends.
func (a *Adapter) WithDelay(d time.Duration) *Adapter {
	a.delay = d
	return a
}

// WithPanic makes Fetch panic, for exercising collector recovery.
func (a *Adapter) WithPanic() *Adapter {
	a.panics = true
	return a
}

// Source implements source.Adapter.
func (a *Adapter) Source() domain.SourceID {
	return a.id
}

// Fetch returns copies of the records inside req.Range.
func (a *Adapter) Fetch(ctx context.Context, req source.Request) source.Result {
	if a.panics {
		panic("stub adapter panic")
	}
	if a.delay > 0 {
		t := time.NewTimer(a.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return source.Failed(a.id, source.Timeout(ctx.Err()))
		case <-t.C:
		}
	}

	var out domain.RecordSet
	for _, p := range a.records.Prices {
		if req.Range.Contains(p.TimestampMs) {
			p.Source = a.id
			out.Prices = append(out.Prices, p)
		}
	}
	for _, l := range a.records.Liquidity {
		if req.Range.Contains(l.TimestampMs) {
			l.Source = a.id
			out.Liquidity = append(out.Liquidity, l)
		}
	}
	for _, h := range a.records.Holders {
		if req.Range.Contains(h.TimestampMs) {
			h.Source = a.id
			out.Holders = append(out.Holders, h)
		}
	}
	for _, e := range a.records.Events {
		if req.Range.Contains(e.TimestampMs) {
			e.Source = a.id
			out.Events = append(out.Events, e)
		}
	}
	return source.Result{Source: a.id, Records: out, Err: a.err, Pages: 1, Attempts: 1}
}

var _ source.Adapter = (*Adapter)(nil)
