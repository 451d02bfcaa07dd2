// Package source defines the adapter contract every external data source
// implements, plus the retry, rate-limit and HTTP plumbing they share.
package source

import (
	"context"
	"time"

	"token-forensics/internal/domain"
)

// Adapter wraps one external data source.
// Fetch never panics on I/O failure; failures are reported in Result.Err.
type Adapter interface {
	Source() domain.SourceID
	Fetch(ctx context.Context, req Request) Result
}

// Request is one fetch for an asset over an inclusive time range.
type Request struct {
	Asset    domain.Asset
	Range    domain.TimeRange
	Deadline time.Time // zero = no shared deadline
}

// Result carries whatever the adapter collected. Records may be non-empty
// alongside Err when the fetch was cut short.
type Result struct {
	Source   domain.SourceID
	Records  domain.RecordSet
	Err      *FetchError
	Pages    int
	Attempts int
}

// Partial reports whether records were collected before a failure.
func (r Result) Partial() bool {
	return r.Err != nil && r.Records.Len() > 0
}

// CoverageStatus maps the result onto a history coverage status.
func (r Result) CoverageStatus() domain.CoverageStatus {
	switch {
	case r.Err == nil:
		return domain.CoverageComplete
	case r.Records.Len() > 0:
		return domain.CoveragePartial
	default:
		return domain.CoverageFailed
	}
}

// Failed builds a Result that carries only an error.
func Failed(id domain.SourceID, err *FetchError) Result {
	return Result{Source: id, Err: err}
}
