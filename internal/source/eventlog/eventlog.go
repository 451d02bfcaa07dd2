// Package eventlog serves a curated YAML timeline of off-chain events such
// as team announcements, exchange listings and social posts.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"token-forensics/internal/domain"
	"token-forensics/internal/source"
)

// File is the on-disk document.
type File struct {
	// Asset optionally pins the file to one asset key ("chain:address").
	Asset  string  `yaml:"asset"`
	Events []Entry `yaml:"events"`
}

// Entry is one curated event.
type Entry struct {
	Date        string `yaml:"date"` // 2006-01-02 or RFC 3339
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
	Reference   string `yaml:"reference"`
	// Tx is an on-chain transaction backing the entry; its presence makes
	// the event observed rather than asserted.
	Tx         string `yaml:"tx"`
	Confidence string `yaml:"confidence"`
}

// Adapter implements source.Adapter over a curated event file.
type Adapter struct {
	path string
	log  zerolog.Logger
}

// New creates an event log adapter reading path on every fetch.
func New(path string, log zerolog.Logger) *Adapter {
	return &Adapter{path: path, log: log}
}

// Source implements source.Adapter.
func (a *Adapter) Source() domain.SourceID {
	return domain.SourceEventLog
}

// Fetch parses the file and returns the events inside the range.
func (a *Adapter) Fetch(ctx context.Context, req source.Request) source.Result {
	res := source.Result{Source: a.Source(), Attempts: 1}
	if err := ctx.Err(); err != nil {
		res.Err = source.Timeout(err)
		return res
	}

	data, err := os.ReadFile(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		res.Err = source.NotFound(err)
		return res
	}
	if err != nil {
		res.Err = source.Unreachable(err)
		return res
	}
	res.Pages = 1

	events, err := Parse(data, req.Asset)
	if err != nil {
		var fe *source.FetchError
		if errors.As(err, &fe) {
			res.Err = fe
		} else {
			res.Err = source.Malformed(err)
		}
		return res
	}
	for _, ev := range events {
		if req.Range.Contains(ev.TimestampMs) {
			res.Records.Events = append(res.Records.Events, ev)
		}
	}
	a.log.Debug().Int("events", len(res.Records.Events)).Str("file", a.path).Msg("event log read")
	return res
}

// Parse decodes a curated event document for asset.
func Parse(data []byte, asset domain.Asset) ([]domain.Event, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse event log: %w", err)
	}
	if f.Asset != "" && !strings.EqualFold(f.Asset, asset.Key()) {
		return nil, source.NotFound(fmt.Errorf("event log is for %s, not %s", f.Asset, asset.Key()))
	}

	events := make([]domain.Event, 0, len(f.Events))
	for i, e := range f.Events {
		ev, err := e.toEvent()
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].TimestampMs < events[j].TimestampMs })
	return events, nil
}

func (e Entry) toEvent() (domain.Event, error) {
	ts, err := parseDate(e.Date)
	if err != nil {
		return domain.Event{}, err
	}
	cat := domain.EventCategory(strings.ToLower(strings.TrimSpace(e.Category)))
	if !cat.IsValid() {
		return domain.Event{}, fmt.Errorf("unknown category %q", e.Category)
	}

	conf := domain.ConfidenceAsserted
	ref := e.Reference
	if e.Tx != "" {
		conf = domain.ConfidenceObserved
		ref = e.Tx
	}
	if e.Confidence != "" {
		conf = domain.Confidence(e.Confidence)
		if conf.Rank() == 0 {
			return domain.Event{}, fmt.Errorf("unknown confidence %q", e.Confidence)
		}
	}

	return domain.Event{
		TimestampMs: ts,
		Category:    cat,
		Description: strings.TrimSpace(e.Description),
		Confidence:  conf,
		Source:      domain.SourceEventLog,
		Reference:   ref,
	}, nil
}

func parseDate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UnixMilli(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q", s)
	}
	return t.UnixMilli(), nil
}

var _ source.Adapter = (*Adapter)(nil)
