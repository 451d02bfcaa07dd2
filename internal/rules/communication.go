package rules

import (
	"fmt"
	"time"

	"token-forensics/internal/domain"
)

// CommunicationBlackout fires warning for every silence longer than MaxGapMs
// between communication events, and for a silence running from the last
// one to the end of the history. A history without communication events is
// insufficient data, not a blackout.
type CommunicationBlackout struct {
	MaxGapMs      int64
	MinConfidence domain.Confidence
}

// Name implements Detector.
func (CommunicationBlackout) Name() string { return string(domain.FlagCommunicationBlackout) }

type commEvent struct {
	ts       int64
	bucket   int
	asserted bool
}

// Detect implements Detector.
func (d CommunicationBlackout) Detect(h *domain.AssetHistory) []domain.RedFlag {
	var comms []commEvent
	for i := range h.Buckets {
		for _, e := range h.Buckets[i].Events {
			conf := e.Confidence.OrAsserted()
			if e.Category != domain.EventCommunication || conf.Rank() < d.MinConfidence.Rank() {
				continue
			}
			comms = append(comms, commEvent{ts: e.TimestampMs, bucket: i, asserted: conf != domain.ConfidenceObserved})
		}
	}
	if len(comms) == 0 {
		return nil
	}

	var flags []domain.RedFlag
	for k := 1; k < len(comms); k++ {
		a, b := comms[k-1], comms[k]
		if b.ts-a.ts <= d.MaxGapMs {
			continue
		}
		evidence := []domain.BucketRef{h.Ref(a.bucket)}
		if b.bucket != a.bucket {
			evidence = append(evidence, h.Ref(b.bucket))
		}
		flags = append(flags, d.flag(domain.FlagRange{StartMs: a.ts + d.MaxGapMs, EndMs: b.ts}, evidence,
			fmt.Sprintf("no communication for %s between events", days(b.ts-a.ts)), a.asserted || b.asserted))
	}

	last := comms[len(comms)-1]
	if end := h.EndMs(); end > last.ts+d.MaxGapMs {
		flags = append(flags, d.flag(domain.FlagRange{StartMs: last.ts + d.MaxGapMs, EndMs: end}, []domain.BucketRef{h.Ref(last.bucket)},
			fmt.Sprintf("no communication for %s since the last event", days(end-last.ts)), last.asserted))
	}
	return flags
}

func (d CommunicationBlackout) flag(tr domain.FlagRange, evidence []domain.BucketRef, rationale string, asserted bool) domain.RedFlag {
	rationale += fmt.Sprintf(" (limit %s)", days(d.MaxGapMs))
	if asserted {
		rationale += "; bounded by asserted events"
	}
	return domain.RedFlag{
		Category:  domain.FlagCommunicationBlackout,
		Severity:  domain.SeverityWarning,
		TimeRange: tr,
		Evidence:  evidence,
		Rationale: rationale,
	}
}

func days(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%.1f days", d.Hours()/24)
}
