// Package codec encodes histories and flags for collaborators (report
// assemblers, stores) as canonical JSON.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"token-forensics/internal/domain"
)

// ErrInvalidHistory is returned when a decoded history breaks bucket ordering.
var ErrInvalidHistory = errors.New("invalid history")

// EncodeHistory returns the canonical JSON form of h. Equal histories encode
// to identical bytes.
func EncodeHistory(h *domain.AssetHistory) ([]byte, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: nil", ErrInvalidHistory)
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return data, nil
}

// DecodeHistory parses data and checks that buckets are strictly increasing.
func DecodeHistory(data []byte) (*domain.AssetHistory, error) {
	var h domain.AssetHistory
	if err := strictUnmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	for i := 1; i < len(h.Buckets); i++ {
		if h.Buckets[i].StartMs <= h.Buckets[i-1].StartMs {
			return nil, fmt.Errorf("%w: bucket %d starts at %d, not after %d",
				ErrInvalidHistory, i, h.Buckets[i].StartMs, h.Buckets[i-1].StartMs)
		}
	}
	return &h, nil
}

// EncodeFlags returns the JSON array of flags; nil encodes as [].
func EncodeFlags(flags []domain.RedFlag) ([]byte, error) {
	if flags == nil {
		flags = []domain.RedFlag{}
	}
	data, err := json.Marshal(flags)
	if err != nil {
		return nil, fmt.Errorf("encode flags: %w", err)
	}
	return data, nil
}

// DecodeFlags parses a JSON array of flags. An empty array decodes as nil.
func DecodeFlags(data []byte) ([]domain.RedFlag, error) {
	var flags []domain.RedFlag
	if err := strictUnmarshal(data, &flags); err != nil {
		return nil, fmt.Errorf("decode flags: %w", err)
	}
	if len(flags) == 0 {
		return nil, nil
	}
	return flags, nil
}

// Report bundles a history with its flags for one-shot output.
type Report struct {
	History *domain.AssetHistory `json:"history"`
	Flags   []domain.RedFlag     `json:"flags"`
}

// EncodeReport writes the history and flags as one indented document.
func EncodeReport(h *domain.AssetHistory, flags []domain.RedFlag) ([]byte, error) {
	if flags == nil {
		flags = []domain.RedFlag{}
	}
	data, err := json.MarshalIndent(Report{History: h, Flags: flags}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return data, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
