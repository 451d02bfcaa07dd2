package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"token-forensics/internal/domain"
	"token-forensics/internal/storage"
)

// BucketTimeseriesStore is an in-memory implementation of storage.BucketTimeseriesStore.
type BucketTimeseriesStore struct {
	mu   sync.RWMutex
	data map[string]domain.BucketPoint // keyed by (history_id, start_ms)
}

// NewBucketTimeseriesStore creates a new in-memory bucket timeseries store.
func NewBucketTimeseriesStore() *BucketTimeseriesStore {
	return &BucketTimeseriesStore{
		data: make(map[string]domain.BucketPoint),
	}
}

// pointKey generates a unique key for a bucket point.
func pointKey(historyID string, startMs int64) string {
	return fmt.Sprintf("%s|%d", historyID, startMs)
}

// InsertBulk adds multiple points. Fails entire batch on duplicate.
func (s *BucketTimeseriesStore) InsertBulk(_ context.Context, points []domain.BucketPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(points))

	// First pass: check for duplicates (existing + intra-batch)
	for _, p := range points {
		if p.AssetKey == "" || p.HistoryID == "" {
			return storage.ErrInvalidInput
		}
		key := pointKey(p.HistoryID, p.StartMs)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, p := range points {
		s.data[pointKey(p.HistoryID, p.StartMs)] = copyPoint(p)
	}
	return nil
}

// GetByAsset retrieves points for an asset within [start, end] (inclusive).
func (s *BucketTimeseriesStore) GetByAsset(_ context.Context, assetKey string, start, end int64) ([]domain.BucketPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.BucketPoint
	for _, p := range s.data {
		if p.AssetKey == assetKey && p.StartMs >= start && p.StartMs <= end {
			result = append(result, copyPoint(p))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartMs != result[j].StartMs {
			return result[i].StartMs < result[j].StartMs
		}
		return result[i].HistoryID < result[j].HistoryID
	})

	return result, nil
}

func copyPoint(p domain.BucketPoint) domain.BucketPoint {
	p.Price = copyFloat(p.Price)
	p.Volume = copyFloat(p.Volume)
	p.Liquidity = copyFloat(p.Liquidity)
	p.TopHolderShare = copyFloat(p.TopHolderShare)
	return p
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

var _ storage.BucketTimeseriesStore = (*BucketTimeseriesStore)(nil)
