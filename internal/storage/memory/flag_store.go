package memory

import (
	"context"
	"sync"

	"token-forensics/internal/domain"
	"token-forensics/internal/storage"
)

// FlagStore is an in-memory implementation of storage.FlagStore.
type FlagStore struct {
	mu    sync.RWMutex
	bySet map[string][]domain.RedFlag // key: history_id|ruleset_id
	ids   map[string]struct{}
}

// NewFlagStore creates a new in-memory flag store.
func NewFlagStore() *FlagStore {
	return &FlagStore{
		bySet: make(map[string][]domain.RedFlag),
		ids:   make(map[string]struct{}),
	}
}

// InsertBulk adds the flags of an evaluation. Fails entire batch on duplicate.
func (s *FlagStore) InsertBulk(_ context.Context, historyID, rulesetID string, flags []domain.RedFlag) error {
	if historyID == "" || rulesetID == "" {
		return storage.ErrInvalidInput
	}
	if len(flags) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: validate and check for duplicates (existing + intra-batch)
	batchIDs := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		if f.ID == "" || !f.Severity.IsValid() {
			return storage.ErrInvalidInput
		}
		if _, exists := s.ids[f.ID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchIDs[f.ID]; exists {
			return storage.ErrDuplicateKey
		}
		batchIDs[f.ID] = struct{}{}
	}

	// Second pass: insert all
	key := setKey(historyID, rulesetID)
	for _, f := range flags {
		s.ids[f.ID] = struct{}{}
		s.bySet[key] = append(s.bySet[key], copyFlag(f))
	}
	return nil
}

// GetByHistoryID retrieves the flags of an evaluation in insertion order.
func (s *FlagStore) GetByHistoryID(_ context.Context, historyID, rulesetID string) ([]domain.RedFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.bySet[setKey(historyID, rulesetID)]
	if len(stored) == 0 {
		return nil, nil
	}
	result := make([]domain.RedFlag, len(stored))
	for i, f := range stored {
		result[i] = copyFlag(f)
	}
	return result, nil
}

func setKey(historyID, rulesetID string) string {
	return historyID + "|" + rulesetID
}

func copyFlag(f domain.RedFlag) domain.RedFlag {
	f.Evidence = append([]domain.BucketRef(nil), f.Evidence...)
	return f
}

var _ storage.FlagStore = (*FlagStore)(nil)
