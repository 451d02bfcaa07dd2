package memory

import (
	"context"
	"fmt"
	"sync"

	"token-forensics/internal/codec"
	"token-forensics/internal/domain"
	"token-forensics/internal/storage"
)

// HistoryStore is an in-memory implementation of storage.HistoryStore.
// Histories are held in their encoded form so callers never share state.
type HistoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte // keyed by history id
}

// NewHistoryStore creates a new in-memory history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		data: make(map[string][]byte),
	}
}

// Insert adds a history. Returns ErrDuplicateKey if the ID exists.
func (s *HistoryStore) Insert(_ context.Context, h *domain.AssetHistory) error {
	if h == nil || h.ID == "" {
		return storage.ErrInvalidInput
	}
	data, err := codec.EncodeHistory(h)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[h.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[h.ID] = data
	return nil
}

// GetByID returns ErrNotFound if the history does not exist.
func (s *HistoryStore) GetByID(_ context.Context, id string) (*domain.AssetHistory, error) {
	s.mu.RLock()
	data, ok := s.data[id]
	s.mu.RUnlock()

	if !ok {
		return nil, storage.ErrNotFound
	}
	return codec.DecodeHistory(data)
}

var _ storage.HistoryStore = (*HistoryStore)(nil)
