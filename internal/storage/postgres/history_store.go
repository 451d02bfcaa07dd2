package postgres

import (
	"context"
	"fmt"
	"time"

	"token-forensics/internal/codec"
	"token-forensics/internal/domain"
	"token-forensics/internal/storage"
)

// HistoryStore implements storage.HistoryStore using PostgreSQL.
// The canonical codec document is stored as JSONB next to indexed columns.
type HistoryStore struct {
	pool *Pool
}

// NewHistoryStore creates a new HistoryStore.
func NewHistoryStore(pool *Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.HistoryStore = (*HistoryStore)(nil)

// Insert adds a history. Returns ErrDuplicateKey if history_id exists.
func (s *HistoryStore) Insert(ctx context.Context, h *domain.AssetHistory) (err error) {
	if h == nil || h.ID == "" {
		return storage.ErrInvalidInput
	}
	doc, err := codec.EncodeHistory(h)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	defer func(start time.Time) { observe("insert_history", start, err) }(time.Now())

	query := `
		INSERT INTO asset_histories (
			history_id, asset_key, chain, resolution_ms, start_ms, end_ms, document
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.pool.Exec(ctx, query,
		h.ID, h.Asset.Key(), string(h.Asset.Chain), h.ResolutionMs, h.StartMs(), h.EndMs(), doc,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// GetByID returns ErrNotFound if the history does not exist.
func (s *HistoryStore) GetByID(ctx context.Context, id string) (h *domain.AssetHistory, err error) {
	defer func(start time.Time) { observe("get_history", start, err) }(time.Now())

	var doc []byte
	err = s.pool.QueryRow(ctx, `SELECT document FROM asset_histories WHERE history_id = $1`, id).Scan(&doc)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get history: %w", err)
	}

	h, err = codec.DecodeHistory(doc)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", id, err)
	}
	return h, nil
}
