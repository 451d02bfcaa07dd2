package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"token-forensics/internal/domain"
	"token-forensics/internal/storage"
)

// FlagStore implements storage.FlagStore using PostgreSQL.
type FlagStore struct {
	pool *Pool
}

// NewFlagStore creates a new FlagStore.
func NewFlagStore(pool *Pool) *FlagStore {
	return &FlagStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FlagStore = (*FlagStore)(nil)

// InsertBulk adds the flags of an evaluation atomically. The slice position
// is stored as ordinal so reads return the evaluation order.
func (s *FlagStore) InsertBulk(ctx context.Context, historyID, rulesetID string, flags []domain.RedFlag) (err error) {
	if historyID == "" || rulesetID == "" {
		return storage.ErrInvalidInput
	}
	if len(flags) == 0 {
		return nil
	}
	for _, f := range flags {
		if f.ID == "" || !f.Severity.IsValid() {
			return storage.ErrInvalidInput
		}
	}
	defer func(start time.Time) { observe("insert_flags", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO red_flags (
			flag_id, history_id, ruleset_id, ordinal, category, severity,
			start_ms, end_ms, evidence, rationale
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	for i, f := range flags {
		evidence, err := json.Marshal(f.Evidence)
		if err != nil {
			return fmt.Errorf("encode evidence of flag %s: %w", f.ID, err)
		}
		_, err = tx.Exec(ctx, query,
			f.ID, historyID, rulesetID, i, string(f.Category), string(f.Severity),
			f.TimeRange.StartMs, f.TimeRange.EndMs, evidence, f.Rationale,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			if isForeignKeyError(err) {
				return fmt.Errorf("history %s: %w", historyID, storage.ErrNotFound)
			}
			return fmt.Errorf("insert flag %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByHistoryID retrieves the flags of an evaluation in insertion order.
func (s *FlagStore) GetByHistoryID(ctx context.Context, historyID, rulesetID string) (flags []domain.RedFlag, err error) {
	defer func(start time.Time) { observe("get_flags", start, err) }(time.Now())

	query := `
		SELECT flag_id, category, severity, start_ms, end_ms, evidence, rationale
		FROM red_flags
		WHERE history_id = $1 AND ruleset_id = $2
		ORDER BY ordinal ASC
	`

	rows, err := s.pool.Query(ctx, query, historyID, rulesetID)
	if err != nil {
		return nil, fmt.Errorf("query flags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f domain.RedFlag
		var category, severity string
		var evidence []byte
		if err := rows.Scan(&f.ID, &category, &severity, &f.TimeRange.StartMs, &f.TimeRange.EndMs, &evidence, &f.Rationale); err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		if err := json.Unmarshal(evidence, &f.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence of flag %s: %w", f.ID, err)
		}
		f.Category = domain.FlagCategory(category)
		f.Severity = domain.Severity(severity)
		flags = append(flags, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flags: %w", err)
	}
	return flags, nil
}
