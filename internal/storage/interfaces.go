// Package storage defines the append-only persistence contracts for
// forensic runs, asset histories, red flags and bucket timeseries.
package storage

import (
	"context"

	"token-forensics/internal/domain"
)

// RunStore persists one summary per pipeline run.
type RunStore interface {
	// Insert adds a run. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, r *domain.RunRecord) error

	// GetByID returns ErrNotFound if the run does not exist.
	GetByID(ctx context.Context, runID string) (*domain.RunRecord, error)

	// GetByAsset retrieves runs for an asset key, ordered by started_at ASC.
	GetByAsset(ctx context.Context, assetKey string) ([]*domain.RunRecord, error)
}

// HistoryStore persists merged asset histories keyed by their content hash.
type HistoryStore interface {
	// Insert adds a history. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, h *domain.AssetHistory) error

	// GetByID returns ErrNotFound if the history does not exist.
	GetByID(ctx context.Context, id string) (*domain.AssetHistory, error)
}

// FlagStore persists the red flags of one (history, ruleset) evaluation.
// A history evaluated under different rulesets holds one flag set per ruleset.
type FlagStore interface {
	// InsertBulk adds the flags of an evaluation atomically, preserving order.
	// Fails the entire batch on any duplicate flag ID.
	InsertBulk(ctx context.Context, historyID, rulesetID string, flags []domain.RedFlag) error

	// GetByHistoryID retrieves the flags of an evaluation in insertion order.
	GetByHistoryID(ctx context.Context, historyID, rulesetID string) ([]domain.RedFlag, error)
}

// BucketTimeseriesStore persists flattened per-bucket scalars for analytics.
type BucketTimeseriesStore interface {
	// InsertBulk adds points. Fails entire batch on duplicate (history_id, start_ms).
	InsertBulk(ctx context.Context, points []domain.BucketPoint) error

	// GetByAsset retrieves points for an asset within [start, end] (inclusive),
	// ordered by start_ms ASC then history_id.
	GetByAsset(ctx context.Context, assetKey string, start, end int64) ([]domain.BucketPoint, error)
}
