package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"token-forensics/internal/domain"
	"token-forensics/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

// Insert adds a run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(ctx context.Context, r *domain.RunRecord) (err error) {
	if r == nil || r.RunID == "" || r.AssetKey == "" {
		return storage.ErrInvalidInput
	}
	coverage, err := json.Marshal(r.Coverage)
	if err != nil {
		return fmt.Errorf("encode coverage: %w", err)
	}
	defer func(start time.Time) { observe("insert_run", start, err) }(time.Now())

	query := `
		INSERT INTO forensic_runs (
			run_id, asset_key, history_id, ruleset_id, started_at, finished_at, flag_count, coverage
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.pool.Exec(ctx, query,
		r.RunID, r.AssetKey, r.HistoryID, r.RulesetID, r.StartedAt, r.FinishedAt, r.FlagCount, coverage,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = `run_id, asset_key, history_id, ruleset_id, started_at, finished_at, flag_count, coverage`

// GetByID returns ErrNotFound if the run does not exist.
func (s *RunStore) GetByID(ctx context.Context, runID string) (r *domain.RunRecord, err error) {
	defer func(start time.Time) { observe("get_run", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM forensic_runs WHERE run_id = $1`, runID)
	r, err = scanRun(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// GetByAsset retrieves runs for an asset, ordered by started_at ASC.
func (s *RunStore) GetByAsset(ctx context.Context, assetKey string) (runs []*domain.RunRecord, err error) {
	defer func(start time.Time) { observe("get_runs_by_asset", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM forensic_runs
		WHERE asset_key = $1
		ORDER BY started_at ASC, run_id ASC
	`, assetKey)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*domain.RunRecord, error) {
	var r domain.RunRecord
	var coverage []byte
	if err := row.Scan(&r.RunID, &r.AssetKey, &r.HistoryID, &r.RulesetID, &r.StartedAt, &r.FinishedAt, &r.FlagCount, &coverage); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(coverage, &r.Coverage); err != nil {
		return nil, fmt.Errorf("decode coverage: %w", err)
	}
	return &r, nil
}
