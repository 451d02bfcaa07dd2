package clickhouse

import (
	"context"
	"fmt"
	"time"

	"token-forensics/internal/domain"
	"token-forensics/internal/storage"
)

// BucketTimeseriesStore implements storage.BucketTimeseriesStore using ClickHouse.
type BucketTimeseriesStore struct {
	conn *Conn
}

// NewBucketTimeseriesStore creates a new BucketTimeseriesStore.
func NewBucketTimeseriesStore(conn *Conn) *BucketTimeseriesStore {
	return &BucketTimeseriesStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BucketTimeseriesStore = (*BucketTimeseriesStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate (history_id, start_ms).
func (s *BucketTimeseriesStore) InsertBulk(ctx context.Context, points []domain.BucketPoint) (err error) {
	if len(points) == 0 {
		return nil
	}
	defer func(start time.Time) { observe("insert_bucket_points", start, err) }(time.Now())

	type key struct {
		historyID string
		startMs   int64
	}
	seen := make(map[key]struct{}, len(points))
	for _, p := range points {
		if p.AssetKey == "" || p.HistoryID == "" {
			return storage.ErrInvalidInput
		}
		k := key{p.HistoryID, p.StartMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// MergeTree does not enforce keys; check existing rows explicitly.
	for _, p := range points {
		exists, err := s.exists(ctx, p.HistoryID, p.StartMs)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO bucket_timeseries (
			asset_key, history_id, start_ms, price, volume, liquidity,
			price_source, liquidity_source, top_holder_share, event_count, conflicts
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.AssetKey, p.HistoryID, p.StartMs, p.Price, p.Volume, p.Liquidity,
			string(p.PriceSource), string(p.LiquiditySource), p.TopHolderShare,
			uint32(p.EventCount), uint8(p.Conflicts),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByAsset retrieves points for an asset within [start, end] (inclusive).
func (s *BucketTimeseriesStore) GetByAsset(ctx context.Context, assetKey string, start, end int64) (points []domain.BucketPoint, err error) {
	defer func(t time.Time) { observe("get_bucket_points", t, err) }(time.Now())

	query := `
		SELECT asset_key, history_id, start_ms, price, volume, liquidity,
			price_source, liquidity_source, top_holder_share, event_count, conflicts
		FROM bucket_timeseries
		WHERE asset_key = ? AND start_ms >= ? AND start_ms <= ?
		ORDER BY start_ms ASC, history_id ASC
	`

	rows, err := s.conn.Query(ctx, query, assetKey, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by asset: %w", err)
	}
	defer rows.Close()

	return scanBucketPoints(rows)
}

// exists checks if a point with the given key exists.
func (s *BucketTimeseriesStore) exists(ctx context.Context, historyID string, startMs int64) (bool, error) {
	query := `
		SELECT count(*) FROM bucket_timeseries
		WHERE history_id = ? AND start_ms = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, historyID, startMs).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanBucketPoints(rows chRows) ([]domain.BucketPoint, error) {
	var points []domain.BucketPoint

	for rows.Next() {
		var p domain.BucketPoint
		var priceSource, liquiditySource string
		var eventCount uint32
		var conflicts uint8

		err := rows.Scan(
			&p.AssetKey, &p.HistoryID, &p.StartMs, &p.Price, &p.Volume, &p.Liquidity,
			&priceSource, &liquiditySource, &p.TopHolderShare, &eventCount, &conflicts,
		)
		if err != nil {
			return nil, fmt.Errorf("scan bucket timeseries row: %w", err)
		}

		p.PriceSource = domain.SourceID(priceSource)
		p.LiquiditySource = domain.SourceID(liquiditySource)
		p.EventCount = int(eventCount)
		p.Conflicts = int(conflicts)
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bucket timeseries rows: %w", err)
	}

	return points, nil
}
