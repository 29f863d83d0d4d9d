package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QuotaRepository handles rate limit buckets and usage metrics
type QuotaRepository struct {
	db *DB
}

// NewQuotaRepository creates a new quota repository
func NewQuotaRepository(db *DB) *QuotaRepository {
	return &QuotaRepository{
		db: db,
	}
}

// IncrementBucket atomically increments the fixed-window counter for
// (keyID, windowStart) unless it is already at the limit. The upsert
// and ceiling check are a single statement so concurrent callers cannot
// both pass the last slot. Returns the count after the increment and
// whether the request was admitted. windowEnd only matters to counter
// stores with expiring entries; rows here are removed by
// CleanupOldBuckets.
func (r *QuotaRepository) IncrementBucket(ctx context.Context, keyID uuid.UUID, windowStart, windowEnd time.Time, limit int) (int, bool, error) {
	query := `
		INSERT INTO rate_limit_buckets (id, api_key_id, window_start, request_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (api_key_id, window_start)
		DO UPDATE SET request_count = rate_limit_buckets.request_count + 1
		WHERE rate_limit_buckets.request_count < $4
		RETURNING request_count
	`

	var count int
	err := r.db.conn.QueryRowContext(ctx, query, uuid.New(), keyID, windowStart, limit).Scan(&count)
	if err != nil {
		if err == sql.ErrNoRows {
			// Ceiling reached, the conditional update matched no row.
			return limit, false, nil
		}
		return 0, false, fmt.Errorf("failed to increment rate limit bucket: %w", err)
	}

	return count, true, nil
}

// GetBucketCount returns the current count for a window, 0 when no
// bucket exists yet.
func (r *QuotaRepository) GetBucketCount(ctx context.Context, keyID uuid.UUID, windowStart time.Time) (int, error) {
	query := `
		SELECT request_count
		FROM rate_limit_buckets
		WHERE api_key_id = $1 AND window_start = $2
	`

	var count int
	err := r.db.conn.GetContext(ctx, &count, query, keyID, windowStart)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get rate limit bucket: %w", err)
	}

	return count, nil
}

// CleanupOldBuckets deletes buckets whose window started before the
// cutoff. Returns the number of rows removed.
func (r *QuotaRepository) CleanupOldBuckets(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM rate_limit_buckets WHERE window_start < $1`

	result, err := r.db.conn.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup rate limit buckets: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// RecordUsage upserts the hour bucket for a request. The running mean
// response time is maintained in SQL so concurrent writers do not lose
// updates.
func (r *QuotaRepository) RecordUsage(ctx context.Context, keyID uuid.UUID, day time.Time, hour int, isError bool, responseTimeMs float64, dataBytes int64) error {
	errorInc := 0
	if isError {
		errorInc = 1
	}

	query := `
		INSERT INTO usage_metrics (id, api_key_id, date, hour, request_count, error_count, avg_response_time_ms, total_data_bytes)
		VALUES ($1, $2, $3, $4, 1, $5, $6, $7)
		ON CONFLICT (api_key_id, date, hour)
		DO UPDATE SET
			request_count = usage_metrics.request_count + 1,
			error_count = usage_metrics.error_count + $5,
			avg_response_time_ms = (usage_metrics.avg_response_time_ms * usage_metrics.request_count + $6) / (usage_metrics.request_count + 1),
			total_data_bytes = usage_metrics.total_data_bytes + $7,
			updated_at = NOW()
	`

	_, err := r.db.conn.ExecContext(ctx, query, uuid.New(), keyID, day, hour, errorInc, responseTimeMs, dataBytes)
	if err != nil {
		return fmt.Errorf("failed to record usage metric: %w", err)
	}

	return nil
}

// RequestCountSince sums request counts for a key from the given day
// (inclusive) to now.
func (r *QuotaRepository) RequestCountSince(ctx context.Context, keyID uuid.UUID, fromDay time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(request_count), 0)
		FROM usage_metrics
		WHERE api_key_id = $1 AND date >= $2
	`

	var count int64
	err := r.db.conn.GetContext(ctx, &count, query, keyID, fromDay)
	if err != nil {
		return 0, fmt.Errorf("failed to sum usage metrics: %w", err)
	}

	return count, nil
}

// ErrorStats holds aggregate counts for an interval
type ErrorStats struct {
	RequestCount int64 `db:"request_count"`
	ErrorCount   int64 `db:"error_count"`
}

// ErrorStatsSince returns request and error totals for a key from the
// given day (inclusive) to now.
func (r *QuotaRepository) ErrorStatsSince(ctx context.Context, keyID uuid.UUID, fromDay time.Time) (*ErrorStats, error) {
	query := `
		SELECT COALESCE(SUM(request_count), 0) AS request_count,
		       COALESCE(SUM(error_count), 0) AS error_count
		FROM usage_metrics
		WHERE api_key_id = $1 AND date >= $2
	`

	var stats ErrorStats
	err := r.db.conn.GetContext(ctx, &stats, query, keyID, fromDay)
	if err != nil {
		return nil, fmt.Errorf("failed to get error stats: %w", err)
	}

	return &stats, nil
}

// DailyUsage is one day of aggregated traffic for the usage API
type DailyUsage struct {
	Date          time.Time `db:"date" json:"date"`
	RequestCount  int64     `db:"request_count" json:"request_count"`
	ErrorCount    int64     `db:"error_count" json:"error_count"`
	AvgResponseMs float64   `db:"avg_response_time_ms" json:"avg_response_time_ms"`
}

// UsageByDay aggregates usage metrics per day over a time range
func (r *QuotaRepository) UsageByDay(ctx context.Context, keyID uuid.UUID, from, to time.Time) ([]*DailyUsage, error) {
	query := `
		SELECT date,
		       SUM(request_count) AS request_count,
		       SUM(error_count) AS error_count,
		       COALESCE(SUM(avg_response_time_ms * request_count) / NULLIF(SUM(request_count), 0), 0) AS avg_response_time_ms
		FROM usage_metrics
		WHERE api_key_id = $1 AND date >= $2 AND date <= $3
		GROUP BY date
		ORDER BY date
	`

	var usage []*DailyUsage
	err := r.db.conn.SelectContext(ctx, &usage, query, keyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage by day: %w", err)
	}

	return usage, nil
}
