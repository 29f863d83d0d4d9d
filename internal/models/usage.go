package models

import (
	"time"

	"github.com/google/uuid"
)

// RateLimitBucket is a fixed-window request counter. One row exists per
// (api_key_id, window_start); window_start is floor-aligned to the
// configured window size.
type RateLimitBucket struct {
	ID           uuid.UUID `db:"id"`
	APIKeyID     uuid.UUID `db:"api_key_id"`
	WindowStart  time.Time `db:"window_start"`
	RequestCount int       `db:"request_count"`
	CreatedAt    time.Time `db:"created_at"`
}

// UsageMetric aggregates request traffic per key, day and hour.
type UsageMetric struct {
	ID             uuid.UUID `db:"id"`
	APIKeyID       uuid.UUID `db:"api_key_id"`
	Date           time.Time `db:"date"` // midnight UTC of the day
	Hour           int       `db:"hour"` // 0-23
	RequestCount   int64     `db:"request_count"`
	ErrorCount     int64     `db:"error_count"`
	AvgResponseMs  float64   `db:"avg_response_time_ms"`
	TotalDataBytes int64     `db:"total_data_bytes"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// ErrorRate returns the percentage of failed requests in this bucket.
func (m *UsageMetric) ErrorRate() float64 {
	if m.RequestCount == 0 {
		return 0
	}
	return float64(m.ErrorCount) / float64(m.RequestCount) * 100
}
