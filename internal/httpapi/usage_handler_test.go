package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"akm_gateway/internal/middleware"
	"akm_gateway/internal/models"
	"akm_gateway/internal/storage"
)

type fakeUsageReader struct {
	daily    []*storage.DailyUsage
	stats    storage.ErrorStats
	lastFrom time.Time
	lastTo   time.Time
}

func (f *fakeUsageReader) UsageByDay(_ context.Context, _ uuid.UUID, from, to time.Time) ([]*storage.DailyUsage, error) {
	f.lastFrom, f.lastTo = from, to
	return f.daily, nil
}

func (f *fakeUsageReader) ErrorStatsSince(_ context.Context, _ uuid.UUID, _ time.Time) (*storage.ErrorStats, error) {
	stats := f.stats
	return &stats, nil
}

func usageRequest(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	key := &models.APIKey{ID: uuid.New(), ProjectID: uuid.New(), IsActive: true}
	ctx := context.WithValue(req.Context(), middleware.APIKeyRecordKey, key)
	return req.WithContext(ctx)
}

func TestUsageHandlerStats(t *testing.T) {
	t.Run("returns totals and daily breakdown", func(t *testing.T) {
		reader := &fakeUsageReader{
			daily: []*storage.DailyUsage{
				{Date: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), RequestCount: 90, ErrorCount: 9, AvgResponseMs: 120},
				{Date: time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC), RequestCount: 10, ErrorCount: 1, AvgResponseMs: 80},
			},
			stats: storage.ErrorStats{RequestCount: 100, ErrorCount: 10},
		}
		handler := NewUsageHandler(reader)

		rec := httptest.NewRecorder()
		handler.Stats(rec, usageRequest("/v1/usage/stats"))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp usageStatsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(100), resp.TotalRequests)
		assert.Equal(t, int64(10), resp.TotalErrors)
		assert.Equal(t, 10.0, resp.ErrorRate)
		assert.Len(t, resp.Daily, 2)
	})

	t.Run("honors an explicit date range", func(t *testing.T) {
		reader := &fakeUsageReader{}
		handler := NewUsageHandler(reader)

		rec := httptest.NewRecorder()
		handler.Stats(rec, usageRequest("/v1/usage/stats?from=2026-08-01&to=2026-08-15"))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), reader.lastFrom)
		assert.Equal(t, time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC), reader.lastTo)
	})

	t.Run("rejects malformed and inverted ranges", func(t *testing.T) {
		handler := NewUsageHandler(&fakeUsageReader{})

		for _, target := range []string{
			"/v1/usage/stats?from=August",
			"/v1/usage/stats?to=15-08-2026",
			"/v1/usage/stats?from=2026-08-15&to=2026-08-01",
		} {
			rec := httptest.NewRecorder()
			handler.Stats(rec, usageRequest(target))
			assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		}
	})

	t.Run("empty usage yields zero rate", func(t *testing.T) {
		handler := NewUsageHandler(&fakeUsageReader{})

		rec := httptest.NewRecorder()
		handler.Stats(rec, usageRequest("/v1/usage/stats"))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp usageStatsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 0.0, resp.ErrorRate)
		assert.Empty(t, resp.Daily)
	})

	t.Run("missing key record is an internal error", func(t *testing.T) {
		handler := NewUsageHandler(&fakeUsageReader{})
		rec := httptest.NewRecorder()
		handler.Stats(rec, httptest.NewRequest(http.MethodGet, "/v1/usage/stats", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
