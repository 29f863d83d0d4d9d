package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"akm_gateway/internal/middleware"
	"akm_gateway/internal/quota"
	"akm_gateway/internal/storage"
	"akm_gateway/internal/utils"
)

// UsageReader is the slice of the quota repository the handler reads
// from.
type UsageReader interface {
	UsageByDay(ctx context.Context, keyID uuid.UUID, from, to time.Time) ([]*storage.DailyUsage, error)
	ErrorStatsSince(ctx context.Context, keyID uuid.UUID, fromDay time.Time) (*storage.ErrorStats, error)
}

// UsageHandler serves per-key usage statistics.
type UsageHandler struct {
	usage UsageReader
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(usage UsageReader) *UsageHandler {
	return &UsageHandler{usage: usage}
}

type usageStatsResponse struct {
	APIKeyID      uuid.UUID             `json:"api_key_id"`
	From          string                `json:"from"`
	To            string                `json:"to"`
	TotalRequests int64                 `json:"total_requests"`
	TotalErrors   int64                 `json:"total_errors"`
	ErrorRate     float64               `json:"error_rate"`
	Daily         []*storage.DailyUsage `json:"daily"`
}

// Stats returns daily usage aggregates for the calling key. The range
// defaults to the last 30 days.
func (h *UsageHandler) Stats(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetAPIKeyRecord(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusInternalServerError, "API key missing from request context")
		return
	}

	now := time.Now()
	to := quota.DayStart(now)
	from := to.AddDate(0, 0, -30)

	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "invalid from date, want YYYY-MM-DD")
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "invalid to date, want YYYY-MM-DD")
			return
		}
		to = t
	}
	if to.Before(from) {
		utils.RespondWithError(w, http.StatusBadRequest, "to date is before from date")
		return
	}

	daily, err := h.usage.UsageByDay(r.Context(), key.ID, from, to)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load usage")
		return
	}
	if daily == nil {
		daily = []*storage.DailyUsage{}
	}

	stats, err := h.usage.ErrorStatsSince(r.Context(), key.ID, from)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load usage totals")
		return
	}

	errorRate := 0.0
	if stats.RequestCount > 0 {
		errorRate = float64(stats.ErrorCount) / float64(stats.RequestCount) * 100
	}

	utils.RespondWithJSON(w, http.StatusOK, usageStatsResponse{
		APIKeyID:      key.ID,
		From:          from.Format("2006-01-02"),
		To:            to.Format("2006-01-02"),
		TotalRequests: stats.RequestCount,
		TotalErrors:   stats.ErrorCount,
		ErrorRate:     errorRate,
		Daily:         daily,
	})
}
