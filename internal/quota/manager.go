package quota

import (
	"context"
	"time"

	"github.com/google/uuid"

	"akm_gateway/internal/models"
	"akm_gateway/internal/storage"
	"akm_gateway/internal/utils"
)

// Quota event types emitted to subscribed webhooks.
const (
	EventRateLimitReached    = "rate_limit_reached"
	EventDailyLimitReached   = "daily_limit_reached"
	EventDailyLimitWarning   = "daily_limit_warning"
	EventMonthlyLimitReached = "monthly_limit_reached"
	EventMonthlyLimitWarning = "monthly_limit_warning"
)

// warningThreshold is the utilization percentage at which advisory
// limits start emitting warnings.
const warningThreshold = 80.0

// CounterStore is the atomic fixed-window counter behind the rate
// limit. Increment must admit at most limit requests per window even
// under concurrency. windowEnd drives counter expiry in stores that
// support a TTL.
type CounterStore interface {
	IncrementBucket(ctx context.Context, keyID uuid.UUID, windowStart, windowEnd time.Time, limit int) (int, bool, error)
}

// UsageStore persists and aggregates per-request usage metrics.
type UsageStore interface {
	RecordUsage(ctx context.Context, keyID uuid.UUID, day time.Time, hour int, isError bool, responseTimeMs float64, dataBytes int64) error
	RequestCountSince(ctx context.Context, keyID uuid.UUID, fromDay time.Time) (int64, error)
	ErrorStatsSince(ctx context.Context, keyID uuid.UUID, fromDay time.Time) (*storage.ErrorStats, error)
}

// Events receives quota events for webhook fan-out. Implementations
// must not block the request path.
type Events interface {
	QuotaEvent(ctx context.Context, key *models.APIKey, eventType string, data map[string]any)
}

// AlertChecker evaluates alert rules against a metric sample.
type AlertChecker interface {
	CheckAlerts(ctx context.Context, key *models.APIKey, metricType string, value float64, evalContext map[string]any)
}

// RateLimitResult carries what the HTTP layer needs for rate limit
// headers.
type RateLimitResult struct {
	Allowed    bool
	Limited    bool // a limit is configured
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter int64 // seconds, set when denied
}

// Manager enforces per-key rate, daily and monthly limits and records
// usage.
type Manager struct {
	counters CounterStore
	usage    UsageStore
	events   Events
	alerts   AlertChecker
	logger   *utils.Logger
}

// NewManager creates a new quota manager. events and alerts may be nil.
func NewManager(counters CounterStore, usage UsageStore, events Events, alerts AlertChecker) *Manager {
	return &Manager{
		counters: counters,
		usage:    usage,
		events:   events,
		alerts:   alerts,
		logger:   utils.NewLogger("quota"),
	}
}

// CheckRateLimit applies the fixed-window rate limit. The check and the
// increment are one atomic counter operation; a denied request returns
// a LimitExceededError alongside the header values.
func (m *Manager) CheckRateLimit(ctx context.Context, key *models.APIKey, cfg *models.APIKeyConfig, now time.Time) (*RateLimitResult, error) {
	if cfg == nil || !cfg.RateLimitEnabled || cfg.RateLimitRequests <= 0 || cfg.RateLimitWindow <= 0 {
		return &RateLimitResult{Allowed: true}, nil
	}

	windowStart := WindowStart(now, cfg.RateLimitWindow)
	windowEnd := windowStart.Add(time.Duration(cfg.RateLimitWindow) * time.Second)

	count, allowed, err := m.counters.IncrementBucket(ctx, key.ID, windowStart, windowEnd, cfg.RateLimitRequests)
	if err != nil {
		return nil, err
	}

	result := &RateLimitResult{
		Allowed:   allowed,
		Limited:   true,
		Limit:     cfg.RateLimitRequests,
		Remaining: max(cfg.RateLimitRequests-count, 0),
		Reset:     windowEnd,
	}

	if allowed {
		return result, nil
	}

	retryAfter := int64(windowEnd.Sub(now).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	result.RetryAfter = retryAfter

	m.emit(ctx, key, EventRateLimitReached, map[string]any{
		"api_key_id":     key.ID.String(),
		"api_key_name":   key.Name,
		"limit":          cfg.RateLimitRequests,
		"window_seconds": cfg.RateLimitWindow,
	})

	return result, &LimitExceededError{
		Kind:       KindRateLimit,
		Limit:      int64(cfg.RateLimitRequests),
		Current:    int64(count),
		RetryAfter: retryAfter,
		Reset:      windowEnd,
	}
}

// CheckDailyLimit applies the advisory daily ceiling. It only reads
// usage metrics; the increment happens when the request is recorded.
func (m *Manager) CheckDailyLimit(ctx context.Context, key *models.APIKey, cfg *models.APIKeyConfig, now time.Time) error {
	if cfg == nil || cfg.DailyRequestLimit == nil || *cfg.DailyRequestLimit <= 0 {
		return nil
	}

	limit := *cfg.DailyRequestLimit
	count, err := m.usage.RequestCountSince(ctx, key.ID, DayStart(now))
	if err != nil {
		return err
	}

	return m.applyAdvisoryLimit(ctx, key, KindDailyLimit, "daily_usage",
		EventDailyLimitReached, EventDailyLimitWarning, count, limit, DayStart(now).AddDate(0, 0, 1))
}

// CheckMonthlyLimit applies the advisory monthly ceiling
func (m *Manager) CheckMonthlyLimit(ctx context.Context, key *models.APIKey, cfg *models.APIKeyConfig, now time.Time) error {
	if cfg == nil || cfg.MonthlyRequestLimit == nil || *cfg.MonthlyRequestLimit <= 0 {
		return nil
	}

	limit := *cfg.MonthlyRequestLimit
	count, err := m.usage.RequestCountSince(ctx, key.ID, MonthStart(now))
	if err != nil {
		return err
	}

	return m.applyAdvisoryLimit(ctx, key, KindMonthlyLimit, "monthly_usage",
		EventMonthlyLimitReached, EventMonthlyLimitWarning, count, limit, MonthStart(now).AddDate(0, 1, 0))
}

func (m *Manager) applyAdvisoryLimit(ctx context.Context, key *models.APIKey, kind, metricType, reachedEvent, warningEvent string, count, limit int64, reset time.Time) error {
	if count >= limit {
		m.emit(ctx, key, reachedEvent, map[string]any{
			"api_key_id":    key.ID.String(),
			"api_key_name":  key.Name,
			"limit":         limit,
			"current_usage": count,
		})
		return &LimitExceededError{
			Kind:    kind,
			Limit:   limit,
			Current: count,
			Reset:   reset,
		}
	}

	utilization := float64(count) / float64(limit) * 100
	if utilization >= warningThreshold {
		m.emit(ctx, key, warningEvent, map[string]any{
			"api_key_id":          key.ID.String(),
			"api_key_name":        key.Name,
			"limit":               limit,
			"current_usage":       count,
			"utilization_percent": utilization,
		})
		if m.alerts != nil {
			m.alerts.CheckAlerts(ctx, key, metricType, float64(count), map[string]any{
				"base_value": float64(limit),
			})
		}
	}

	return nil
}

// RecordRequest writes the hour bucket for one request. It runs after
// every authenticated request whatever the outcome was; failures are
// logged and swallowed so accounting never breaks the request.
func (m *Manager) RecordRequest(ctx context.Context, key *models.APIKey, statusCode int, responseTimeMs float64, dataBytes int64, now time.Time) {
	day := DayStart(now)
	hour := now.UTC().Hour()
	isError := statusCode >= 400

	if err := m.usage.RecordUsage(ctx, key.ID, day, hour, isError, responseTimeMs, dataBytes); err != nil {
		m.logger.Error("Failed to record usage", "api_key_id", key.ID, "error", err)
		return
	}

	// Server errors feed the error-rate alert metric.
	if statusCode >= 500 && m.alerts != nil {
		stats, err := m.usage.ErrorStatsSince(ctx, key.ID, day)
		if err != nil {
			m.logger.Warn("Failed to compute error rate", "api_key_id", key.ID, "error", err)
			return
		}
		if stats.RequestCount > 0 {
			errorRate := float64(stats.ErrorCount) / float64(stats.RequestCount) * 100
			m.alerts.CheckAlerts(ctx, key, "error_rate", errorRate, map[string]any{
				"request_count": stats.RequestCount,
				"error_count":   stats.ErrorCount,
			})
		}
	}
}

func (m *Manager) emit(ctx context.Context, key *models.APIKey, eventType string, data map[string]any) {
	if m.events == nil {
		return
	}
	m.events.QuotaEvent(ctx, key, eventType, data)
}
