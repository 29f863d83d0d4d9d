package quota

import (
	"fmt"
	"time"
)

// Limit kinds reported by LimitExceededError.
const (
	KindRateLimit    = "rate_limit"
	KindDailyLimit   = "daily_limit"
	KindMonthlyLimit = "monthly_limit"
)

// LimitExceededError means a request was refused by a quota. Maps to
// HTTP 429.
type LimitExceededError struct {
	Kind       string
	Limit      int64
	Current    int64
	RetryAfter int64 // seconds until the window resets, rate limit only
	Reset      time.Time
}

func (e *LimitExceededError) Error() string {
	switch e.Kind {
	case KindRateLimit:
		return fmt.Sprintf("rate limit exceeded: %d requests per window, retry after %ds", e.Limit, e.RetryAfter)
	case KindDailyLimit:
		return fmt.Sprintf("daily request limit exceeded: %d of %d", e.Current, e.Limit)
	case KindMonthlyLimit:
		return fmt.Sprintf("monthly request limit exceeded: %d of %d", e.Current, e.Limit)
	}
	return "request limit exceeded"
}
