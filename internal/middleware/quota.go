package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"akm_gateway/internal/metrics"
	"akm_gateway/internal/quota"
	"akm_gateway/internal/utils"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// QuotaMiddleware enforces the key's rate, daily and monthly limits
// before the handler runs and records usage after it, whatever the
// outcome. It requires AuthMiddleware upstream.
func QuotaMiddleware(manager *quota.Manager) func(http.Handler) http.Handler {
	logger := utils.NewLogger("quota-middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key, ok := GetAPIKeyRecord(ctx)
			if !ok {
				utils.RespondWithError(w, http.StatusInternalServerError, "API key missing from request context")
				return
			}
			cfg, _ := GetKeyConfig(ctx)

			now := time.Now()
			start := now

			// A denial returns the result alongside the error; the
			// headers belong on 429 responses too.
			result, err := manager.CheckRateLimit(ctx, key, cfg, now)
			if result != nil && result.Limited {
				w.Header().Set(HeaderRateLimitLimit, strconv.Itoa(result.Limit))
				w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
				w.Header().Set(HeaderRateLimitReset, strconv.FormatInt(result.Reset.Unix(), 10))
			}
			if err == nil {
				err = manager.CheckDailyLimit(ctx, key, cfg, now)
			}
			if err == nil {
				err = manager.CheckMonthlyLimit(ctx, key, cfg, now)
			}

			if err != nil {
				var limitErr *quota.LimitExceededError
				if errors.As(err, &limitErr) {
					metrics.QuotaRejections.WithLabelValues(limitErr.Kind).Inc()
					if limitErr.RetryAfter > 0 {
						w.Header().Set("Retry-After", strconv.FormatInt(limitErr.RetryAfter, 10))
					}
					utils.RespondWithError(w, http.StatusTooManyRequests, limitErr.Error())
					manager.RecordRequest(ctx, key, http.StatusTooManyRequests, float64(time.Since(start).Milliseconds()), 0, now)
					return
				}
				// Quota backend failures do not block the request.
				logger.Warn("Quota check failed, allowing request", "api_key_id", key.ID, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			manager.RecordRequest(ctx, key, recorder.status,
				float64(time.Since(start).Milliseconds()), recorder.bytes, now)
		})
	}
}

// statusRecorder captures the handler's status code and response size.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}
