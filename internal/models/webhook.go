package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Webhook delivery statuses.
const (
	DeliveryPending  = "pending"
	DeliveryRetrying = "retrying"
	DeliverySuccess  = "success"
	DeliveryFailed   = "failed"
)

// RetryPolicy controls how failed deliveries are rescheduled. The
// backoff schedule is explicit: attempt N waits BackoffSeconds[N-1],
// and attempts past the end of the list reuse the last entry.
type RetryPolicy struct {
	MaxRetries     int   `json:"max_retries"`
	BackoffSeconds []int `json:"backoff_seconds"`
}

// DefaultRetryPolicy is applied to webhooks without an explicit policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BackoffSeconds: []int{1, 5, 15},
	}
}

// BackoffFor returns the delay before the next attempt, given the number
// of attempts already made.
func (p RetryPolicy) BackoffFor(attemptCount int) time.Duration {
	if len(p.BackoffSeconds) == 0 {
		return time.Second
	}
	idx := attemptCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.BackoffSeconds) {
		idx = len(p.BackoffSeconds) - 1
	}
	return time.Duration(p.BackoffSeconds[idx]) * time.Second
}

// Webhook is a registered delivery endpoint for a project.
type Webhook struct {
	ID             uuid.UUID `db:"id"`
	ProjectID      uuid.UUID `db:"project_id"`
	Name           string    `db:"name"`
	URL            string    `db:"url"`
	Secret         string    `db:"secret"` // HMAC signing key
	IsActive       bool      `db:"is_active"`
	TimeoutSeconds int       `db:"timeout_seconds"`
	RetryPolicyRaw JSONB     `db:"retry_policy"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// RetryPolicy decodes the stored policy, falling back to the default
// when the column is empty or malformed.
func (w *Webhook) RetryPolicy() RetryPolicy {
	policy := DefaultRetryPolicy()
	if w.RetryPolicyRaw == nil {
		return policy
	}
	raw, err := json.Marshal(w.RetryPolicyRaw)
	if err != nil {
		return policy
	}
	var decoded RetryPolicy
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return policy
	}
	if decoded.MaxRetries <= 0 {
		decoded.MaxRetries = policy.MaxRetries
	}
	if len(decoded.BackoffSeconds) == 0 {
		decoded.BackoffSeconds = policy.BackoffSeconds
	}
	return decoded
}

// Timeout returns the per-delivery HTTP timeout.
func (w *Webhook) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// WebhookEvent is an event type webhooks can subscribe to.
type WebhookEvent struct {
	ID          uuid.UUID `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// WebhookSubscription links a webhook to an event type.
type WebhookSubscription struct {
	ID        uuid.UUID `db:"id"`
	WebhookID uuid.UUID `db:"webhook_id"`
	EventID   uuid.UUID `db:"event_id"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
}

// WebhookDelivery records one event fan-out to one webhook, across all
// of its attempts.
type WebhookDelivery struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	WebhookID      uuid.UUID  `db:"webhook_id" json:"webhook_id"`
	EventType      string     `db:"event_type" json:"event_type"`
	Payload        JSONB      `db:"payload" json:"payload"`
	Status         string     `db:"status" json:"status"`
	AttemptCount   int        `db:"attempt_count" json:"attempt_count"`
	ResponseStatus *int       `db:"response_status" json:"response_status,omitempty"`
	ResponseBody   *string    `db:"response_body" json:"response_body,omitempty"` // truncated to 1000 bytes
	LastError      *string    `db:"last_error" json:"last_error,omitempty"`
	NextRetryAt    *time.Time `db:"next_retry_at" json:"next_retry_at,omitempty"`
	DeliveredAt    *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
