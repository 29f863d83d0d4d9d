package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertRule defines a threshold check for one metric of one API key.
// A percentage threshold wins over an absolute one and is resolved
// against the base value the caller supplies in the evaluation
// context; the absolute value doubles as the base when the context
// carries none.
type AlertRule struct {
	ID                  uuid.UUID  `db:"id"`
	APIKeyID            uuid.UUID  `db:"api_key_id"`
	Name                string     `db:"name"`
	MetricType          string     `db:"metric_type"`
	ThresholdValue      *float64   `db:"threshold_value"`
	ThresholdPercentage *float64   `db:"threshold_percentage"`
	ComparisonOperator  string     `db:"comparison_operator"` // >=, >, ==, <, <=
	CooldownMinutes     int        `db:"cooldown_minutes"`
	IsActive            bool       `db:"is_active"`
	LastTriggeredAt     *time.Time `db:"last_triggered_at"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// InCooldown reports whether the rule triggered within its cooldown.
func (r *AlertRule) InCooldown(now time.Time) bool {
	if r.LastTriggeredAt == nil {
		return false
	}
	cooldown := time.Duration(r.CooldownMinutes) * time.Minute
	return now.Sub(*r.LastTriggeredAt) < cooldown
}

// AlertHistory records one alert trigger.
type AlertHistory struct {
	ID                uuid.UUID  `db:"id"`
	AlertRuleID       uuid.UUID  `db:"alert_rule_id"`
	APIKeyID          uuid.UUID  `db:"api_key_id"`
	MetricValue       float64    `db:"metric_value"`
	ThresholdValue    float64    `db:"threshold_value"`
	Message           string     `db:"message"`
	Context           JSONB      `db:"context"`
	WebhookDeliveryID *uuid.UUID `db:"webhook_delivery_id"`
	TriggeredAt       time.Time  `db:"triggered_at"`
}
