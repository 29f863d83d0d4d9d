package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"akm_gateway/internal/metrics"
	"akm_gateway/internal/models"
	"akm_gateway/internal/utils"
)

// RuleStore persists alert rules and their trigger history.
type RuleStore interface {
	ActiveRules(ctx context.Context, keyID uuid.UUID, metricType string) ([]*models.AlertRule, error)
	MarkTriggered(ctx context.Context, ruleID uuid.UUID, at time.Time) error
	CreateHistory(ctx context.Context, history *models.AlertHistory) error
}

// EventDispatcher fans alert events out to subscribed webhooks.
type EventDispatcher interface {
	Dispatch(ctx context.Context, projectID uuid.UUID, eventType string, data map[string]any) error
}

// Engine evaluates alert rules against metric samples.
type Engine struct {
	rules      RuleStore
	dispatcher EventDispatcher
	logger     *utils.Logger
}

// NewEngine creates a new alert engine. dispatcher may be nil.
func NewEngine(rules RuleStore, dispatcher EventDispatcher) *Engine {
	return &Engine{
		rules:      rules,
		dispatcher: dispatcher,
		logger:     utils.NewLogger("alert-engine"),
	}
}

// CheckAlerts evaluates every active rule for (key, metricType) against
// the sampled value. Rules inside their cooldown are skipped. Failures
// are logged; a broken alert path never affects the request being
// governed.
func (e *Engine) CheckAlerts(ctx context.Context, key *models.APIKey, metricType string, value float64, evalContext map[string]any) {
	rules, err := e.rules.ActiveRules(ctx, key.ID, metricType)
	if err != nil {
		e.logger.Error("Failed to load alert rules", "api_key_id", key.ID, "metric_type", metricType, "error", err)
		return
	}

	now := time.Now().UTC()
	for _, rule := range rules {
		if rule.InCooldown(now) {
			continue
		}

		threshold, ok := resolveThreshold(rule, evalContext)
		if !ok {
			continue
		}

		if !compare(value, rule.ComparisonOperator, threshold) {
			continue
		}

		e.trigger(ctx, key, rule, metricType, value, threshold, evalContext, now)
	}
}

func (e *Engine) trigger(ctx context.Context, key *models.APIKey, rule *models.AlertRule, metricType string, value, threshold float64, evalContext map[string]any, now time.Time) {
	message := fmt.Sprintf("Alert: %s - %s is %g (%s %g)",
		rule.Name, metricType, value, rule.ComparisonOperator, threshold)

	history := &models.AlertHistory{
		AlertRuleID:    rule.ID,
		APIKeyID:       key.ID,
		MetricValue:    value,
		ThresholdValue: threshold,
		Message:        message,
		Context:        models.JSONB(evalContext),
		TriggeredAt:    now,
	}
	if err := e.rules.CreateHistory(ctx, history); err != nil {
		e.logger.Error("Failed to record alert history", "rule_id", rule.ID, "error", err)
		return
	}

	if err := e.rules.MarkTriggered(ctx, rule.ID, now); err != nil {
		e.logger.Error("Failed to update alert cooldown", "rule_id", rule.ID, "error", err)
	}
	metrics.AlertsTriggered.Inc()

	e.logger.Warn("Alert triggered", "rule", rule.Name, "metric_type", metricType, "value", value, "threshold", threshold)

	if e.dispatcher != nil {
		data := map[string]any{
			"rule_name":   rule.Name,
			"metric_type": metricType,
			"value":       value,
			"threshold":   threshold,
			"message":     message,
			"context":     evalContext,
		}
		eventType := "alert_" + metricType
		if err := e.dispatcher.Dispatch(ctx, key.ProjectID, eventType, data); err != nil {
			e.logger.Error("Failed to dispatch alert event", "event_type", eventType, "error", err)
		}
	}
}

// resolveThreshold returns the effective threshold of a rule. A
// percentage threshold takes precedence over an absolute one and is
// resolved against the base_value in the evaluation context; when the
// context carries no base, the rule's absolute value serves as the
// base. A percentage with no base at all cannot be evaluated.
func resolveThreshold(rule *models.AlertRule, evalContext map[string]any) (float64, bool) {
	if rule.ThresholdPercentage != nil {
		base, ok := evalContext["base_value"].(float64)
		if !ok || base == 0 {
			if rule.ThresholdValue == nil || *rule.ThresholdValue == 0 {
				return 0, false
			}
			base = *rule.ThresholdValue
		}
		return base * *rule.ThresholdPercentage / 100, true
	}

	if rule.ThresholdValue != nil {
		return *rule.ThresholdValue, true
	}

	return 0, false
}

func compare(value float64, operator string, threshold float64) bool {
	switch operator {
	case ">=":
		return value >= threshold
	case ">":
		return value > threshold
	case "==":
		return value == threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	}
	return false
}
