package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"akm_gateway/internal/models"
)

// AlertRepository handles alert rule and history database operations
type AlertRepository struct {
	db *DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{
		db: db,
	}
}

// ActiveRules returns the active rules for a key and metric type
func (r *AlertRepository) ActiveRules(ctx context.Context, keyID uuid.UUID, metricType string) ([]*models.AlertRule, error) {
	query := `
		SELECT id, api_key_id, name, metric_type, threshold_value, threshold_percentage,
		       comparison_operator, cooldown_minutes, is_active, last_triggered_at, created_at, updated_at
		FROM alert_rules
		WHERE api_key_id = $1 AND metric_type = $2 AND is_active = true
		ORDER BY created_at
	`

	var rules []*models.AlertRule
	err := r.db.conn.SelectContext(ctx, &rules, query, keyID, metricType)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}

	return rules, nil
}

// MarkTriggered updates last_triggered_at for a rule
func (r *AlertRepository) MarkTriggered(ctx context.Context, ruleID uuid.UUID, at time.Time) error {
	query := `
		UPDATE alert_rules
		SET last_triggered_at = $2, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.conn.ExecContext(ctx, query, ruleID, at)
	if err != nil {
		return fmt.Errorf("failed to mark alert rule triggered: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrAlertRuleNotFound
	}

	return nil
}

// CreateHistory records one alert trigger
func (r *AlertRepository) CreateHistory(ctx context.Context, history *models.AlertHistory) error {
	query := `
		INSERT INTO alert_history (id, alert_rule_id, api_key_id, metric_value, threshold_value, message, context, webhook_delivery_id, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	if history.ID == uuid.Nil {
		history.ID = uuid.New()
	}
	if history.TriggeredAt.IsZero() {
		history.TriggeredAt = time.Now().UTC()
	}

	err := r.db.conn.QueryRowContext(
		ctx, query,
		history.ID, history.AlertRuleID, history.APIKeyID, history.MetricValue, history.ThresholdValue,
		history.Message, history.Context, history.WebhookDeliveryID, history.TriggeredAt,
	).Scan(&history.ID)

	if err != nil {
		return fmt.Errorf("failed to create alert history: %w", err)
	}

	return nil
}

// ListHistory returns recent alert triggers for a key, newest first
func (r *AlertRepository) ListHistory(ctx context.Context, keyID uuid.UUID, limit int) ([]*models.AlertHistory, error) {
	query := `
		SELECT id, alert_rule_id, api_key_id, metric_value, threshold_value, message, context, webhook_delivery_id, triggered_at
		FROM alert_history
		WHERE api_key_id = $1
		ORDER BY triggered_at DESC
		LIMIT $2
	`

	var history []*models.AlertHistory
	err := r.db.conn.SelectContext(ctx, &history, query, keyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert history: %w", err)
	}

	return history, nil
}

// GetRule retrieves a rule by ID
func (r *AlertRepository) GetRule(ctx context.Context, id uuid.UUID) (*models.AlertRule, error) {
	var rule models.AlertRule
	query := `
		SELECT id, api_key_id, name, metric_type, threshold_value, threshold_percentage,
		       comparison_operator, cooldown_minutes, is_active, last_triggered_at, created_at, updated_at
		FROM alert_rules
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &rule, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAlertRuleNotFound
		}
		return nil, fmt.Errorf("failed to get alert rule: %w", err)
	}

	return &rule, nil
}
