package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"akm_gateway/internal/models"
)

// WebhookRepository handles webhook and delivery database operations
type WebhookRepository struct {
	db *DB
}

// NewWebhookRepository creates a new webhook repository
func NewWebhookRepository(db *DB) *WebhookRepository {
	return &WebhookRepository{
		db: db,
	}
}

// GetByID retrieves a webhook by ID
func (r *WebhookRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Webhook, error) {
	var hook models.Webhook
	query := `
		SELECT id, project_id, name, url, secret, is_active, timeout_seconds, retry_policy, created_at, updated_at
		FROM webhooks
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &hook, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrWebhookNotFound
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}

	return &hook, nil
}

// ListSubscribed returns the active webhooks of a project that hold an
// active subscription to the given event type. Unknown event names
// simply match nothing.
func (r *WebhookRepository) ListSubscribed(ctx context.Context, projectID uuid.UUID, eventType string) ([]*models.Webhook, error) {
	query := `
		SELECT w.id, w.project_id, w.name, w.url, w.secret, w.is_active, w.timeout_seconds, w.retry_policy, w.created_at, w.updated_at
		FROM webhooks w
		JOIN webhook_subscriptions ws ON ws.webhook_id = w.id
		JOIN webhook_events we ON we.id = ws.event_id
		WHERE w.project_id = $1
		  AND w.is_active = true
		  AND ws.is_active = true
		  AND we.name = $2
		ORDER BY w.created_at
	`

	var hooks []*models.Webhook
	err := r.db.conn.SelectContext(ctx, &hooks, query, projectID, eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribed webhooks: %w", err)
	}

	return hooks, nil
}

// CreateDelivery inserts a new delivery row in pending state
func (r *WebhookRepository) CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	query := `
		INSERT INTO webhook_deliveries (id, webhook_id, event_type, payload, status, attempt_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	if delivery.ID == uuid.Nil {
		delivery.ID = uuid.New()
	}
	if delivery.Status == "" {
		delivery.Status = models.DeliveryPending
	}

	err := r.db.conn.QueryRowContext(
		ctx, query,
		delivery.ID, delivery.WebhookID, delivery.EventType, delivery.Payload, delivery.Status, delivery.AttemptCount,
	).Scan(&delivery.ID, &delivery.CreatedAt, &delivery.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create webhook delivery: %w", err)
	}

	return nil
}

// UpdateDelivery writes the mutable attempt-tracking fields of a delivery
func (r *WebhookRepository) UpdateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $2, attempt_count = $3, response_status = $4, response_body = $5,
		    last_error = $6, next_retry_at = $7, delivered_at = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.conn.QueryRowContext(
		ctx, query,
		delivery.ID, delivery.Status, delivery.AttemptCount, delivery.ResponseStatus, delivery.ResponseBody,
		delivery.LastError, delivery.NextRetryAt, delivery.DeliveredAt,
	).Scan(&delivery.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return ErrDeliveryNotFound
		}
		return fmt.Errorf("failed to update webhook delivery: %w", err)
	}

	return nil
}

// GetDelivery retrieves a delivery by ID
func (r *WebhookRepository) GetDelivery(ctx context.Context, id uuid.UUID) (*models.WebhookDelivery, error) {
	var delivery models.WebhookDelivery
	query := `
		SELECT id, webhook_id, event_type, payload, status, attempt_count, response_status, response_body,
		       last_error, next_retry_at, delivered_at, created_at, updated_at
		FROM webhook_deliveries
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &delivery, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("failed to get webhook delivery: %w", err)
	}

	return &delivery, nil
}

// DueRetries returns deliveries in retrying state whose next attempt is
// due at or before now.
func (r *WebhookRepository) DueRetries(ctx context.Context, now time.Time, limit int) ([]*models.WebhookDelivery, error) {
	query := `
		SELECT id, webhook_id, event_type, payload, status, attempt_count, response_status, response_body,
		       last_error, next_retry_at, delivered_at, created_at, updated_at
		FROM webhook_deliveries
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY next_retry_at
		LIMIT $3
	`

	var deliveries []*models.WebhookDelivery
	err := r.db.conn.SelectContext(ctx, &deliveries, query, models.DeliveryRetrying, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due retries: %w", err)
	}

	return deliveries, nil
}

// ClaimRetry transitions a delivery from retrying back to pending. The
// guarded update makes the claim exclusive: zero rows affected means a
// concurrent sweeper already owns the delivery.
func (r *WebhookRepository) ClaimRetry(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`

	result, err := r.db.conn.ExecContext(ctx, query, id, models.DeliveryPending, models.DeliveryRetrying)
	if err != nil {
		return fmt.Errorf("failed to claim webhook delivery: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrDeliveryClaimed
	}

	return nil
}

// ListDeliveries returns the delivery history of a webhook, newest first
func (r *WebhookRepository) ListDeliveries(ctx context.Context, webhookID uuid.UUID, limit int) ([]*models.WebhookDelivery, error) {
	query := `
		SELECT id, webhook_id, event_type, payload, status, attempt_count, response_status, response_body,
		       last_error, next_retry_at, delivered_at, created_at, updated_at
		FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var deliveries []*models.WebhookDelivery
	err := r.db.conn.SelectContext(ctx, &deliveries, query, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook deliveries: %w", err)
	}

	return deliveries, nil
}
