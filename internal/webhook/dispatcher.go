package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"akm_gateway/internal/metrics"
	"akm_gateway/internal/models"
	"akm_gateway/internal/storage"
	"akm_gateway/internal/utils"
)

// EventDeliveryFailed is dispatched when a delivery exhausts its
// retries. The failing webhook itself is excluded from the fan-out.
const EventDeliveryFailed = "webhook_delivery_failed"

const userAgent = "AKM-Webhook/1.0"

// maxStoredResponseBytes caps how much of a receiver's response body is
// kept on the delivery row.
const maxStoredResponseBytes = 1000

// DeliveryStore persists webhooks and their deliveries.
type DeliveryStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Webhook, error)
	ListSubscribed(ctx context.Context, projectID uuid.UUID, eventType string) ([]*models.Webhook, error)
	CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
	UpdateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
	DueRetries(ctx context.Context, now time.Time, limit int) ([]*models.WebhookDelivery, error)
	ClaimRetry(ctx context.Context, id uuid.UUID) error
}

// Dispatcher fans events out to subscribed webhooks and drives the
// retry lifecycle of their deliveries.
type Dispatcher struct {
	store  DeliveryStore
	client *http.Client
	logger *utils.Logger
}

// NewDispatcher creates a new dispatcher. The client's per-request
// timeout comes from each webhook's config, so the shared client has
// none.
func NewDispatcher(store DeliveryStore) *Dispatcher {
	return &Dispatcher{
		store:  store,
		client: &http.Client{},
		logger: utils.NewLogger("webhook-dispatcher"),
	}
}

// Dispatch delivers an event to every active webhook of the project
// with an active subscription to eventType. Each match gets its own
// delivery row and an immediate attempt. No subscribers is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, projectID uuid.UUID, eventType string, data map[string]any) error {
	return d.dispatch(ctx, projectID, eventType, data, uuid.Nil)
}

func (d *Dispatcher) dispatch(ctx context.Context, projectID uuid.UUID, eventType string, data map[string]any, skipWebhookID uuid.UUID) error {
	hooks, err := d.store.ListSubscribed(ctx, projectID, eventType)
	if err != nil {
		return fmt.Errorf("failed to resolve subscribers for %s: %w", eventType, err)
	}

	for _, hook := range hooks {
		if hook.ID == skipWebhookID {
			continue
		}

		delivery := &models.WebhookDelivery{
			WebhookID: hook.ID,
			EventType: eventType,
			Payload:   models.JSONB(data),
			Status:    models.DeliveryPending,
		}
		if err := d.store.CreateDelivery(ctx, delivery); err != nil {
			d.logger.Error("Failed to create delivery", "webhook_id", hook.ID, "event_type", eventType, "error", err)
			continue
		}

		d.attempt(ctx, hook, delivery)
	}

	return nil
}

// QuotaEvent adapts quota notifications onto Dispatch, keyed by the
// key's project. Delivery runs in the background on a context that
// outlives the request, so slow receivers never hold up the caller.
func (d *Dispatcher) QuotaEvent(ctx context.Context, key *models.APIKey, eventType string, data map[string]any) {
	projectID := key.ProjectID
	go func() {
		if err := d.Dispatch(context.WithoutCancel(ctx), projectID, eventType, data); err != nil {
			d.logger.Error("Failed to dispatch quota event", "event_type", eventType, "error", err)
		}
	}()
}

// attempt performs one delivery attempt and records its outcome.
func (d *Dispatcher) attempt(ctx context.Context, hook *models.Webhook, delivery *models.WebhookDelivery) {
	body, err := d.buildBody(delivery)
	if err != nil {
		d.recordFailure(ctx, hook, delivery, nil, nil, err.Error())
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, hook.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		d.recordFailure(ctx, hook, delivery, nil, nil, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(hook.Secret, body))
	req.Header.Set("X-Event-Type", delivery.EventType)
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		d.recordFailure(ctx, hook, delivery, nil, nil, err.Error())
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxStoredResponseBytes))
	bodyStr := string(respBody)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		now := time.Now().UTC()
		delivery.Status = models.DeliverySuccess
		delivery.ResponseStatus = &resp.StatusCode
		delivery.ResponseBody = &bodyStr
		delivery.DeliveredAt = &now
		delivery.LastError = nil
		delivery.NextRetryAt = nil
		if err := d.store.UpdateDelivery(ctx, delivery); err != nil {
			d.logger.Error("Failed to mark delivery success", "delivery_id", delivery.ID, "error", err)
		}
		metrics.WebhookDeliveries.WithLabelValues(delivery.Status).Inc()
		return
	}

	d.recordFailure(ctx, hook, delivery, &resp.StatusCode, &bodyStr,
		fmt.Sprintf("receiver returned status %d", resp.StatusCode))
}

// buildBody wraps the stored payload into the wire envelope. Map keys
// serialize sorted, so receivers can verify the signature over a
// canonical body.
func (d *Dispatcher) buildBody(delivery *models.WebhookDelivery) ([]byte, error) {
	envelope := map[string]any{
		"event_type":  delivery.EventType,
		"data":        map[string]any(delivery.Payload),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"delivery_id": delivery.ID.String(),
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}
	return body, nil
}

// recordFailure updates the delivery after a failed attempt and
// schedules a retry or finalizes it.
func (d *Dispatcher) recordFailure(ctx context.Context, hook *models.Webhook, delivery *models.WebhookDelivery, status *int, respBody *string, errMsg string) {
	delivery.AttemptCount++
	delivery.LastError = &errMsg
	delivery.ResponseStatus = status
	delivery.ResponseBody = respBody

	policy := hook.RetryPolicy()
	if delivery.AttemptCount < policy.MaxRetries {
		next := time.Now().UTC().Add(policy.BackoffFor(delivery.AttemptCount))
		delivery.Status = models.DeliveryRetrying
		delivery.NextRetryAt = &next
	} else {
		delivery.Status = models.DeliveryFailed
		delivery.NextRetryAt = nil
	}

	if err := d.store.UpdateDelivery(ctx, delivery); err != nil {
		d.logger.Error("Failed to record delivery failure", "delivery_id", delivery.ID, "error", err)
		return
	}
	metrics.WebhookDeliveries.WithLabelValues(delivery.Status).Inc()

	d.logger.Warn("Webhook delivery attempt failed",
		"delivery_id", delivery.ID, "webhook_id", hook.ID,
		"attempt", delivery.AttemptCount, "status", delivery.Status, "error", errMsg)

	if delivery.Status == models.DeliveryFailed {
		// Notify the project's other webhooks; the failing endpoint is
		// skipped so a dead receiver cannot generate deliveries to itself.
		failData := map[string]any{
			"webhook_id":  hook.ID.String(),
			"webhook_url": hook.URL,
			"delivery_id": delivery.ID.String(),
			"event_type":  delivery.EventType,
			"error":       errMsg,
		}
		if err := d.dispatch(ctx, hook.ProjectID, EventDeliveryFailed, failData, hook.ID); err != nil {
			d.logger.Error("Failed to dispatch delivery failure event", "error", err)
		}
	}
}

// ProcessRetries attempts every retrying delivery that is due. Each
// delivery is claimed before the attempt; losing the claim means
// another sweeper took it.
func (d *Dispatcher) ProcessRetries(ctx context.Context, now time.Time) (int, error) {
	due, err := d.store.DueRetries(ctx, now, 100)
	if err != nil {
		return 0, fmt.Errorf("failed to list due retries: %w", err)
	}

	processed := 0
	for _, delivery := range due {
		if err := d.store.ClaimRetry(ctx, delivery.ID); err != nil {
			if errors.Is(err, storage.ErrDeliveryClaimed) {
				continue
			}
			d.logger.Error("Failed to claim delivery", "delivery_id", delivery.ID, "error", err)
			continue
		}
		delivery.Status = models.DeliveryPending

		hook, err := d.store.GetByID(ctx, delivery.WebhookID)
		if err != nil {
			d.logger.Error("Failed to load webhook for retry", "delivery_id", delivery.ID, "error", err)
			continue
		}
		if !hook.IsActive {
			// The endpoint was deactivated while the delivery waited.
			msg := "webhook deactivated"
			delivery.Status = models.DeliveryFailed
			delivery.LastError = &msg
			delivery.NextRetryAt = nil
			if err := d.store.UpdateDelivery(ctx, delivery); err != nil {
				d.logger.Error("Failed to finalize delivery", "delivery_id", delivery.ID, "error", err)
			}
			continue
		}

		d.attempt(ctx, hook, delivery)
		processed++
	}

	return processed, nil
}
