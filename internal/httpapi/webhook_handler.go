package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"akm_gateway/internal/middleware"
	"akm_gateway/internal/models"
	"akm_gateway/internal/storage"
	"akm_gateway/internal/utils"
)

const defaultDeliveryPageSize = 50

// WebhookStore is the slice of the webhook repository the read API
// uses.
type WebhookStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Webhook, error)
	ListDeliveries(ctx context.Context, webhookID uuid.UUID, limit int) ([]*models.WebhookDelivery, error)
}

// WebhookHandler serves the webhook delivery history.
type WebhookHandler struct {
	store WebhookStore
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(store WebhookStore) *WebhookHandler {
	return &WebhookHandler{store: store}
}

// ListDeliveries returns a webhook's delivery history, newest first.
func (h *WebhookHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid webhook ID")
		return
	}

	limit := defaultDeliveryPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			utils.RespondWithError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	hook, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrWebhookNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Webhook not found")
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load webhook")
		return
	}

	// A key only sees its own project's webhooks. A foreign webhook is
	// indistinguishable from a missing one.
	if key, ok := middleware.GetAPIKeyRecord(r.Context()); ok && hook.ProjectID != key.ProjectID {
		utils.RespondWithError(w, http.StatusNotFound, "Webhook not found")
		return
	}

	deliveries, err := h.store.ListDeliveries(r.Context(), id, limit)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []*models.WebhookDelivery{}
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"webhook_id": id,
		"deliveries": deliveries,
	})
}
