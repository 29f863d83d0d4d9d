package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"akm_gateway/internal/audit"
	"akm_gateway/internal/models"
	"akm_gateway/internal/storage"
	"akm_gateway/internal/utils"
)

// AuditStore is the slice of the audit repository the handler reads
// from.
type AuditStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEntry, error)
	ByCorrelation(ctx context.Context, correlationID string) ([]*models.AuditEntry, error)
	List(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error)
	Count(ctx context.Context, filter storage.AuditFilter) (int64, error)
	OperationsSummary(ctx context.Context, filter storage.AuditFilter) ([]*storage.OperationCount, error)
}

// AuditHandler serves the audit read API.
type AuditHandler struct {
	store AuditStore
	trail *audit.Trail
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(store AuditStore, trail *audit.Trail) *AuditHandler {
	return &AuditHandler{
		store: store,
		trail: trail,
	}
}

type auditListResponse struct {
	Entries []*models.AuditEntry `json:"entries"`
	Total   int64                `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// ListEntries returns entries matching the query filters, newest first.
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.store.List(r.Context(), filter)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list audit entries")
		return
	}
	total, err := h.store.Count(r.Context(), filter)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to count audit entries")
		return
	}

	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	limit := filter.Limit
	if limit <= 0 || limit > storage.MaxAuditPageSize {
		limit = storage.MaxAuditPageSize
	}

	utils.RespondWithJSON(w, http.StatusOK, auditListResponse{
		Entries: entries,
		Total:   total,
		Limit:   limit,
		Offset:  filter.Offset,
	})
}

// GetEntry returns one entry by ID.
func (h *AuditHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid entry ID")
		return
	}

	entry, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrAuditEntryNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Audit entry not found")
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get audit entry")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, entry)
}

// VerifyEntry re-hashes one entry and reports whether it is intact.
func (h *AuditHandler) VerifyEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid entry ID")
		return
	}

	valid, entry, err := h.trail.VerifyEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrAuditEntryNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Audit entry not found")
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to verify audit entry")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"entry_id":   entry.ID,
		"valid":      valid,
		"entry_hash": entry.EntryHash,
	})
}

// ByCorrelation returns every entry of one operation, oldest first.
func (h *AuditHandler) ByCorrelation(w http.ResponseWriter, r *http.Request) {
	correlationID := r.PathValue("id")
	if correlationID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Correlation ID is required")
		return
	}

	entries, err := h.store.ByCorrelation(r.Context(), correlationID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get entries")
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"correlation_id": correlationID,
		"entries":        entries,
	})
}

// ResourceActivity returns the audit history of one resource, newest
// first.
func (h *AuditHandler) ResourceActivity(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.ResourceType = r.PathValue("type")
	filter.ResourceID = r.PathValue("id")

	entries, err := h.store.List(r.Context(), filter)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list resource activity")
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"resource_type": filter.ResourceType,
		"resource_id":   filter.ResourceID,
		"entries":       entries,
	})
}

// OperationsSummary aggregates entry counts per operation and status.
func (h *AuditHandler) OperationsSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.store.OperationsSummary(r.Context(), filter)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to summarize audit entries")
		return
	}
	if summary == nil {
		summary = []*storage.OperationCount{}
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"operations": summary})
}

// VerifyRange re-hashes every entry in the filtered range and reports
// the integrity score.
func (h *AuditHandler) VerifyRange(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.trail.VerifyRange(r.Context(), filter)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to verify audit entries")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, report)
}

func parseAuditFilter(r *http.Request) (storage.AuditFilter, error) {
	q := r.URL.Query()
	filter := storage.AuditFilter{
		Operation:    q.Get("operation"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		Status:       q.Get("status"),
		IPAddress:    q.Get("ip_address"),
	}

	if v := q.Get("project_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, errors.New("invalid project_id")
		}
		filter.ProjectID = &id
	}
	if v := q.Get("api_key_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, errors.New("invalid api_key_id")
		}
		filter.APIKeyID = &id
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("invalid from timestamp, want RFC3339")
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("invalid to timestamp, want RFC3339")
		}
		filter.To = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New("invalid offset")
		}
		filter.Offset = n
	}

	return filter, nil
}
