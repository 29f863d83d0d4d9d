package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"akm_gateway/internal/audit"
	"akm_gateway/internal/models"
	"akm_gateway/internal/storage"
)

type fakeAuditStore struct {
	entries    []*models.AuditEntry
	lastFilter storage.AuditFilter
}

func (f *fakeAuditStore) GetByID(_ context.Context, id uuid.UUID) (*models.AuditEntry, error) {
	for _, entry := range f.entries {
		if entry.ID == id {
			return entry, nil
		}
	}
	return nil, storage.ErrAuditEntryNotFound
}

func (f *fakeAuditStore) ByCorrelation(_ context.Context, correlationID string) ([]*models.AuditEntry, error) {
	var out []*models.AuditEntry
	for _, entry := range f.entries {
		if entry.CorrelationID == correlationID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeAuditStore) List(_ context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	f.lastFilter = filter
	return f.entries, nil
}

func (f *fakeAuditStore) Count(_ context.Context, _ storage.AuditFilter) (int64, error) {
	return int64(len(f.entries)), nil
}

func (f *fakeAuditStore) Create(_ context.Context, entry *models.AuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditStore) OperationsSummary(_ context.Context, _ storage.AuditFilter) ([]*storage.OperationCount, error) {
	counts := make(map[string]*storage.OperationCount)
	var out []*storage.OperationCount
	for _, entry := range f.entries {
		key := entry.Operation + "/" + entry.Status
		if c, ok := counts[key]; ok {
			c.Count++
			continue
		}
		c := &storage.OperationCount{Operation: entry.Operation, Status: entry.Status, Count: 1}
		counts[key] = c
		out = append(out, c)
	}
	return out, nil
}

func sealedTestEntry(t *testing.T, operation string) *models.AuditEntry {
	t.Helper()
	entry := &models.AuditEntry{
		ID:            uuid.New(),
		CorrelationID: uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Operation:     operation,
		Action:        "read",
		Status:        models.AuditStatusSuccess,
	}
	require.NoError(t, entry.Seal())
	return entry
}

func newAuditHandler(store *fakeAuditStore) *AuditHandler {
	return NewAuditHandler(store, audit.NewTrail(store, nil, nil))
}

func TestAuditHandlerListEntries(t *testing.T) {
	store := &fakeAuditStore{entries: []*models.AuditEntry{
		sealedTestEntry(t, "key_validation"),
		sealedTestEntry(t, "audit_read"),
	}}
	handler := newAuditHandler(store)

	t.Run("returns entries with pagination metadata", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ListEntries(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/entries?limit=50&offset=10", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp auditListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Entries, 2)
		assert.Equal(t, int64(2), resp.Total)
		assert.Equal(t, 50, resp.Limit)
		assert.Equal(t, 10, resp.Offset)
	})

	t.Run("passes filters through", func(t *testing.T) {
		projectID := uuid.New()
		url := "/v1/audit/entries?project_id=" + projectID.String() +
			"&operation=key_validation&status=denied&from=2026-08-01T00:00:00Z"
		rec := httptest.NewRecorder()
		handler.ListEntries(rec, httptest.NewRequest(http.MethodGet, url, nil))

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, store.lastFilter.ProjectID)
		assert.Equal(t, projectID, *store.lastFilter.ProjectID)
		assert.Equal(t, "key_validation", store.lastFilter.Operation)
		assert.Equal(t, "denied", store.lastFilter.Status)
		require.NotNil(t, store.lastFilter.From)
	})

	t.Run("rejects malformed filters", func(t *testing.T) {
		for _, url := range []string{
			"/v1/audit/entries?project_id=not-a-uuid",
			"/v1/audit/entries?from=yesterday",
			"/v1/audit/entries?limit=-1",
		} {
			rec := httptest.NewRecorder()
			handler.ListEntries(rec, httptest.NewRequest(http.MethodGet, url, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code, url)
		}
	})
}

func TestAuditHandlerGetEntry(t *testing.T) {
	entry := sealedTestEntry(t, "key_validation")
	store := &fakeAuditStore{entries: []*models.AuditEntry{entry}}
	handler := newAuditHandler(store)

	request := func(id string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/v1/audit/entries/"+id, nil)
		req.SetPathValue("id", id)
		return req
	}

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.GetEntry(rec, request(entry.ID.String()))

		require.Equal(t, http.StatusOK, rec.Code)
		var got models.AuditEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, entry.ID, got.ID)
		assert.Equal(t, entry.EntryHash, got.EntryHash)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.GetEntry(rec, request(uuid.NewString()))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id is bad request", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.GetEntry(rec, request("nope"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuditHandlerVerify(t *testing.T) {
	intact := sealedTestEntry(t, "key_validation")
	tampered := sealedTestEntry(t, "audit_read")
	tampered.Operation = "rewritten"
	store := &fakeAuditStore{entries: []*models.AuditEntry{intact, tampered}}
	handler := newAuditHandler(store)

	t.Run("intact entry verifies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/audit/entries/"+intact.ID.String()+"/verify", nil)
		req.SetPathValue("id", intact.ID.String())
		rec := httptest.NewRecorder()
		handler.VerifyEntry(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["valid"])
	})

	t.Run("tampered entry fails verification", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/audit/entries/"+tampered.ID.String()+"/verify", nil)
		req.SetPathValue("id", tampered.ID.String())
		rec := httptest.NewRecorder()
		handler.VerifyEntry(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, false, resp["valid"])
	})

	t.Run("bulk verify reports the score", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.VerifyRange(rec, httptest.NewRequest(http.MethodPost, "/v1/audit/verify", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var report audit.IntegrityReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, 2, report.Total)
		assert.Equal(t, 1, report.Verified)
		assert.Equal(t, 50.0, report.Score)
		assert.Equal(t, []uuid.UUID{tampered.ID}, report.Violations)
	})
}

func TestAuditHandlerByCorrelation(t *testing.T) {
	first := sealedTestEntry(t, "key_validation")
	second := sealedTestEntry(t, "quota_check")
	second.CorrelationID = first.CorrelationID
	store := &fakeAuditStore{entries: []*models.AuditEntry{first, second, sealedTestEntry(t, "other")}}
	handler := newAuditHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/v1/audit/correlation/"+first.CorrelationID, nil)
	req.SetPathValue("id", first.CorrelationID)
	rec := httptest.NewRecorder()
	handler.ByCorrelation(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		CorrelationID string               `json:"correlation_id"`
		Entries       []*models.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, first.CorrelationID, resp.CorrelationID)
	assert.Len(t, resp.Entries, 2)
}

func TestAuditHandlerResourceActivity(t *testing.T) {
	store := &fakeAuditStore{entries: []*models.AuditEntry{sealedTestEntry(t, "api_request")}}
	handler := newAuditHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/v1/audit/resources/keys/abc123", nil)
	req.SetPathValue("type", "keys")
	req.SetPathValue("id", "abc123")
	rec := httptest.NewRecorder()
	handler.ResourceActivity(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "keys", store.lastFilter.ResourceType)
	assert.Equal(t, "abc123", store.lastFilter.ResourceID)

	var resp struct {
		ResourceType string               `json:"resource_type"`
		ResourceID   string               `json:"resource_id"`
		Entries      []*models.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "keys", resp.ResourceType)
	assert.Len(t, resp.Entries, 1)
}

func TestAuditHandlerOperationsSummary(t *testing.T) {
	store := &fakeAuditStore{entries: []*models.AuditEntry{
		sealedTestEntry(t, "key_validation"),
		sealedTestEntry(t, "key_validation"),
		sealedTestEntry(t, "audit_read"),
	}}
	handler := newAuditHandler(store)

	rec := httptest.NewRecorder()
	handler.OperationsSummary(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/operations/summary", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Operations []*storage.OperationCount `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Operations, 2)
}
