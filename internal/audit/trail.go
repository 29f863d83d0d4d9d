package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"akm_gateway/internal/metrics"
	"akm_gateway/internal/models"
	"akm_gateway/internal/storage"
	"akm_gateway/internal/utils"
)

// CorrelationHeader carries the operation's correlation ID back to the
// caller.
const CorrelationHeader = "X-Correlation-ID"

type contextKey string

const correlationKey contextKey = "audit_correlation_id"

// WithCorrelation returns a context carrying a correlation ID and the
// ID itself. An ID already on the context is reused, so nested
// operations share their parent's.
func WithCorrelation(ctx context.Context) (context.Context, string) {
	if id, ok := CorrelationID(ctx); ok {
		return ctx, id
	}
	id := uuid.NewString()
	return context.WithValue(ctx, correlationKey, id), id
}

// CorrelationID returns the correlation ID on the context, if any.
func CorrelationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationKey).(string)
	return id, ok && id != ""
}

// StatusForResponse maps an HTTP response status onto an audit status.
func StatusForResponse(code int) string {
	switch {
	case code >= 500:
		return models.AuditStatusFailure
	case code >= 400:
		return models.AuditStatusDenied
	default:
		return models.AuditStatusSuccess
	}
}

// EntryStore persists and reads back audit entries.
type EntryStore interface {
	Create(ctx context.Context, entry *models.AuditEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEntry, error)
	List(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error)
}

// Spooler buffers entries that could not be persisted directly.
type Spooler interface {
	Enqueue(entry *models.AuditEntry) error
}

// ArchiveSink receives entries that were committed to the store, for
// batch export.
type ArchiveSink interface {
	Add(ctx context.Context, entry *models.AuditEntry)
}

// Record describes one auditable event. RequestBody is sanitized
// before the entry is sealed.
type Record struct {
	Operation    string
	Action       string
	ResourceType *string
	ResourceID   *string
	Endpoint     *string
	HTTPMethod   *string
	APIKeyID     *uuid.UUID
	ProjectID    *uuid.UUID
	IPAddress    *string
	RequestBody  map[string]any
	ResponseStat *int
}

// Trail builds, seals and persists audit entries. Persistence is best
// effort: a failed insert spools the entry instead of failing the
// request that produced it.
type Trail struct {
	store    EntryStore
	resolver *FieldResolver
	spooler  Spooler
	sink     ArchiveSink
	logger   *utils.Logger
}

// NewTrail creates a trail. resolver and spooler may be nil.
func NewTrail(store EntryStore, resolver *FieldResolver, spooler Spooler) *Trail {
	return &Trail{
		store:    store,
		resolver: resolver,
		spooler:  spooler,
		logger:   utils.NewLogger("audit-trail"),
	}
}

// SetArchiveSink routes committed entries to an archive sink.
func (t *Trail) SetArchiveSink(sink ArchiveSink) {
	t.sink = sink
}

// Write sanitizes, seals and persists an entry for the record. The
// returned entry is always sealed, even when persistence was deferred
// to the spooler.
func (t *Trail) Write(ctx context.Context, rec Record) (*models.AuditEntry, error) {
	correlationID, ok := CorrelationID(ctx)
	if !ok {
		correlationID = uuid.NewString()
	}

	body := rec.RequestBody
	if body != nil && t.resolver != nil {
		projectID := uuid.Nil
		if rec.ProjectID != nil {
			projectID = *rec.ProjectID
		}
		body = t.resolver.SanitizerFor(ctx, projectID).Sanitize(body)
	}

	status := models.AuditStatusSuccess
	if rec.ResponseStat != nil {
		status = StatusForResponse(*rec.ResponseStat)
	}

	entry := &models.AuditEntry{
		ID:            uuid.New(),
		CorrelationID: correlationID,
		// Postgres timestamps carry microseconds; sealing with more
		// precision would break hash verification after a round trip.
		Timestamp:    time.Now().UTC().Truncate(time.Microsecond),
		Operation:    rec.Operation,
		Action:       rec.Action,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		Endpoint:     rec.Endpoint,
		HTTPMethod:   rec.HTTPMethod,
		APIKeyID:     rec.APIKeyID,
		ProjectID:    rec.ProjectID,
		IPAddress:    rec.IPAddress,
		RequestBody:  models.JSONB(body),
		ResponseStat: rec.ResponseStat,
		Status:       status,
	}

	if err := entry.Seal(); err != nil {
		return nil, fmt.Errorf("failed to seal audit entry: %w", err)
	}

	if err := t.store.Create(ctx, entry); err != nil {
		t.logger.Error("Failed to persist audit entry", "operation", entry.Operation, "error", err)
		if t.spooler != nil {
			metrics.AuditSpooled.Inc()
			if spoolErr := t.spooler.Enqueue(entry); spoolErr != nil {
				t.logger.Error("Failed to spool audit entry", "operation", entry.Operation, "error", spoolErr)
			}
		}
		return entry, nil
	}

	if t.sink != nil {
		t.sink.Add(ctx, entry)
	}

	return entry, nil
}

// VerifyEntry recomputes one entry's hash against the stored one.
func (t *Trail) VerifyEntry(ctx context.Context, id uuid.UUID) (bool, *models.AuditEntry, error) {
	entry, err := t.store.GetByID(ctx, id)
	if err != nil {
		return false, nil, err
	}
	ok, err := entry.VerifyHash()
	if err != nil {
		return false, entry, err
	}
	return ok, entry, nil
}

// IntegrityReport summarizes a bulk verification pass.
type IntegrityReport struct {
	Total      int         `json:"total"`
	Verified   int         `json:"verified"`
	Score      float64     `json:"integrity_score"`
	Violations []uuid.UUID `json:"violations,omitempty"`
}

// VerifyRange re-hashes every entry matching the filter. The score is
// the verified percentage; an empty range scores 100.
func (t *Trail) VerifyRange(ctx context.Context, filter storage.AuditFilter) (*IntegrityReport, error) {
	entries, err := t.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	report := &IntegrityReport{Total: len(entries)}
	for _, entry := range entries {
		ok, err := entry.VerifyHash()
		if err != nil || !ok {
			report.Violations = append(report.Violations, entry.ID)
			continue
		}
		report.Verified++
	}

	if report.Total == 0 {
		report.Score = 100
	} else {
		report.Score = float64(report.Verified) / float64(report.Total) * 100
	}

	if len(report.Violations) > 0 {
		t.logger.Warn("Audit integrity violations found", "total", report.Total, "violations", len(report.Violations))
	}

	return report, nil
}
