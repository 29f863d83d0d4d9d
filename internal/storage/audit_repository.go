package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"akm_gateway/internal/models"
)

// MaxAuditPageSize caps the page size of audit queries.
const MaxAuditPageSize = 1000

// AuditFilter narrows audit entry queries. Zero-valued fields are not
// applied.
type AuditFilter struct {
	ProjectID    *uuid.UUID
	APIKeyID     *uuid.UUID
	Operation    string
	ResourceType string
	ResourceID   string
	Status       string
	IPAddress    string
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{
		db: db,
	}
}

const auditColumns = `id, correlation_id, timestamp, operation, action, resource_type, resource_id,
	endpoint, http_method, api_key_id, project_id, ip_address, request_payload, response_status,
	status, entry_hash, created_at`

// Create inserts a sealed audit entry
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_log_entries (id, correlation_id, timestamp, operation, action, resource_type, resource_id,
			endpoint, http_method, api_key_id, project_id, ip_address, request_payload, response_status, status, entry_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at
	`

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	err := r.db.conn.QueryRowContext(
		ctx, query,
		entry.ID, entry.CorrelationID, entry.Timestamp, entry.Operation, entry.Action,
		entry.ResourceType, entry.ResourceID, entry.Endpoint, entry.HTTPMethod,
		entry.APIKeyID, entry.ProjectID, entry.IPAddress, entry.RequestBody,
		entry.ResponseStat, entry.Status, entry.EntryHash,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	return nil
}

// GetByID retrieves an audit entry by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEntry, error) {
	var entry models.AuditEntry
	query := `SELECT ` + auditColumns + ` FROM audit_log_entries WHERE id = $1`

	err := r.db.conn.GetContext(ctx, &entry, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAuditEntryNotFound
		}
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}

	return &entry, nil
}

// ByCorrelation returns every entry of one operation, oldest first
func (r *AuditRepository) ByCorrelation(ctx context.Context, correlationID string) ([]*models.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log_entries WHERE correlation_id = $1 ORDER BY timestamp`

	var entries []*models.AuditEntry
	err := r.db.conn.SelectContext(ctx, &entries, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries by correlation: %w", err)
	}

	return entries, nil
}

// List returns entries matching the filter, newest first
func (r *AuditRepository) List(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	where, args := buildAuditWhere(filter)

	limit := filter.Limit
	if limit <= 0 || limit > MaxAuditPageSize {
		limit = MaxAuditPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(
		`SELECT %s FROM audit_log_entries %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		auditColumns, where, len(args)-1, len(args),
	)

	var entries []*models.AuditEntry
	err := r.db.conn.SelectContext(ctx, &entries, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	return entries, nil
}

// Count returns the number of entries matching the filter
func (r *AuditRepository) Count(ctx context.Context, filter AuditFilter) (int64, error) {
	where, args := buildAuditWhere(filter)
	query := `SELECT COUNT(*) FROM audit_log_entries ` + where

	var count int64
	err := r.db.conn.GetContext(ctx, &count, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	return count, nil
}

// OperationCount is one row of the operations summary
type OperationCount struct {
	Operation string `db:"operation" json:"operation"`
	Status    string `db:"status" json:"status"`
	Count     int64  `db:"count" json:"count"`
}

// OperationsSummary aggregates entry counts per operation and status
// over a time range.
func (r *AuditRepository) OperationsSummary(ctx context.Context, filter AuditFilter) ([]*OperationCount, error) {
	where, args := buildAuditWhere(filter)
	query := fmt.Sprintf(
		`SELECT operation, status, COUNT(*) AS count FROM audit_log_entries %s GROUP BY operation, status ORDER BY count DESC`,
		where,
	)

	var summary []*OperationCount
	err := r.db.conn.SelectContext(ctx, &summary, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize audit entries: %w", err)
	}

	return summary, nil
}

func buildAuditWhere(filter AuditFilter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.ProjectID != nil {
		add("project_id = $%d", *filter.ProjectID)
	}
	if filter.APIKeyID != nil {
		add("api_key_id = $%d", *filter.APIKeyID)
	}
	if filter.Operation != "" {
		add("operation = $%d", filter.Operation)
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.IPAddress != "" {
		add("ip_address = $%d", filter.IPAddress)
	}
	if filter.From != nil {
		add("timestamp >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("timestamp <= $%d", *filter.To)
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}
