package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"akm_gateway/internal/models"
)

// SensitiveFieldRepository handles sanitization rule database operations
type SensitiveFieldRepository struct {
	db *DB
}

// NewSensitiveFieldRepository creates a new sensitive field repository
func NewSensitiveFieldRepository(db *DB) *SensitiveFieldRepository {
	return &SensitiveFieldRepository{
		db: db,
	}
}

// ActiveForProject returns the active sanitization rules of a project
func (r *SensitiveFieldRepository) ActiveForProject(ctx context.Context, projectID uuid.UUID) ([]*models.SensitiveField, error) {
	query := `
		SELECT id, project_id, field_name, strategy, params, is_active, created_at, updated_at
		FROM sensitive_fields
		WHERE project_id = $1 AND is_active = true
		ORDER BY field_name
	`

	var fields []*models.SensitiveField
	err := r.db.conn.SelectContext(ctx, &fields, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sensitive fields: %w", err)
	}

	return fields, nil
}
