package models

import (
	"time"

	"github.com/google/uuid"
)

// Sanitization strategies.
const (
	StrategyRedact = "redact"
	StrategyMask   = "mask"
)

// SensitiveField is a project-scoped sanitization rule stored in the
// database. Field names match case-insensitively, either exactly or as
// a substring of the audited field name.
type SensitiveField struct {
	ID        uuid.UUID `db:"id"`
	ProjectID uuid.UUID `db:"project_id"`
	FieldName string    `db:"field_name"`
	Strategy  string    `db:"strategy"`
	Params    JSONB     `db:"params"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
