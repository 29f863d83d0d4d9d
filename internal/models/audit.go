package models

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Audit entry statuses.
const (
	AuditStatusSuccess = "success"
	AuditStatusDenied  = "denied"
	AuditStatusFailure = "failure"
)

// AuditEntry is one immutable audit record. EntryHash covers the
// immutable fields; recomputing it later detects tampering.
type AuditEntry struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	CorrelationID string     `db:"correlation_id" json:"correlation_id"`
	Timestamp     time.Time  `db:"timestamp" json:"timestamp"`
	Operation     string     `db:"operation" json:"operation"`
	Action        string     `db:"action" json:"action"`
	ResourceType  *string    `db:"resource_type" json:"resource_type,omitempty"`
	ResourceID    *string    `db:"resource_id" json:"resource_id,omitempty"`
	Endpoint      *string    `db:"endpoint" json:"endpoint,omitempty"`
	HTTPMethod    *string    `db:"http_method" json:"http_method,omitempty"`
	APIKeyID      *uuid.UUID `db:"api_key_id" json:"api_key_id,omitempty"`
	ProjectID     *uuid.UUID `db:"project_id" json:"project_id,omitempty"`
	IPAddress     *string    `db:"ip_address" json:"ip_address,omitempty"`
	RequestBody   JSONB      `db:"request_payload" json:"request_payload,omitempty"` // sanitized before storage
	ResponseStat  *int       `db:"response_status" json:"response_status,omitempty"`
	Status        string     `db:"status" json:"status"`
	EntryHash     string     `db:"entry_hash" json:"entry_hash"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// ComputeHash returns the SHA-256 hex digest of the entry's immutable
// fields, serialized as JSON with sorted keys. Mutating any covered
// field changes the digest.
func (e *AuditEntry) ComputeHash() (string, error) {
	fields := map[string]any{
		"correlation_id":  e.CorrelationID,
		"timestamp":       e.Timestamp.UTC().Format(time.RFC3339Nano),
		"operation":       e.Operation,
		"action":          e.Action,
		"resource_type":   strOrNil(e.ResourceType),
		"resource_id":     strOrNil(e.ResourceID),
		"endpoint":        strOrNil(e.Endpoint),
		"http_method":     strOrNil(e.HTTPMethod),
		"api_key_id":      uuidOrNil(e.APIKeyID),
		"project_id":      uuidOrNil(e.ProjectID),
		"ip_address":      strOrNil(e.IPAddress),
		"request_payload": e.RequestBody,
		"response_status": intOrNil(e.ResponseStat),
		"status":          e.Status,
	}

	// encoding/json writes map keys in sorted order, which keeps the
	// digest stable across processes.
	canonical, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to serialize audit entry: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Seal computes and stores the entry hash.
func (e *AuditEntry) Seal() error {
	hash, err := e.ComputeHash()
	if err != nil {
		return err
	}
	e.EntryHash = hash
	return nil
}

// VerifyHash recomputes the hash and compares it to the stored one.
func (e *AuditEntry) VerifyHash() (bool, error) {
	expected, err := e.ComputeHash()
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(e.EntryHash)) == 1, nil
}

func strOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func intOrNil(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func uuidOrNil(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
