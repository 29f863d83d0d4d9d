package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Super-admin scopes that bypass all scope checks.
const (
	ScopeSuperAdmin = "akm:*"
	ScopeAdminAll   = "akm:admin:*"
)

// APIKey represents a client API key.
type APIKey struct {
	ID           uuid.UUID  `db:"id"`
	ProjectID    uuid.UUID  `db:"project_id"`
	Name         string     `db:"name"`
	KeyHash      string     `db:"key_hash"` // SHA-256 hash
	IsActive     bool       `db:"is_active"`
	ExpiresAt    *time.Time `db:"expires_at"` // NULL = never expires
	LastUsedAt   *time.Time `db:"last_used_at"`
	RequestCount int64      `db:"request_count"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`

	// Not stored in api_keys, populated from the api_key_scopes join
	Scopes pq.StringArray `db:"-"`
}

// IsExpired checks if the key has expired
func (k *APIKey) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*k.ExpiresAt)
}

// IsValid checks if the key is valid (active and not expired)
func (k *APIKey) IsValid() bool {
	return k.IsActive && !k.IsExpired()
}

// IsSuperAdmin reports whether the key carries a scope that bypasses
// all authorization checks.
func (k *APIKey) IsSuperAdmin() bool {
	return slices.Contains(k.Scopes, ScopeSuperAdmin) ||
		slices.Contains(k.Scopes, ScopeAdminAll)
}

// APIKeyConfig holds per-key governance settings.
type APIKeyConfig struct {
	ID       uuid.UUID `db:"id"`
	APIKeyID uuid.UUID `db:"api_key_id"`

	RateLimitEnabled  bool `db:"rate_limit_enabled"`
	RateLimitRequests int  `db:"rate_limit_requests"`
	RateLimitWindow   int  `db:"rate_limit_window_seconds"`

	DailyRequestLimit   *int64 `db:"daily_request_limit"`   // NULL = unlimited
	MonthlyRequestLimit *int64 `db:"monthly_request_limit"` // NULL = unlimited

	IPWhitelistEnabled bool           `db:"ip_whitelist_enabled"`
	AllowedIPs         pq.StringArray `db:"allowed_ips"` // exact IPs or CIDR blocks

	AllowedTimeStart *string `db:"allowed_time_start"` // "HH:MM", NULL = no window
	AllowedTimeEnd   *string `db:"allowed_time_end"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DefaultAPIKeyConfig returns the config applied to keys without a row
// in api_key_configs.
func DefaultAPIKeyConfig(apiKeyID uuid.UUID) *APIKeyConfig {
	return &APIKeyConfig{
		APIKeyID:          apiKeyID,
		RateLimitEnabled:  true,
		RateLimitRequests: 1000,
		RateLimitWindow:   60,
	}
}
