package models

import (
	"testing"
	"time"

	"github.com/lib/pq"
)

func TestAPIKey_IsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-1 * time.Hour)
	future := now.Add(1 * time.Hour)

	tests := []struct {
		name      string
		expiresAt *time.Time
		expected  bool
	}{
		{
			name:      "nil expiration never expires",
			expiresAt: nil,
			expected:  false,
		},
		{
			name:      "past expiration is expired",
			expiresAt: &past,
			expected:  true,
		},
		{
			name:      "future expiration not expired",
			expiresAt: &future,
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := &APIKey{
				ExpiresAt: tt.expiresAt,
			}

			result := key.IsExpired()
			if result != tt.expected {
				t.Errorf("IsExpired() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestAPIKey_IsValid(t *testing.T) {
	now := time.Now()
	past := now.Add(-1 * time.Hour)
	future := now.Add(1 * time.Hour)

	tests := []struct {
		name      string
		active    bool
		expiresAt *time.Time
		expected  bool
	}{
		{
			name:      "active and not expired",
			active:    true,
			expiresAt: nil,
			expected:  true,
		},
		{
			name:      "active with future expiration",
			active:    true,
			expiresAt: &future,
			expected:  true,
		},
		{
			name:      "inactive",
			active:    false,
			expiresAt: nil,
			expected:  false,
		},
		{
			name:      "active but expired",
			active:    true,
			expiresAt: &past,
			expected:  false,
		},
		{
			name:      "inactive and expired",
			active:    false,
			expiresAt: &past,
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := &APIKey{
				IsActive:  tt.active,
				ExpiresAt: tt.expiresAt,
			}

			result := key.IsValid()
			if result != tt.expected {
				t.Errorf("IsValid() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestAPIKey_IsSuperAdmin(t *testing.T) {
	tests := []struct {
		name     string
		scopes   []string
		expected bool
	}{
		{
			name:     "no scopes",
			scopes:   nil,
			expected: false,
		},
		{
			name:     "ordinary scopes",
			scopes:   []string{"akm:keys:read", "akm:usage:read"},
			expected: false,
		},
		{
			name:     "global wildcard",
			scopes:   []string{"akm:*"},
			expected: true,
		},
		{
			name:     "admin wildcard",
			scopes:   []string{"akm:keys:read", "akm:admin:*"},
			expected: true,
		},
		{
			name:     "partial wildcard does not qualify",
			scopes:   []string{"akm:keys:*"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := &APIKey{
				Scopes: pq.StringArray(tt.scopes),
			}

			result := key.IsSuperAdmin()
			if result != tt.expected {
				t.Errorf("IsSuperAdmin() = %v, want %v", result, tt.expected)
			}
		})
	}
}
