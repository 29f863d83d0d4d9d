package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"akm_gateway/internal/models"
	"akm_gateway/internal/storage"
	"akm_gateway/internal/utils"
)

// KeyStore resolves hashed API keys and their configs.
type KeyStore interface {
	GetByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	GetConfig(ctx context.Context, keyID uuid.UUID) (*models.APIKeyConfig, error)
	TouchUsage(ctx context.Context, keyID uuid.UUID) error
}

// RequestMeta carries the transport facts Authorize checks restrictions
// against.
type RequestMeta struct {
	ClientIP string
	Now      time.Time
}

// Gate authenticates raw API keys and authorizes requests against
// scopes and per-key restrictions.
type Gate struct {
	keys   KeyStore
	logger *utils.Logger
}

// NewGate creates a new gate
func NewGate(keys KeyStore) *Gate {
	return &Gate{
		keys:   keys,
		logger: utils.NewLogger("auth-gate"),
	}
}

// Authenticate resolves a raw key to its stored record. Inactive and
// expired keys are rejected. On success last_used_at and the lifetime
// request counter are updated in the background; a failed touch is
// logged and never fails the request.
func (g *Gate) Authenticate(ctx context.Context, rawKey string) (*models.APIKey, error) {
	if rawKey == "" {
		return nil, &AuthenticationError{Reason: "API key is required"}
	}

	key, err := g.keys.GetByHash(ctx, HashKey(rawKey))
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			return nil, &AuthenticationError{Reason: "Invalid API key"}
		}
		return nil, err
	}

	if !key.IsActive {
		return nil, &AuthenticationError{Reason: "API key is inactive"}
	}
	if key.IsExpired() {
		return nil, &AuthenticationError{Reason: "API key has expired"}
	}

	go func(keyID uuid.UUID) {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.keys.TouchUsage(touchCtx, keyID); err != nil {
			g.logger.Warn("Failed to update key usage", "api_key_id", keyID, "error", err)
		}
	}(key.ID)

	return key, nil
}

// Authorize checks required scopes and the key's config restrictions.
// Super-admin keys bypass everything. A scope denial reports every
// missing scope at once.
func (g *Gate) Authorize(ctx context.Context, key *models.APIKey, requiredScopes []string, meta RequestMeta) error {
	if key.IsSuperAdmin() {
		return nil
	}

	if missing := MissingScopes(key.Scopes, requiredScopes); len(missing) > 0 {
		return &AuthorizationError{
			Reason:        "missing required scopes",
			MissingScopes: missing,
		}
	}

	cfg, err := g.keys.GetConfig(ctx, key.ID)
	if err != nil {
		return err
	}

	return g.checkRestrictions(cfg, meta)
}

// Config returns the governance config for a key
func (g *Gate) Config(ctx context.Context, keyID uuid.UUID) (*models.APIKeyConfig, error) {
	return g.keys.GetConfig(ctx, keyID)
}

func (g *Gate) checkRestrictions(cfg *models.APIKeyConfig, meta RequestMeta) error {
	if cfg.IPWhitelistEnabled {
		if !IPAllowed(meta.ClientIP, cfg.AllowedIPs) {
			return &AuthorizationError{Reason: "IP address not allowed"}
		}
	}

	if cfg.AllowedTimeStart != nil && cfg.AllowedTimeEnd != nil {
		now := meta.Now
		if now.IsZero() {
			now = time.Now()
		}
		if !WithinTimeWindow(now, *cfg.AllowedTimeStart, *cfg.AllowedTimeEnd) {
			return &AuthorizationError{Reason: "access not allowed at this time"}
		}
	}

	return nil
}
