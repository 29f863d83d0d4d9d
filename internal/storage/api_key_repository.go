package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"akm_gateway/internal/models"
)

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *DB
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{
		db: db,
	}
}

// GetByHash retrieves an API key by its SHA-256 hash, scopes included.
// Hot path for every authenticated request, so results go through the
// LRU cache.
func (r *APIKeyRepository) GetByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	if cached, found := r.db.apiKeyCache.Get(keyHash); found {
		if key, ok := cached.(*models.APIKey); ok {
			return key, nil
		}
	}

	var key models.APIKey
	query := `
		SELECT id, project_id, name, key_hash, is_active, expires_at, last_used_at, request_count, created_at, updated_at
		FROM api_keys
		WHERE key_hash = $1
	`

	err := r.db.conn.GetContext(ctx, &key, query, keyHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}

	scopes, err := r.getScopes(ctx, key.ID)
	if err != nil {
		return nil, err
	}
	key.Scopes = scopes

	r.db.apiKeyCache.Set(keyHash, &key)
	return &key, nil
}

// GetByID retrieves an API key by ID, scopes included
func (r *APIKeyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	var key models.APIKey
	query := `
		SELECT id, project_id, name, key_hash, is_active, expires_at, last_used_at, request_count, created_at, updated_at
		FROM api_keys
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &key, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}

	scopes, err := r.getScopes(ctx, key.ID)
	if err != nil {
		return nil, err
	}
	key.Scopes = scopes

	return &key, nil
}

// getScopes loads the scope names granted to a key
func (r *APIKeyRepository) getScopes(ctx context.Context, keyID uuid.UUID) ([]string, error) {
	query := `
		SELECT s.name
		FROM api_key_scopes ks
		JOIN scopes s ON s.id = ks.scope_id
		WHERE ks.api_key_id = $1
		ORDER BY s.name
	`

	var scopes []string
	err := r.db.conn.SelectContext(ctx, &scopes, query, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key scopes: %w", err)
	}

	return scopes, nil
}

// GetConfig retrieves the governance config for a key. Keys without a
// config row get the default config.
func (r *APIKeyRepository) GetConfig(ctx context.Context, keyID uuid.UUID) (*models.APIKeyConfig, error) {
	cacheKey := "config:" + keyID.String()
	if cached, found := r.db.configCache.Get(cacheKey); found {
		if cfg, ok := cached.(*models.APIKeyConfig); ok {
			return cfg, nil
		}
	}

	var cfg models.APIKeyConfig
	query := `
		SELECT id, api_key_id, rate_limit_enabled, rate_limit_requests, rate_limit_window_seconds,
		       daily_request_limit, monthly_request_limit,
		       ip_whitelist_enabled, allowed_ips, allowed_time_start, allowed_time_end,
		       created_at, updated_at
		FROM api_key_configs
		WHERE api_key_id = $1
	`

	err := r.db.conn.GetContext(ctx, &cfg, query, keyID)
	if err != nil {
		if err == sql.ErrNoRows {
			defaults := models.DefaultAPIKeyConfig(keyID)
			r.db.configCache.Set(cacheKey, defaults)
			return defaults, nil
		}
		return nil, fmt.Errorf("failed to get API key config: %w", err)
	}

	r.db.configCache.Set(cacheKey, &cfg)
	return &cfg, nil
}

// TouchUsage bumps last_used_at and the lifetime request counter
func (r *APIKeyRepository) TouchUsage(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE api_keys
		SET last_used_at = NOW(), request_count = request_count + 1
		WHERE id = $1
	`

	result, err := r.db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to update key usage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrAPIKeyNotFound
	}

	return nil
}

// Create creates a new API key
func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (id, project_id, name, key_hash, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}

	err := r.db.conn.QueryRowContext(
		ctx, query,
		key.ID, key.ProjectID, key.Name, key.KeyHash, key.IsActive, key.ExpiresAt,
	).Scan(&key.ID, &key.CreatedAt, &key.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}

	return nil
}

// InvalidateCache drops the cached entry for a key hash, e.g. after the
// key is deactivated out of band.
func (r *APIKeyRepository) InvalidateCache(keyHash string) {
	r.db.apiKeyCache.Delete(keyHash)
}
