package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"akm_gateway/internal/auth"
	"akm_gateway/internal/models"
	"akm_gateway/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// APIKeyRecordKey is the context key for storing the authenticated API key record
	APIKeyRecordKey ContextKey = "apiKeyRecord"
	// KeyConfigKey is the context key for the key's governance config
	KeyConfigKey ContextKey = "apiKeyConfig"
)

// AuthMiddleware authenticates the API key on protected routes and
// authorizes it against the route's required scopes and the key's
// restrictions. The key record and its config land on the request
// context.
func AuthMiddleware(gate *auth.Gate, requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := extractAPIKey(r)

			ctx := r.Context()
			key, err := gate.Authenticate(ctx, rawKey)
			if err != nil {
				var authErr *auth.AuthenticationError
				if errors.As(err, &authErr) {
					w.Header().Set("WWW-Authenticate", "ApiKey")
					utils.RespondWithError(w, http.StatusUnauthorized, authErr.Reason)
					return
				}
				utils.RespondWithError(w, http.StatusInternalServerError, "Error validating API key")
				return
			}

			MarkAuthenticated(ctx, key)

			meta := auth.RequestMeta{ClientIP: ClientIP(r), Now: time.Now()}
			if err := gate.Authorize(ctx, key, requiredScopes, meta); err != nil {
				var authzErr *auth.AuthorizationError
				if errors.As(err, &authzErr) {
					respondForbidden(w, authzErr)
					return
				}
				utils.RespondWithError(w, http.StatusInternalServerError, "Error authorizing API key")
				return
			}

			cfg, err := gate.Config(ctx, key.ID)
			if err != nil {
				utils.RespondWithError(w, http.StatusInternalServerError, "Error loading API key config")
				return
			}

			ctx = context.WithValue(ctx, APIKeyRecordKey, key)
			ctx = context.WithValue(ctx, KeyConfigKey, cfg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAPIKeyRecord retrieves the API key record from the request context
func GetAPIKeyRecord(ctx context.Context) (*models.APIKey, bool) {
	record, ok := ctx.Value(APIKeyRecordKey).(*models.APIKey)
	return record, ok
}

// GetKeyConfig retrieves the key config from the request context
func GetKeyConfig(ctx context.Context) (*models.APIKeyConfig, bool) {
	cfg, ok := ctx.Value(KeyConfigKey).(*models.APIKeyConfig)
	return cfg, ok
}

// extractAPIKey reads the key from X-API-Key, falling back to a Bearer
// token.
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// ClientIP returns the originating client address, preferring the
// forwarding headers set by the ingress.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First hop is the client.
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type forbiddenResponse struct {
	Error         string   `json:"error"`
	MissingScopes []string `json:"missing_scopes,omitempty"`
}

func respondForbidden(w http.ResponseWriter, err *auth.AuthorizationError) {
	utils.RespondWithJSON(w, http.StatusForbidden, forbiddenResponse{
		Error:         err.Reason,
		MissingScopes: err.MissingScopes,
	})
}
