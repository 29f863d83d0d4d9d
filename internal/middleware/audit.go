package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"akm_gateway/internal/audit"
	"akm_gateway/internal/metrics"
	"akm_gateway/internal/models"
)

// maxAuditBodyBytes caps how much of a request body is captured for the
// audit payload.
const maxAuditBodyBytes = 10 * 1024

const requestRecordKey ContextKey = "auditRequestRecord"

// requestRecord is a holder the audit middleware installs before the
// auth middleware runs, so the authenticated key is visible to the
// audit write even though auth is an inner layer.
type requestRecord struct {
	key *models.APIKey
}

// MarkAuthenticated notes the authenticated key on the audit holder, if
// one is installed.
func MarkAuthenticated(ctx context.Context, key *models.APIKey) {
	if rec, ok := ctx.Value(requestRecordKey).(*requestRecord); ok {
		rec.key = key
	}
}

// AuditMiddleware assigns each request a correlation ID, echoes it in
// the response, and writes one audit entry per request. Health and
// metrics probes are not audited.
func AuditMiddleware(trail *audit.Trail) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			ctx, correlationID := audit.WithCorrelation(r.Context())
			holder := &requestRecord{}
			ctx = context.WithValue(ctx, requestRecordKey, holder)
			w.Header().Set(audit.CorrelationHeader, correlationID)

			body := captureBody(r)

			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))

			endpoint := r.Pattern
			if endpoint == "" {
				endpoint = r.URL.Path
			}
			metrics.ObserveRequest(audit.StatusForResponse(recorder.status), endpoint, time.Since(start).Seconds())

			rec := buildRecord(r, holder, body, recorder.status)
			if _, err := trail.Write(ctx, rec); err != nil {
				// Write only errors on serialization; the entry itself is
				// persisted best-effort.
				return
			}
		})
	}
}

// captureBody reads up to maxAuditBodyBytes of the request body and
// restores the reader for the handler.
func captureBody(r *http.Request) map[string]any {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxAuditBodyBytes))
	r.Body.Close()
	rest := io.MultiReader(bytes.NewReader(data), r.Body)
	r.Body = io.NopCloser(rest)
	if err != nil || len(data) == 0 {
		return nil
	}

	var payload map[string]any
	if json.Unmarshal(data, &payload) != nil {
		// Non-JSON bodies are audited by size only.
		return map[string]any{"_raw_bytes": len(data)}
	}
	return payload
}

func buildRecord(r *http.Request, holder *requestRecord, body map[string]any, status int) audit.Record {
	endpoint := r.URL.Path
	method := r.Method
	ip := ClientIP(r)

	operation := inferOperation(r.URL.Path)
	switch status {
	case http.StatusUnauthorized:
		operation = "authentication_failed"
	case http.StatusForbidden:
		operation = "authorization_denied"
	}

	rec := audit.Record{
		Operation:    operation,
		Action:       actionForMethod(r.Method),
		Endpoint:     &endpoint,
		HTTPMethod:   &method,
		IPAddress:    &ip,
		RequestBody:  body,
		ResponseStat: &status,
	}

	if resourceType, resourceID, ok := inferResource(r.URL.Path); ok {
		rec.ResourceType = &resourceType
		if resourceID != "" {
			rec.ResourceID = &resourceID
		}
	}

	if holder.key != nil {
		rec.APIKeyID = &holder.key.ID
		rec.ProjectID = &holder.key.ProjectID
	}

	return rec
}

func inferOperation(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/audit"):
		return "audit_read"
	case strings.HasPrefix(path, "/v1/usage"):
		return "usage_read"
	case strings.HasPrefix(path, "/v1/ping"):
		return "key_validation"
	default:
		return "api_request"
	}
}

func actionForMethod(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// inferResource maps /v1/<resource>/<id>/... onto a resource type and
// ID.
func inferResource(path string) (string, string, bool) {
	trimmed := strings.TrimPrefix(path, "/v1/")
	if trimmed == path {
		return "", "", false
	}
	parts := strings.SplitN(strings.Trim(trimmed, "/"), "/", 3)
	if len(parts) == 0 || parts[0] == "" {
		return "", "", false
	}
	resourceType := parts[0]
	resourceID := ""
	if len(parts) > 1 {
		resourceID = parts[1]
	}
	return resourceType, resourceID, true
}
