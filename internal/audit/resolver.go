package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"akm_gateway/internal/models"
	"akm_gateway/internal/utils"
)

// DefaultResolverTTL is how long resolved rule sets stay fresh.
const DefaultResolverTTL = 5 * time.Minute

// RuleSource loads per-project sanitization rules from storage.
type RuleSource interface {
	ActiveForProject(ctx context.Context, projectID uuid.UUID) ([]*models.SensitiveField, error)
}

// fileRule is the on-disk shape of a bundled sanitization rule.
type fileRule struct {
	FieldName string         `json:"field_name"`
	Strategy  string         `json:"strategy"`
	Params    map[string]any `json:"params,omitempty"`
}

type cachedRules struct {
	rules     []Rule
	fetchedAt time.Time
}

// FieldResolver merges the bundled default rules with each project's
// database rules. Database rules win on field-name collisions. Resolved
// sets are cached per project with a TTL; a failed refresh keeps
// serving the stale set.
type FieldResolver struct {
	source    RuleSource
	fileRules []Rule
	ttl       time.Duration

	mu    sync.RWMutex
	cache map[uuid.UUID]*cachedRules

	logger *utils.Logger
}

// NewFieldResolver creates a resolver. filePath may be empty, in which
// case only database rules apply. source may be nil for file-only use.
func NewFieldResolver(source RuleSource, filePath string, ttl time.Duration) (*FieldResolver, error) {
	if ttl <= 0 {
		ttl = DefaultResolverTTL
	}

	resolver := &FieldResolver{
		source: source,
		ttl:    ttl,
		cache:  make(map[uuid.UUID]*cachedRules),
		logger: utils.NewLogger("field-resolver"),
	}

	if filePath != "" {
		rules, err := loadFileRules(filePath)
		if err != nil {
			return nil, err
		}
		resolver.fileRules = rules
	}

	return resolver, nil
}

// RulesFor returns the effective rule set for a project, refreshing
// from storage when the cached set is stale.
func (r *FieldResolver) RulesFor(ctx context.Context, projectID uuid.UUID) []Rule {
	now := time.Now()

	r.mu.RLock()
	cached, ok := r.cache[projectID]
	r.mu.RUnlock()
	if ok && now.Sub(cached.fetchedAt) < r.ttl {
		return cached.rules
	}

	rules, err := r.resolve(ctx, projectID)
	if err != nil {
		r.logger.Warn("Failed to refresh sanitization rules", "project_id", projectID, "error", err)
		if ok {
			return cached.rules
		}
		return r.fileRules
	}

	r.mu.Lock()
	r.cache[projectID] = &cachedRules{rules: rules, fetchedAt: now}
	r.mu.Unlock()

	return rules
}

// SanitizerFor returns a sanitizer over the project's effective rules.
func (r *FieldResolver) SanitizerFor(ctx context.Context, projectID uuid.UUID) *Sanitizer {
	return NewSanitizer(r.RulesFor(ctx, projectID))
}

// Invalidate drops the cached rule set for a project.
func (r *FieldResolver) Invalidate(projectID uuid.UUID) {
	r.mu.Lock()
	delete(r.cache, projectID)
	r.mu.Unlock()
}

func (r *FieldResolver) resolve(ctx context.Context, projectID uuid.UUID) ([]Rule, error) {
	merged := make(map[string]Rule, len(r.fileRules))
	order := make([]string, 0, len(r.fileRules))

	for _, rule := range r.fileRules {
		key := strings.ToLower(rule.FieldName)
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] = rule
	}

	if r.source != nil {
		dbRules, err := r.source.ActiveForProject(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to load project rules: %w", err)
		}
		for _, field := range dbRules {
			key := strings.ToLower(field.FieldName)
			if _, seen := merged[key]; !seen {
				order = append(order, key)
			}
			merged[key] = Rule{
				FieldName: field.FieldName,
				Strategy:  field.Strategy,
				Params:    map[string]any(field.Params),
			}
		}
	}

	rules := make([]Rule, 0, len(order))
	for _, key := range order {
		rules = append(rules, merged[key])
	}
	return rules, nil
}

func loadFileRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sensitive fields file: %w", err)
	}

	var raw []fileRule
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse sensitive fields file: %w", err)
	}

	rules := make([]Rule, 0, len(raw))
	for _, fr := range raw {
		if fr.FieldName == "" {
			continue
		}
		strategy := fr.Strategy
		if strategy != models.StrategyMask {
			strategy = models.StrategyRedact
		}
		rules = append(rules, Rule{FieldName: fr.FieldName, Strategy: strategy, Params: fr.Params})
	}
	return rules, nil
}
