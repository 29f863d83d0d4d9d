package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"akm_gateway/internal/models"
)

type fakeRuleSource struct {
	mu     sync.Mutex
	fields []*models.SensitiveField
	err    error
	calls  int
}

func (f *fakeRuleSource) ActiveForProject(_ context.Context, projectID uuid.UUID) ([]*models.SensitiveField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var matched []*models.SensitiveField
	for _, field := range f.fields {
		if field.ProjectID == projectID {
			matched = append(matched, field)
		}
	}
	return matched, nil
}

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensitive_fields.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFieldResolver(t *testing.T) {
	projectID := uuid.New()
	ctx := context.Background()

	fileJSON := `[
		{"field_name": "password", "strategy": "redact"},
		{"field_name": "api_key", "strategy": "mask", "params": {"show_start": 4}}
	]`

	t.Run("file rules load and apply", func(t *testing.T) {
		resolver, err := NewFieldResolver(nil, writeRulesFile(t, fileJSON), 0)
		require.NoError(t, err)

		rules := resolver.RulesFor(ctx, projectID)
		require.Len(t, rules, 2)
		assert.Equal(t, "password", rules[0].FieldName)
		assert.Equal(t, models.StrategyRedact, rules[0].Strategy)
		assert.Equal(t, models.StrategyMask, rules[1].Strategy)
	})

	t.Run("database rules override file rules", func(t *testing.T) {
		source := &fakeRuleSource{fields: []*models.SensitiveField{
			{
				ProjectID: projectID,
				FieldName: "PASSWORD",
				Strategy:  models.StrategyMask,
				IsActive:  true,
			},
			{
				ProjectID: projectID,
				FieldName: "secret",
				Strategy:  models.StrategyRedact,
				IsActive:  true,
			},
		}}
		resolver, err := NewFieldResolver(source, writeRulesFile(t, fileJSON), 0)
		require.NoError(t, err)

		rules := resolver.RulesFor(ctx, projectID)
		require.Len(t, rules, 3)

		byName := make(map[string]Rule)
		for _, r := range rules {
			byName[r.FieldName] = r
		}
		// Case-insensitive collision: the database rule wins.
		assert.Equal(t, models.StrategyMask, byName["PASSWORD"].Strategy)
		assert.Contains(t, byName, "secret")
		assert.Contains(t, byName, "api_key")
	})

	t.Run("rules are cached until the TTL expires", func(t *testing.T) {
		source := &fakeRuleSource{}
		resolver, err := NewFieldResolver(source, "", time.Hour)
		require.NoError(t, err)

		resolver.RulesFor(ctx, projectID)
		resolver.RulesFor(ctx, projectID)
		assert.Equal(t, 1, source.calls)

		resolver.Invalidate(projectID)
		resolver.RulesFor(ctx, projectID)
		assert.Equal(t, 2, source.calls)
	})

	t.Run("projects are cached independently", func(t *testing.T) {
		source := &fakeRuleSource{}
		resolver, err := NewFieldResolver(source, "", time.Hour)
		require.NoError(t, err)

		resolver.RulesFor(ctx, projectID)
		resolver.RulesFor(ctx, uuid.New())
		assert.Equal(t, 2, source.calls)
	})

	t.Run("refresh failure keeps serving the stale set", func(t *testing.T) {
		source := &fakeRuleSource{fields: []*models.SensitiveField{
			{ProjectID: projectID, FieldName: "password", Strategy: models.StrategyRedact, IsActive: true},
		}}
		// A nanosecond TTL forces a refresh on every lookup.
		resolver, err := NewFieldResolver(source, "", time.Nanosecond)
		require.NoError(t, err)

		first := resolver.RulesFor(ctx, projectID)
		require.Len(t, first, 1)

		source.mu.Lock()
		source.err = errors.New("db down")
		source.mu.Unlock()

		second := resolver.RulesFor(ctx, projectID)
		require.Len(t, second, 1)
		assert.Equal(t, "password", second[0].FieldName)
	})

	t.Run("source failure without cache falls back to file rules", func(t *testing.T) {
		source := &fakeRuleSource{err: errors.New("db down")}
		resolver, err := NewFieldResolver(source, writeRulesFile(t, fileJSON), time.Hour)
		require.NoError(t, err)

		rules := resolver.RulesFor(ctx, projectID)
		assert.Len(t, rules, 2)
	})

	t.Run("unknown strategy in file falls back to redact", func(t *testing.T) {
		path := writeRulesFile(t, `[{"field_name": "card", "strategy": "scramble"}]`)
		resolver, err := NewFieldResolver(nil, path, 0)
		require.NoError(t, err)

		rules := resolver.RulesFor(ctx, projectID)
		require.Len(t, rules, 1)
		assert.Equal(t, models.StrategyRedact, rules[0].Strategy)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := NewFieldResolver(nil, "/does/not/exist.json", 0)
		assert.Error(t, err)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		_, err := NewFieldResolver(nil, writeRulesFile(t, `{"not": "a list"}`), 0)
		assert.Error(t, err)
	})
}
