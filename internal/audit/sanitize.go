package audit

import (
	"strings"

	"akm_gateway/internal/models"
)

// Sanitization defaults.
const (
	redactedPlaceholder = "[REDACTED]"
	maxDepthPlaceholder = "[MAX_DEPTH_REACHED]"
	maxSanitizeDepth    = 5

	defaultShowStart = 3
	defaultShowEnd   = 2
	defaultMaskChar  = "*"
)

// Rule is one sanitization rule, resolved from the bundled defaults or
// the database. FieldName matches case-insensitively, either exactly or
// as a substring of the audited field name.
type Rule struct {
	FieldName string
	Strategy  string
	Params    map[string]any
}

// Sanitizer scrubs sensitive fields out of audit payloads before they
// are hashed and stored.
type Sanitizer struct {
	rules []Rule
}

// NewSanitizer creates a sanitizer over the given rules.
func NewSanitizer(rules []Rule) *Sanitizer {
	return &Sanitizer{rules: rules}
}

// Sanitize returns a scrubbed copy of the payload. The input is never
// mutated. Nesting past maxSanitizeDepth collapses into a placeholder.
func (s *Sanitizer) Sanitize(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	return s.sanitizeMap(payload, 1)
}

func (s *Sanitizer) sanitizeMap(in map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		if rule := s.match(key); rule != nil {
			out[key] = applyRule(rule, value)
			continue
		}
		out[key] = s.sanitizeValue(value, depth)
	}
	return out
}

func (s *Sanitizer) sanitizeValue(value any, depth int) any {
	switch v := value.(type) {
	case map[string]any:
		if depth >= maxSanitizeDepth {
			return maxDepthPlaceholder
		}
		return s.sanitizeMap(v, depth+1)
	case []any:
		if depth >= maxSanitizeDepth {
			return maxDepthPlaceholder
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.sanitizeValue(item, depth+1)
		}
		return out
	default:
		return value
	}
}

// match returns the first rule whose field name matches the key.
func (s *Sanitizer) match(key string) *Rule {
	lower := strings.ToLower(key)
	for i := range s.rules {
		name := strings.ToLower(s.rules[i].FieldName)
		if lower == name || strings.Contains(lower, name) {
			return &s.rules[i]
		}
	}
	return nil
}

// applyRule scrubs a single value. Masking only applies to strings;
// everything else is redacted regardless of the configured strategy.
func applyRule(rule *Rule, value any) any {
	str, isString := value.(string)
	if !isString || rule.Strategy != models.StrategyMask {
		return redactParam(rule.Params)
	}
	return maskString(str, rule.Params)
}

func redactParam(params map[string]any) string {
	if params != nil {
		if repl, ok := params["replacement"].(string); ok && repl != "" {
			return repl
		}
	}
	return redactedPlaceholder
}

// maskString keeps a few characters at each end and masks the middle.
// Values too short to keep anything visible are masked entirely, at
// their original length.
func maskString(value string, params map[string]any) string {
	showStart := intParam(params, "show_start", defaultShowStart)
	showEnd := intParam(params, "show_end", defaultShowEnd)
	maskChar := defaultMaskChar
	if params != nil {
		if c, ok := params["mask_char"].(string); ok && c != "" {
			maskChar = c
		}
	}

	runes := []rune(value)
	if len(runes) <= showStart+showEnd {
		return strings.Repeat(maskChar, len(runes))
	}

	return string(runes[:showStart]) +
		strings.Repeat(maskChar, len(runes)-showStart-showEnd) +
		string(runes[len(runes)-showEnd:])
}

// intParam reads an integer param. JSON round-trips numbers as float64,
// so both forms are accepted.
func intParam(params map[string]any, key string, fallback int) int {
	if params == nil {
		return fallback
	}
	switch v := params[key].(type) {
	case int:
		if v >= 0 {
			return v
		}
	case float64:
		if v >= 0 {
			return int(v)
		}
	}
	return fallback
}
