package auth

import (
	"slices"
	"strings"
)

// ScopeSatisfied reports whether a granted scope set covers one required
// scope. A grant matches exactly, or as a proper-prefix wildcard: for
// required "a:b:c" the grants "a:*" and "a:b:*" qualify. A bare "*" is
// never a match, and "a:b:*" does not cover the shorter scope "a:b".
func ScopeSatisfied(granted []string, required string) bool {
	if slices.Contains(granted, required) {
		return true
	}

	parts := strings.Split(required, ":")
	for i := 1; i < len(parts); i++ {
		wildcard := strings.Join(parts[:i], ":") + ":*"
		if slices.Contains(granted, wildcard) {
			return true
		}
	}

	return false
}

// MissingScopes returns every required scope the grant set does not
// cover, in the order required. Callers get the full list so a denial
// names everything that is missing, not just the first hit.
func MissingScopes(granted, required []string) []string {
	var missing []string
	for _, scope := range required {
		if !ScopeSatisfied(granted, scope) {
			missing = append(missing, scope)
		}
	}
	return missing
}
