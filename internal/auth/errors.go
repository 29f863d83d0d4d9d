package auth

import (
	"fmt"
	"strings"
)

// AuthenticationError means the caller could not be identified. Maps to
// HTTP 401.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return e.Reason
}

// AuthorizationError means an identified caller is not allowed to do
// what it asked for. Maps to HTTP 403.
type AuthorizationError struct {
	Reason        string
	MissingScopes []string
}

func (e *AuthorizationError) Error() string {
	if len(e.MissingScopes) > 0 {
		return fmt.Sprintf("%s: %s", e.Reason, strings.Join(e.MissingScopes, ", "))
	}
	return e.Reason
}
