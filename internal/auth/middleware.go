package auth

import (
	"net/http"
	"strings"

	"github.com/bunbase/bunbase/internal/apierr"
)

// Resolve extracts and validates the bearer token from r, returning the
// principal it names or nil. A missing, malformed, or expired token all
// resolve to nil rather than an error; RequireAdmin is what turns "no
// principal" into a rejection.
func (s *Service) Resolve(r *http.Request) *Principal {
	token := extractBearerToken(r)
	if token == "" {
		return nil
	}
	p, err := s.resolveToken(r.Context(), token)
	if err != nil {
		return nil
	}
	return p
}

// RequireAdmin resolves r's bearer token and raises UnauthorizedError
// unless it names an admin.
func (s *Service) RequireAdmin(r *http.Request) (*Principal, error) {
	p := s.Resolve(r)
	if !p.IsAdmin() {
		return nil, apierr.Unauthorized("admin authentication required")
	}
	return p, nil
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
