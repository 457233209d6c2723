// Package auth resolves bearer tokens to principals and issues them on
// login. A principal is either an admin (backed by the
// _admins table) or a record in a kind=auth collection, resolved through
// the record service rather than a dedicated user table.
package auth

import "context"

// Kind distinguishes the two principal shapes a bearer token can carry.
type Kind string

const (
	KindAdmin Kind = "admin"
	KindUser  Kind = "user"
)

// Principal is the resolved identity attached to a request once a bearer
// token has been validated. Collection is empty for admins; Role carries
// the record's own "role" field when the auth collection defines one, so
// rules referencing @request.auth.role have something to compare against.
type Principal struct {
	ID         string
	Kind       Kind
	Collection string
	Role       string
}

func (p *Principal) IsAdmin() bool {
	return p != nil && p.Kind == KindAdmin
}

type contextKey struct{}

func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFromContext returns the resolved principal, or nil for an
// anonymous request.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextKey{}).(*Principal)
	return p
}
