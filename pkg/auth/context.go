package auth

import (
	"context"
	"errors"

	"github.com/tacedge/tacgate/pkg/types"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller for the lifetime of one request.
type Principal struct {
	Subject     string
	NodeID      string
	Role        Role
	Permissions map[string]bool
	Ceiling     types.Classification
	Token       string // raw bearer token, kept for propagation
}

// NewPrincipal builds a Principal from validated claims. An explicit
// permissions claim overrides the role mapping; an absent ceiling
// defaults to UNCLASSIFIED.
func NewPrincipal(claims *Claims, rawToken string) *Principal {
	perms := claims.Permissions
	if perms == nil {
		perms = PermissionsFor(claims.Role)
	}
	permSet := make(map[string]bool, len(perms))
	for _, p := range perms {
		permSet[p] = true
	}

	ceiling := types.Classification(claims.ClassificationLevel)
	if !ceiling.Valid() {
		ceiling = types.ClassificationUnclassified
	}

	return &Principal{
		Subject:     claims.Subject,
		NodeID:      claims.NodeID,
		Role:        claims.Role,
		Permissions: permSet,
		Ceiling:     ceiling,
		Token:       rawToken,
	}
}

// HasPermission reports whether the principal holds a permission.
func (p *Principal) HasPermission(perm string) bool {
	return p.Permissions[perm]
}

// ActorNode returns the best identifier for audit actor fields.
func (p *Principal) ActorNode() string {
	if p.NodeID != "" {
		return p.NodeID
	}
	return p.Subject
}

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(principalKey).(*Principal)
	if !ok {
		return nil, errors.New("auth: no principal in context")
	}
	return p, nil
}
