package gateway

import (
	"context"
	"slices"

	"github.com/opentrusty/trustcore/internal/rbac"
	"github.com/opentrusty/trustcore/internal/token"
)

// Method is how a principal authenticated.
type Method string

const (
	MethodAPIKey Method = "api_key"
	MethodJWT    Method = "jwt"
)

// Principal is the resolved identity of one request. It is never persisted.
type Principal struct {
	UserID     string
	Roles      []rbac.Role
	Method     Method
	RemoteAddr string
	// Claims is set for bearer token principals.
	Claims *token.Claims
	// KeyName is set for API key principals.
	KeyName string

	model *rbac.Model
}

// PrimaryRole returns the first role, or viewer when there is none.
func (p *Principal) PrimaryRole() rbac.Role {
	if len(p.Roles) == 0 {
		return rbac.RoleViewer
	}
	return p.Roles[0]
}

// HasRole reports whether the principal holds role.
func (p *Principal) HasRole(role rbac.Role) bool {
	return slices.Contains(p.Roles, role)
}

// defaultModel backs principals built outside a Gateway.
var defaultModel = rbac.DefaultModel()

func (p *Principal) rbacModel() *rbac.Model {
	if p.model == nil {
		return defaultModel
	}
	return p.model
}

// HasPermission reports whether any of the principal's roles grants perm.
// A principal without roles has no permissions.
func (p *Principal) HasPermission(perm rbac.Permission) bool {
	return p.rbacModel().AnyRoleHas(p.Roles, perm)
}

// Permissions returns the union of permissions granted by the principal's
// roles, in canonical order.
func (p *Principal) Permissions() []rbac.Permission {
	model := p.rbacModel()
	var out []rbac.Permission
	for _, perm := range rbac.AllPermissions() {
		if model.AnyRoleHas(p.Roles, perm) {
			out = append(out, perm)
		}
	}
	return out
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
