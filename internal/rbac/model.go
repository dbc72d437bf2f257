package rbac

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrUnknownRole is returned when a role name is not part of the model.
	ErrUnknownRole = errors.New("unknown role")

	// ErrUnknownPermission is returned when a permission name is not part of the universe.
	ErrUnknownPermission = errors.New("unknown permission")

	// ErrEmptyGrant is returned when a role would end up with no permissions.
	ErrEmptyGrant = errors.New("role has no permissions")
)

// Grants maps a role to the permission names it receives. The Wildcard
// entry expands to the whole universe.
type Grants map[Role][]string

// Model is the immutable role to permission mapping. It is built once at
// start-up and shared by reference; all methods are safe for concurrent use.
type Model struct {
	grants map[Role]map[Permission]struct{}
}

// NewModel validates grants and builds a Model. Every role must be present
// with at least one permission, except admin which always receives the full
// universe regardless of what grants says.
func NewModel(grants Grants) (*Model, error) {
	m := &Model{grants: make(map[Role]map[Permission]struct{}, len(allRoles))}

	for role := range grants {
		if !slices.Contains(allRoles, role) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
		}
	}

	for _, role := range allRoles {
		set := make(map[Permission]struct{})
		if role == RoleAdmin {
			for _, p := range allPermissions {
				set[p] = struct{}{}
			}
			m.grants[role] = set
			continue
		}

		for _, name := range grants[role] {
			if name == Wildcard {
				for _, p := range allPermissions {
					set[p] = struct{}{}
				}
				continue
			}
			p, err := ParsePermission(name)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", role, err)
			}
			set[p] = struct{}{}
		}
		if len(set) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyGrant, role)
		}
		m.grants[role] = set
	}

	return m, nil
}

// DefaultModel returns the built-in role model.
func DefaultModel() *Model {
	m, err := NewModel(Grants{
		RoleOperator:  names(OperatorPermissions),
		RoleViewer:    names(ViewerPermissions),
		RoleAPIClient: names(APIClientPermissions),
		RoleAnalyst:   names(AnalystPermissions),
	})
	if err != nil {
		panic(fmt.Sprintf("rbac: invalid default grants: %v", err))
	}
	return m
}

// PermissionsOf returns the permissions of role in canonical order. Unknown
// roles yield an empty slice.
func (m *Model) PermissionsOf(role Role) []Permission {
	set := m.grants[role]
	out := make([]Permission, 0, len(set))
	for _, p := range allPermissions {
		if _, ok := set[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Has reports whether role grants p.
func (m *Model) Has(role Role, p Permission) bool {
	_, ok := m.grants[role][p]
	return ok
}

// HasAny reports whether role grants at least one of ps.
func (m *Model) HasAny(role Role, ps ...Permission) bool {
	for _, p := range ps {
		if m.Has(role, p) {
			return true
		}
	}
	return false
}

// HasAll reports whether role grants every one of ps. An empty list is
// vacuously granted.
func (m *Model) HasAll(role Role, ps ...Permission) bool {
	for _, p := range ps {
		if !m.Has(role, p) {
			return false
		}
	}
	return true
}

// RolesGranting returns every role that grants p, in canonical order.
func (m *Model) RolesGranting(p Permission) []Role {
	var out []Role
	for _, role := range allRoles {
		if m.Has(role, p) {
			out = append(out, role)
		}
	}
	return out
}

// AnyRoleHas reports whether any of roles grants p.
func (m *Model) AnyRoleHas(roles []Role, p Permission) bool {
	for _, role := range roles {
		if m.Has(role, p) {
			return true
		}
	}
	return false
}

// Roles returns all roles in canonical order.
func Roles() []Role {
	return slices.Clone(allRoles)
}

// AllPermissions returns the permission universe in canonical order.
func AllPermissions() []Permission {
	return slices.Clone(allPermissions)
}

// ParseRole converts a string into a known Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !slices.Contains(allRoles, r) {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// ParsePermission converts a string into a known Permission.
func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if !slices.Contains(allPermissions, p) {
		return "", fmt.Errorf("%w: %q", ErrUnknownPermission, s)
	}
	return p, nil
}

// ParseRoles converts role names, dropping unknown ones.
func ParseRoles(names []string) []Role {
	out := make([]Role, 0, len(names))
	for _, n := range names {
		if r, err := ParseRole(n); err == nil {
			out = append(out, r)
		}
	}
	return out
}

// RoleNames converts roles back to their string values.
func RoleNames(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func names(ps []Permission) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}
