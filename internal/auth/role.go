// Package auth implements the request authentication and authorization
// gate: credential classification, token verification against provider
// key material, identity and role resolution, and the composed
// allow/deny decision consumed by HTTP handlers.
package auth

import "strings"

// Role is the effective privilege level of a principal. The service
// knows exactly two levels: viewers read, editors mutate.
type Role string

const (
	// RoleViewer is the universal default role
	RoleViewer Role = "viewer"
	// RoleEditor is required for all mutating operations
	RoleEditor Role = "editor"
)

// ParseRole maps a role token from a credential or configuration to a
// known Role. Unrecognized tokens yield ok=false, never an error: an
// unknown role string is treated as "no hint".
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "editor", "writer", "admin":
		return RoleEditor, true
	case "viewer", "reader":
		return RoleViewer, true
	default:
		return "", false
	}
}

// RoleMapping associates stable identifiers with a default role. It is
// built once at load time and never mutated afterwards; reloads swap in
// a fresh mapping wholesale.
type RoleMapping struct {
	roles map[string]Role
}

// NewRoleMapping builds an immutable mapping from identifier to role.
func NewRoleMapping(roles map[string]Role) *RoleMapping {
	m := make(map[string]Role, len(roles))
	for id, role := range roles {
		m[id] = role
	}
	return &RoleMapping{roles: m}
}

// Lookup returns the configured role for an identifier, if any.
func (m *RoleMapping) Lookup(identifier string) (Role, bool) {
	if m == nil {
		return "", false
	}
	role, ok := m.roles[identifier]
	return role, ok
}

// Len returns the number of configured identifiers.
func (m *RoleMapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.roles)
}

// ResolveRole computes the effective role for a request. Precedence is
// total and deterministic: an explicit hint from the credential wins,
// else the configured mapping entry, else viewer.
func ResolveRole(identifier string, hint *Role, mapping *RoleMapping) Role {
	if hint != nil {
		return *hint
	}
	if role, ok := mapping.Lookup(identifier); ok {
		return role
	}
	return RoleViewer
}

// Principal is the authenticated identity and role resolved for one
// request. It is created fresh per request and never persisted.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// CanEdit reports whether the principal may perform mutating operations.
func (p *Principal) CanEdit() bool {
	return p != nil && p.Role == RoleEditor
}
