package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the decoded payload of a structured token. Identity
// providers differ in which claim carries the stable user identifier,
// so all candidates are captured and resolved in priority order.
type Claims struct {
	jwt.RegisteredClaims

	Email             string   `json:"email,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Name              string   `json:"name,omitempty"`
	Role              string   `json:"role,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	Groups            []string `json:"groups,omitempty"`
}

// Identity returns the first non-empty identity claim in priority
// order: sub, email, preferred_username, name.
func (c *Claims) Identity() (string, error) {
	for _, candidate := range []string{c.Subject, c.Email, c.PreferredUsername, c.Name} {
		if candidate != "" {
			return candidate, nil
		}
	}
	return "", ErrMissingIdentity
}

// RoleHint returns the explicit role carried by the claims, if any.
// A string role claim wins; else the first recognized entry of the
// roles or groups arrays. Unrecognized role tokens are ignored.
func (c *Claims) RoleHint() *Role {
	if role, ok := ParseRole(c.Role); ok {
		return &role
	}
	for _, list := range [][]string{c.Roles, c.Groups} {
		for _, entry := range list {
			if role, ok := ParseRole(entry); ok {
				return &role
			}
		}
	}
	return nil
}

// Identity resolves (identifier, roleHint) from a legacy credential
// variant. Structured tokens resolve through Claims instead, after
// verification.
func resolveLegacyIdentity(variant CredentialVariant) (string, *Role, error) {
	switch v := variant.(type) {
	case JSONBlob:
		var user string
		for _, field := range []string{"user", "userId", "id"} {
			if s, ok := v.Fields[field].(string); ok && s != "" {
				user = s
				break
			}
		}
		if user == "" {
			return "", nil, fmt.Errorf("%w: JSON credential has no user field", ErrMissingIdentity)
		}
		var hint *Role
		if s, ok := v.Fields["role"].(string); ok {
			if role, known := ParseRole(s); known {
				hint = &role
			}
		}
		return user, hint, nil

	case UserRolePair:
		if v.User == "" {
			return "", nil, fmt.Errorf("%w: empty user before role separator", ErrMissingIdentity)
		}
		if role, known := ParseRole(v.RoleText); known {
			return v.User, &role, nil
		}
		return v.User, nil, nil

	case PlainUserID:
		if v.User == "" {
			return "", nil, ErrMissingIdentity
		}
		return v.User, nil, nil

	default:
		return "", nil, fmt.Errorf("%w: unexpected credential variant %T", ErrMalformedHeader, variant)
	}
}
