package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// MappingSource supplies the current role mapping. Implementations
// return an immutable mapping; reloads swap the whole mapping out
// between requests, never mutate it in place.
type MappingSource interface {
	Current() *RoleMapping
}

// StaticMapping is a MappingSource fixed for the process lifetime.
type StaticMapping struct {
	Mapping *RoleMapping
}

// Current returns the fixed mapping.
func (s StaticMapping) Current() *RoleMapping { return s.Mapping }

// GateConfig configures the authorization gate.
type GateConfig struct {
	// Verifier validates structured tokens. Required.
	Verifier *Verifier
	// Roles supplies the identifier-to-role mapping. A nil source
	// resolves every unhinted identifier to viewer.
	Roles MappingSource
	// AllowLegacy enables the plaintext credential formats (JSON blob,
	// user:role, bare identifier) alongside structured tokens.
	AllowLegacy bool

	Logger *zap.Logger
}

// Gate is the composed per-request authentication and authorization
// decision: classify the credential, verify it when structured,
// resolve identity and role, and check role requirements.
type Gate struct {
	verifier    *Verifier
	roles       MappingSource
	allowLegacy bool
	logger      *zap.Logger
}

// NewGate creates an authorization gate.
func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		verifier:    cfg.Verifier,
		roles:       cfg.Roles,
		allowLegacy: cfg.AllowLegacy,
		logger:      logger,
	}, nil
}

// Authenticate resolves a raw header value to a Principal. An empty
// value means no credential was offered and fails with
// ErrMissingHeader. Every other failure surfaces the first error
// encountered along parse, verify, and identity resolution.
func (g *Gate) Authenticate(ctx context.Context, rawHeader string) (*Principal, error) {
	if rawHeader == "" {
		return nil, ErrMissingHeader
	}

	variant, err := ParseCredential(rawHeader)
	if err != nil {
		return nil, err
	}

	var (
		identifier string
		hint       *Role
	)
	switch v := variant.(type) {
	case StructuredToken:
		claims, err := g.verifier.Verify(ctx, v.Raw)
		if err != nil {
			g.logger.Warn("credential verification failed", zap.Error(err))
			return nil, err
		}
		identifier, err = claims.Identity()
		if err != nil {
			g.logger.Warn("verified token carries no identity", zap.Error(err))
			return nil, err
		}
		hint = claims.RoleHint()
	default:
		if !g.allowLegacy {
			g.logger.Debug("legacy credential rejected")
			return nil, fmt.Errorf("%w: legacy credential formats are disabled", ErrMalformedHeader)
		}
		identifier, hint, err = resolveLegacyIdentity(variant)
		if err != nil {
			return nil, err
		}
	}

	var mapping *RoleMapping
	if g.roles != nil {
		mapping = g.roles.Current()
	}

	return &Principal{
		ID:   identifier,
		Role: ResolveRole(identifier, hint, mapping),
	}, nil
}

// RequireRole checks an authenticated principal against a minimum
// role. Editor is the only gated role; every principal satisfies a
// viewer requirement.
func RequireRole(p *Principal, minimum Role) error {
	if minimum == RoleEditor && (p == nil || p.Role != RoleEditor) {
		return ErrInsufficientPermissions
	}
	return nil
}

// AuthenticateEditor authenticates and requires the editor role in one
// step. Authentication failures short-circuit before the role check: a
// request that never authenticated is not told which permission it
// lacked.
func (g *Gate) AuthenticateEditor(ctx context.Context, rawHeader string) (*Principal, error) {
	principal, err := g.Authenticate(ctx, rawHeader)
	if err != nil {
		return nil, err
	}
	if err := RequireRole(principal, RoleEditor); err != nil {
		return nil, err
	}
	return principal, nil
}
