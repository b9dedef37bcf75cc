package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/pantrykit/authgate/internal/auth/keys"
)

// VerifierConfig configures structured token verification.
type VerifierConfig struct {
	// Keys supplies provider key material. Required.
	Keys *keys.Provider
	// Issuer is the expected issuer claim. Empty disables the check.
	Issuer string
	// Revocations is an optional token deny list consulted after
	// successful verification.
	Revocations *RevocationList
	// Now supplies the clock used for expiry checks; time.Now if nil.
	Now func() time.Time
	// OnRevocationError is invoked once per failed deny-list lookup.
	OnRevocationError func()

	Logger *zap.Logger
}

// Verifier decides whether a structured token is authentic and current.
// Verification is fail-closed: a token that cannot be checked against
// key material is never trusted.
type Verifier struct {
	keys              *keys.Provider
	issuer            string
	revocations       *RevocationList
	now               func() time.Time
	onRevocationError func()
	logger            *zap.Logger
}

// NewVerifier creates a structured token verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Keys == nil {
		return nil, fmt.Errorf("key provider is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		keys:              cfg.Keys,
		issuer:            cfg.Issuer,
		revocations:       cfg.Revocations,
		now:               now,
		onRevocationError: cfg.OnRevocationError,
		logger:            logger,
	}, nil
}

// Verify validates a structured token and returns its claims. The
// rejection points are checked in order: algorithm, key material,
// signature, expiry, issuer. The first failure aborts verification.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		// RS256 only, checked before any signature math. Rejecting on
		// method type also covers alg=none confusion.
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, token.Header["alg"])
		}
		if token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, token.Method.Alg())
		}

		kid, _ := token.Header["kid"].(string)
		key, err := v.keys.GetKey(kid)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyFetch, err)
		}
		return key, nil
	}, jwt.WithTimeFunc(v.now))

	if err != nil {
		return nil, mapVerifyError(err)
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidIssuer, v.issuer, claims.Issuer)
	}

	if v.revocations != nil && claims.ID != "" {
		revoked, err := v.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			// Deny-list unavailability degrades to a warning rather
			// than failing verifiable tokens.
			v.logger.Warn("revocation check failed", zap.Error(err), zap.String("jti", claims.ID))
			if v.onRevocationError != nil {
				v.onRevocationError()
			}
		} else if revoked {
			return nil, ErrTokenRevoked
		}
	}

	return &claims, nil
}

// mapVerifyError collapses the token library's error chain onto the
// gate's taxonomy, preserving the ordered rejection semantics.
func mapVerifyError(err error) error {
	switch {
	case errors.Is(err, ErrUnsupportedAlgorithm):
		return err
	case errors.Is(err, ErrKeyFetch):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpiredToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	default:
		// Remaining validation failures (nbf in the future, iat after
		// now) are rejected without blaming the signature.
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
