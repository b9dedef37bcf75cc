package auth

import "errors"

var (
	// ErrMissingHeader is returned when no credential header was offered at all
	ErrMissingHeader = errors.New("missing CF_Authorization header")

	// ErrMalformedHeader is returned when a header violates its own structural format
	ErrMalformedHeader = errors.New("malformed CF_Authorization header")

	// ErrUnsupportedAlgorithm is returned when a token declares an algorithm other than RS256
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

	// ErrInvalidSignature is returned when a token signature does not verify
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrExpiredToken is returned when a token's exp claim is in the past
	ErrExpiredToken = errors.New("token has expired")

	// ErrInvalidToken is returned when a token fails validation for a
	// reason with no more specific sentinel, such as an nbf in the future
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidIssuer is returned when a token's issuer does not match the configured issuer
	ErrInvalidIssuer = errors.New("invalid token issuer")

	// ErrMissingIdentity is returned when no identifier could be derived from a credential
	ErrMissingIdentity = errors.New("no identity in credential")

	// ErrKeyFetch is returned when signing key material could not be obtained
	ErrKeyFetch = errors.New("key material fetch failed")

	// ErrTokenRevoked is returned when a verified token is on the deny list
	ErrTokenRevoked = errors.New("token has been revoked")

	// ErrInsufficientPermissions is returned when an authenticated principal lacks the required role
	ErrInsufficientPermissions = errors.New("insufficient permissions")
)
