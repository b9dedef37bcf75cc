package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// revocationKeyPrefix namespaces deny-list entries in Redis.
const revocationKeyPrefix = "authgate:revoked:"

// RevocationList is a Redis-backed token deny list keyed by token ID
// (jti). Entries expire with the token itself, so the list never grows
// past the set of still-valid revoked tokens.
type RevocationList struct {
	client *redis.Client
}

// NewRevocationList creates a deny list backed by the given client.
func NewRevocationList(client *redis.Client) *RevocationList {
	return &RevocationList{client: client}
}

// Revoke adds a token ID to the deny list until its expiry. Revoking
// an already-expired token is a no-op.
func (r *RevocationList) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	key := revocationKeyPrefix + jti
	if err := r.client.Set(ctx, key, expiresAt.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether a token ID is on the deny list.
func (r *RevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, revocationKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}
