package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// CredentialVariant is the closed set of shapes a raw CF_Authorization
// value can take. Classification is purely structural: no network, no
// crypto, and no trust decisions happen here.
type CredentialVariant interface {
	credentialVariant()
}

// StructuredToken is a three-segment signed token (header.payload.signature).
type StructuredToken struct {
	Raw string
}

// JSONBlob is a legacy plaintext credential shaped as a JSON object.
type JSONBlob struct {
	Fields map[string]interface{}
}

// UserRolePair is a legacy "user:role" credential.
type UserRolePair struct {
	User     string
	RoleText string
}

// PlainUserID is a legacy bare-identifier credential.
type PlainUserID struct {
	User string
}

func (StructuredToken) credentialVariant() {}
func (JSONBlob) credentialVariant()        {}
func (UserRolePair) credentialVariant()    {}
func (PlainUserID) credentialVariant()     {}

// ParseCredential classifies a raw header value into exactly one
// CredentialVariant. Classification order is a contract: structured
// token detection first, then JSON object, then colon pair, then plain
// identifier. Callers reject empty input before calling.
func ParseCredential(raw string) (CredentialVariant, error) {
	if isStructuredToken(raw) {
		return StructuredToken{Raw: raw}, nil
	}

	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON credential: %v", ErrMalformedHeader, err)
		}
		return JSONBlob{Fields: fields}, nil
	}

	if idx := strings.Index(raw, ":"); idx >= 0 {
		return UserRolePair{User: raw[:idx], RoleText: raw[idx+1:]}, nil
	}

	return PlainUserID{User: raw}, nil
}

// isStructuredToken reports whether the value splits into exactly three
// non-empty, base64url-decodable segments.
func isStructuredToken(raw string) bool {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		if _, err := decodeSegment(part); err != nil {
			return false
		}
	}
	return true
}

// decodeSegment decodes a base64url token segment, tolerating both
// padded and unpadded encodings.
func decodeSegment(seg string) ([]byte, error) {
	if strings.ContainsAny(seg, "=") {
		return base64.URLEncoding.DecodeString(seg)
	}
	return base64.RawURLEncoding.DecodeString(seg)
}
