// Package keys fetches and caches the identity provider's public
// signing keys. The provider publishes either a JWKS document or a
// bare PEM key; both are parsed into RSA public keys indexed by key ID.
package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCacheTTL is the freshness window for fetched key material.
const DefaultCacheTTL = 1 * time.Hour

// DefaultFetchTimeout bounds the outbound key-material request.
const DefaultFetchTimeout = 10 * time.Second

// singleKeyID indexes a bare PEM key, which carries no kid of its own.
const singleKeyID = ""

// JWKS represents a JSON Web Key Set as published by the provider.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a single JSON Web Key.
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Config configures a Provider.
type Config struct {
	// URL is the provider's published key endpoint.
	URL string
	// CacheTTL is the freshness window; DefaultCacheTTL if zero.
	CacheTTL time.Duration
	// Client performs the outbound fetch; a client with
	// DefaultFetchTimeout is used if nil.
	Client *http.Client
	// Now supplies the clock; time.Now if nil.
	Now func() time.Time
	// FailOpen serves stale key material when a refresh fails instead
	// of failing the request. Default is fail-closed.
	FailOpen bool
	// OnRefresh is invoked after every fetch attempt with "success" or
	// "failure". Optional.
	OnRefresh func(result string)

	Logger *zap.Logger
}

// Provider caches provider key material with a time-based freshness
// window. The cached key set is replaced wholesale on refresh and read
// concurrently by in-flight verifications; concurrent refreshes of a
// stale cache are tolerated duplicate work.
type Provider struct {
	url       string
	cacheTTL  time.Duration
	client    *http.Client
	now       func() time.Time
	failOpen  bool
	onRefresh func(string)
	logger    *zap.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewProvider creates a key material provider. No fetch happens until
// the first key lookup.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("key endpoint URL is required")
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		url:       cfg.URL,
		cacheTTL:  ttl,
		client:    client,
		now:       now,
		failOpen:  cfg.FailOpen,
		onRefresh: cfg.OnRefresh,
		logger:    logger,
	}, nil
}

// GetKey returns the public key for the given key ID, fetching or
// refreshing the cached key set as needed. An unexpired cache entry is
// always honored without refetching. With kid empty, a sole cached key
// is returned, which covers providers publishing a single PEM key.
func (p *Provider) GetKey(kid string) (*rsa.PublicKey, error) {
	p.mu.RLock()
	key, ok := p.lookupLocked(kid)
	fresh := !p.fetchedAt.IsZero() && p.now().Sub(p.fetchedAt) <= p.cacheTTL
	p.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if err := p.refresh(); err != nil {
		if ok && p.failOpen {
			p.logger.Warn("serving stale key material after failed refresh", zap.Error(err))
			return key, nil
		}
		return nil, err
	}

	p.mu.RLock()
	key, ok = p.lookupLocked(kid)
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("key %q not found in provider key set", kid)
	}
	return key, nil
}

// lookupLocked resolves a kid against the cached set. Callers hold at
// least a read lock.
func (p *Provider) lookupLocked(kid string) (*rsa.PublicKey, bool) {
	if key, ok := p.keys[kid]; ok {
		return key, true
	}
	// A token without a kid can only match an unambiguous key set.
	if kid == singleKeyID && len(p.keys) == 1 {
		for _, key := range p.keys {
			return key, true
		}
	}
	return nil, false
}

// Invalidate discards cached key material. The next lookup must fetch;
// there is no stale fallback after an explicit invalidation.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.keys = nil
	p.fetchedAt = time.Time{}
	p.mu.Unlock()
}

// refresh fetches the key endpoint and replaces the cached set.
func (p *Provider) refresh() error {
	err := p.doRefresh()
	if p.onRefresh != nil {
		if err != nil {
			p.onRefresh("failure")
		} else {
			p.onRefresh("success")
		}
	}
	return err
}

func (p *Provider) doRefresh() error {
	resp, err := p.client.Get(p.url)
	if err != nil {
		return fmt.Errorf("fetch key material: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("key endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read key material response: %w", err)
	}

	newKeys, err := parseKeyMaterial(body)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.keys = newKeys
	p.fetchedAt = p.now()
	p.mu.Unlock()

	p.logger.Debug("key material refreshed", zap.Int("keys", len(newKeys)))
	return nil
}

// parseKeyMaterial parses a response body as a JWKS document, falling
// back to a bare PEM-encoded key or certificate.
func parseKeyMaterial(body []byte) (map[string]*rsa.PublicKey, error) {
	var jwks JWKS
	if err := json.Unmarshal(body, &jwks); err == nil && len(jwks.Keys) > 0 {
		keys := make(map[string]*rsa.PublicKey)
		for _, jwk := range jwks.Keys {
			if jwk.Kty != "RSA" {
				continue
			}
			if jwk.Use != "" && jwk.Use != "sig" {
				continue
			}
			key, err := jwk.ToRSAPublicKey()
			if err != nil {
				continue
			}
			keys[jwk.Kid] = key
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("no usable RSA signing keys in JWKS")
		}
		return keys, nil
	}

	key, err := parsePEMPublicKey(body)
	if err != nil {
		return nil, fmt.Errorf("key material is neither JWKS nor PEM: %w", err)
	}
	return map[string]*rsa.PublicKey{singleKeyID: key}, nil
}

// parsePEMPublicKey parses a PEM block holding either a public key or
// a certificate whose subject key is RSA.
func parsePEMPublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		key, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("certificate key is not RSA")
		}
		return key, nil
	default:
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA")
		}
		return key, nil
	}
}

// ToRSAPublicKey converts a JWK to an RSA public key.
func (jwk *JWK) ToRSAPublicKey() (*rsa.PublicKey, error) {
	if jwk.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type: %s", jwk.Kty)
	}
	if jwk.N == "" || jwk.E == "" {
		return nil, fmt.Errorf("missing required RSA parameters")
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() <= 0 {
		return nil, fmt.Errorf("invalid RSA exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}
