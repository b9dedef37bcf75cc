package httpapi

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrykit/authgate/internal/auth"
	"github.com/pantrykit/authgate/internal/auth/keys"
	"github.com/pantrykit/authgate/internal/metrics"
)

const testIssuer = "https://team.cloudflareaccess.com"

type gateFixture struct {
	privateKey *rsa.PrivateKey
	gate       *auth.Gate
}

func newGateFixture(t *testing.T, mapping *auth.RoleMapping) *gateFixture {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := keys.JWKS{Keys: []keys.JWK{{
		Kid: "k1",
		Kty: "RSA",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(privateKey.PublicKey.E)).Bytes()),
	}}}
	body, err := json.Marshal(jwks)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	t.Cleanup(server.Close)

	provider, err := keys.NewProvider(keys.Config{URL: server.URL})
	require.NoError(t, err)

	verifier, err := auth.NewVerifier(auth.VerifierConfig{Keys: provider, Issuer: testIssuer})
	require.NoError(t, err)

	gate, err := auth.NewGate(auth.GateConfig{
		Verifier:    verifier,
		Roles:       auth.StaticMapping{Mapping: mapping},
		AllowLegacy: true,
	})
	require.NoError(t, err)

	return &gateFixture{privateKey: privateKey, gate: gate}
}

func (f *gateFixture) issueToken(t *testing.T, subject, role string) string {
	t.Helper()

	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(f.privateKey)
	require.NoError(t, err)
	return signed
}

func echoPrincipal(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := GetPrincipal(r.Context())
		require.NoError(t, err)
		writeJSON(w, http.StatusOK, principal)
	})
}

func TestProtect_MissingHeader(t *testing.T) {
	f := newGateFixture(t, nil)
	mw := NewMiddleware(f.gate, nil, nil, nil)

	handler := mw.Authenticate(echoPrincipal(t))
	req := httptest.NewRequest("GET", "/recipes", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Missing CF_Authorization header"}`, w.Body.String())
}

func TestProtect_InvalidHeader(t *testing.T) {
	f := newGateFixture(t, nil)
	mw := NewMiddleware(f.gate, nil, nil, nil)
	handler := mw.Authenticate(echoPrincipal(t))

	tests := []struct {
		name   string
		header string
	}{
		{"malformed json", `{"invalid": json}`},
		{"tampered token", f.issueToken(t, "alice@example.com", "") + "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/recipes", nil)
			req.Header.Set(HeaderName, tt.header)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"error":"Invalid CF_Authorization header"}`, w.Body.String())
		})
	}
}

func TestProtect_EditorRequired(t *testing.T) {
	f := newGateFixture(t, nil)
	mw := NewMiddleware(f.gate, nil, nil, nil)
	handler := mw.RequireEditor(echoPrincipal(t))

	t.Run("viewer denied with 403", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/recipes", nil)
		req.Header.Set(HeaderName, "alice:viewer")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.JSONEq(t,
			`{"error":"Insufficient permissions","message":"Editor role required for this operation"}`,
			w.Body.String())
	})

	t.Run("editor proceeds", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/recipes", nil)
		req.Header.Set(HeaderName, "alice:editor")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"alice"`)
	})

	t.Run("unauthenticated gets 401 not 403", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/recipes", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestProtect_StructuredTokenPrincipal(t *testing.T) {
	f := newGateFixture(t, auth.NewRoleMapping(map[string]auth.Role{
		"mapped@example.com": auth.RoleEditor,
	}))
	mw := NewMiddleware(f.gate, nil, nil, nil)
	handler := mw.RequireEditor(echoPrincipal(t))

	req := httptest.NewRequest("POST", "/recipes", nil)
	req.Header.Set(HeaderName, f.issueToken(t, "mapped@example.com", ""))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var principal auth.Principal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &principal))
	assert.Equal(t, "mapped@example.com", principal.ID)
	assert.Equal(t, auth.RoleEditor, principal.Role)
}

func TestProtect_HeaderLookupIsCaseInsensitive(t *testing.T) {
	f := newGateFixture(t, nil)
	mw := NewMiddleware(f.gate, nil, nil, nil)
	handler := mw.Authenticate(echoPrincipal(t))

	req := httptest.NewRequest("GET", "/recipes", nil)
	req.Header.Set("cf_authorization", "alice")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProtect_RecordsMetrics(t *testing.T) {
	f := newGateFixture(t, nil)
	m := metrics.New("authgate_test")
	mw := NewMiddleware(f.gate, m, nil, nil)
	handler := mw.RequireEditor(echoPrincipal(t))

	requests := []struct {
		header string
	}{
		{""},               // missing_header
		{"alice:editor"},   // allowed
		{"alice:viewer"},   // denied
		{`{"bad": json0}`}, // unauthorized
	}

	for _, r := range requests {
		req := httptest.NewRequest("POST", "/recipes", nil)
		if r.header != "" {
			req.Header.Set(HeaderName, r.header)
		}
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	outcomes := map[string]float64{}
	for _, fam := range families {
		if fam.GetName() != "authgate_test_decisions_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" {
					outcomes[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}

	assert.Equal(t, 1.0, outcomes[metrics.OutcomeMissingHeader])
	assert.Equal(t, 1.0, outcomes[metrics.OutcomeAllowed])
	assert.Equal(t, 1.0, outcomes[metrics.OutcomeDenied])
	assert.Equal(t, 1.0, outcomes[metrics.OutcomeUnauthorized])
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generated when absent", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get("X-Request-Id"))
	})

	t.Run("propagated when present", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Request-Id", "req-123")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, "req-123", seen)
		assert.Equal(t, "req-123", w.Header().Get("X-Request-Id"))
	})
}
