package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrykit/authgate/internal/auth"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.AllowLegacy)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "1h0m0s", cfg.KeyCacheTTL.String())
	assert.False(t, cfg.KeyFailOpen)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("CLOUDFLARE_TEAM_DOMAIN", "pantry")
	t.Setenv("USER_ROLE_MAPPING", `{"alice":"editor"}`)
	t.Setenv("WRITER_USERS", "bob, carol")
	t.Setenv("ALLOW_LEGACY_CREDENTIALS", "false")
	t.Setenv("KEY_CACHE_TTL", "30m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pantry", cfg.TeamDomain)
	assert.Equal(t, []string{"bob", " carol"}, cfg.WriterUsers)
	assert.False(t, cfg.AllowLegacy)
	assert.Equal(t, "30m0s", cfg.KeyCacheTTL.String())
}

func TestIssuerURL(t *testing.T) {
	tests := []struct {
		name   string
		domain string
		want   string
	}{
		{"bare team name", "pantry", "https://pantry.cloudflareaccess.com"},
		{"full url", "https://pantry.cloudflareaccess.com", "https://pantry.cloudflareaccess.com"},
		{"full url with trailing slash", "https://pantry.cloudflareaccess.com/", "https://pantry.cloudflareaccess.com"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{TeamDomain: tt.domain}
			assert.Equal(t, tt.want, cfg.IssuerURL())
		})
	}
}

func TestKeyEndpointURL(t *testing.T) {
	t.Run("derived from team domain", func(t *testing.T) {
		cfg := &Config{TeamDomain: "pantry"}
		url, err := cfg.KeyEndpointURL()
		require.NoError(t, err)
		assert.Equal(t, "https://pantry.cloudflareaccess.com/cdn-cgi/access/certs", url)
	})

	t.Run("explicit override", func(t *testing.T) {
		cfg := &Config{TeamDomain: "pantry", KeyEndpoint: "http://localhost:9999/certs"}
		url, err := cfg.KeyEndpointURL()
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:9999/certs", url)
	})

	t.Run("unconfigured", func(t *testing.T) {
		cfg := &Config{}
		_, err := cfg.KeyEndpointURL()
		assert.Error(t, err)
	})
}

func TestBuildRoleMapping(t *testing.T) {
	t.Run("json mapping", func(t *testing.T) {
		cfg := &Config{UserRoleMapping: `{"alice":"editor","bob":"viewer","eve":"chef"}`}

		mapping, err := cfg.BuildRoleMapping()
		require.NoError(t, err)

		role, ok := mapping.Lookup("alice")
		require.True(t, ok)
		assert.Equal(t, auth.RoleEditor, role)

		role, ok = mapping.Lookup("bob")
		require.True(t, ok)
		assert.Equal(t, auth.RoleViewer, role)

		// Unrecognized role names are skipped, not errors.
		_, ok = mapping.Lookup("eve")
		assert.False(t, ok)
	})

	t.Run("invalid json mapping", func(t *testing.T) {
		cfg := &Config{UserRoleMapping: `{"alice": }`}
		_, err := cfg.BuildRoleMapping()
		assert.Error(t, err)
	})

	t.Run("writer users grant editor", func(t *testing.T) {
		cfg := &Config{WriterUsers: []string{"bob", " carol ", ""}}

		mapping, err := cfg.BuildRoleMapping()
		require.NoError(t, err)

		for _, user := range []string{"bob", "carol"} {
			role, ok := mapping.Lookup(user)
			require.True(t, ok, user)
			assert.Equal(t, auth.RoleEditor, role)
		}
	})

	t.Run("writer users override json mapping", func(t *testing.T) {
		cfg := &Config{
			UserRoleMapping: `{"bob":"viewer"}`,
			WriterUsers:     []string{"bob"},
		}

		mapping, err := cfg.BuildRoleMapping()
		require.NoError(t, err)

		role, ok := mapping.Lookup("bob")
		require.True(t, ok)
		assert.Equal(t, auth.RoleEditor, role)
	})

	t.Run("yaml file merged over json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "roles.yaml")
		require.NoError(t, os.WriteFile(path, []byte("roles:\n  dave: editor\n  alice: viewer\n"), 0o600))

		cfg := &Config{
			UserRoleMapping: `{"alice":"editor"}`,
			RoleMappingFile: path,
		}

		mapping, err := cfg.BuildRoleMapping()
		require.NoError(t, err)

		role, ok := mapping.Lookup("dave")
		require.True(t, ok)
		assert.Equal(t, auth.RoleEditor, role)

		// File entries win over the JSON mapping.
		role, ok = mapping.Lookup("alice")
		require.True(t, ok)
		assert.Equal(t, auth.RoleViewer, role)
	})

	t.Run("missing yaml file", func(t *testing.T) {
		cfg := &Config{RoleMappingFile: "/nonexistent/roles.yaml"}
		_, err := cfg.BuildRoleMapping()
		assert.Error(t, err)
	})
}
