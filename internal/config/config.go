// Package config loads process-wide configuration once at startup into
// an immutable struct. Role mappings can additionally come from a YAML
// file, reloadable via an explicit watcher; nothing re-reads the
// environment on the request path.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/pantrykit/authgate/internal/auth"
)

// certsPath is where the identity provider publishes its signing keys.
const certsPath = "/cdn-cgi/access/certs"

// Config is the process configuration, read from the environment once
// at startup.
type Config struct {
	// TeamDomain is the identity provider's team domain, either a bare
	// team name or a full https URL.
	TeamDomain string `env:"CLOUDFLARE_TEAM_DOMAIN"`
	// KeyEndpoint overrides the derived key-material URL.
	KeyEndpoint string `env:"KEY_ENDPOINT"`

	// UserRoleMapping is a JSON object string mapping identifier to
	// role name.
	UserRoleMapping string `env:"USER_ROLE_MAPPING"`
	// WriterUsers is a comma-separated identifier list granted editor
	// outright.
	WriterUsers []string `env:"WRITER_USERS" envSeparator:","`
	// RoleMappingFile is an optional YAML file of identifier to role,
	// reloadable at runtime.
	RoleMappingFile string `env:"ROLE_MAPPING_FILE"`

	// AllowLegacy enables the plaintext credential formats retained
	// from earlier revisions of this gate.
	AllowLegacy bool `env:"ALLOW_LEGACY_CREDENTIALS" envDefault:"true"`

	KeyCacheTTL time.Duration `env:"KEY_CACHE_TTL" envDefault:"1h"`
	KeyFailOpen bool          `env:"KEY_FAIL_OPEN" envDefault:"false"`

	// RedisAddr enables the token deny list when set.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	ListenAddr   string `env:"LISTEN_ADDR" envDefault:":8080"`
	AuditLogFile string `env:"AUDIT_LOG_FILE"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// IssuerURL returns the expected token issuer derived from the team
// domain, or empty when no team domain is configured.
func (c *Config) IssuerURL() string {
	if c.TeamDomain == "" {
		return ""
	}
	if strings.HasPrefix(c.TeamDomain, "http://") || strings.HasPrefix(c.TeamDomain, "https://") {
		return strings.TrimSuffix(c.TeamDomain, "/")
	}
	return fmt.Sprintf("https://%s.cloudflareaccess.com", c.TeamDomain)
}

// KeyEndpointURL returns the key-material endpoint: an explicit
// override when set, else the provider's published certs URL.
func (c *Config) KeyEndpointURL() (string, error) {
	if c.KeyEndpoint != "" {
		return c.KeyEndpoint, nil
	}
	issuer := c.IssuerURL()
	if issuer == "" {
		return "", fmt.Errorf("no key endpoint: CLOUDFLARE_TEAM_DOMAIN or KEY_ENDPOINT must be set")
	}
	return issuer + certsPath, nil
}

// BuildRoleMapping assembles the identifier-to-role mapping from every
// configured source: the JSON mapping, then the YAML file, then
// WRITER_USERS, which unconditionally grants editor.
func (c *Config) BuildRoleMapping() (*auth.RoleMapping, error) {
	roles := make(map[string]auth.Role)

	if c.UserRoleMapping != "" {
		var raw map[string]string
		if err := json.Unmarshal([]byte(c.UserRoleMapping), &raw); err != nil {
			return nil, fmt.Errorf("parse USER_ROLE_MAPPING: %w", err)
		}
		mergeRoleNames(roles, raw)
	}

	if c.RoleMappingFile != "" {
		fromFile, err := LoadRoleMappingFile(c.RoleMappingFile)
		if err != nil {
			return nil, err
		}
		for id, role := range fromFile {
			roles[id] = role
		}
	}

	for _, user := range c.WriterUsers {
		user = strings.TrimSpace(user)
		if user != "" {
			roles[user] = auth.RoleEditor
		}
	}

	return auth.NewRoleMapping(roles), nil
}

// roleMappingFile is the YAML schema of the reloadable mapping file.
type roleMappingFile struct {
	Roles map[string]string `yaml:"roles"`
}

// LoadRoleMappingFile parses a YAML role-mapping file. Identifiers
// mapped to unrecognized role names are skipped rather than failing
// the whole file.
func LoadRoleMappingFile(path string) (map[string]auth.Role, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role mapping file: %w", err)
	}

	var file roleMappingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse role mapping file %s: %w", path, err)
	}

	roles := make(map[string]auth.Role)
	mergeRoleNames(roles, file.Roles)
	return roles, nil
}

// mergeRoleNames folds string role names into a mapping, dropping
// unrecognized names.
func mergeRoleNames(dst map[string]auth.Role, src map[string]string) {
	for id, name := range src {
		if role, ok := auth.ParseRole(name); ok {
			dst[id] = role
		}
	}
}
