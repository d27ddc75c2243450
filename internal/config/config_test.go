package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexjbarnes/imoneza-gate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"IMONEZA_ACCESS_API_URL",
		"IMONEZA_MANAGEMENT_API_URL",
		"IMONEZA_ACCESS_API_KEY",
		"IMONEZA_ACCESS_API_SECRET",
		"IMONEZA_MANAGEMENT_API_KEY",
		"IMONEZA_MANAGEMENT_API_SECRET",
		"IMONEZA_EXCLUDED_USER_AGENTS",
		"IMONEZA_DYNAMIC_RESOURCE_CREATION_DISABLED",
		"IMONEZA_ACCESS_CONTROL",
		"IMONEZA_HTTP_TIMEOUT",
		"IMONEZA_COOKIE_NAME",
		"IMONEZA_COOKIE_TTL",
		"UPSTREAM_URL",
		"SITE_URL",
		"GATEWAY_LISTEN_ADDR",
		"ADMIN_LISTEN_ADDR",
		"PROTECTED_PATH_PATTERN",
		"RESOURCE_KEY_PREFIX",
		"TRUST_PROXY_HEADERS",
		"ADMIN_USERS",
		"ADMIN_API_KEYS",
		"STATE_PATH",
		"ENABLE_MCP",
		"ENVIRONMENT",
		"LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// setGatewayEnv sets the minimum env vars for serve mode.
func setGatewayEnv(t *testing.T) {
	t.Helper()
	t.Setenv("UPSTREAM_URL", "http://127.0.0.1:8000")
	t.Setenv("SITE_URL", "https://news.example.com")
	t.Setenv("ADMIN_USERS", "editor:$2a$10$hash")
	t.Setenv("STATE_PATH", filepath.Join(t.TempDir(), "state.db"))
}

var testAPIKey = "ig_" + strings.Repeat("ab", 32)

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	setGatewayEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://accessapi.imoneza.com", cfg.AccessAPIURL)
	assert.Equal(t, "https://manageapi.imoneza.com", cfg.ManagementAPIURL)
	assert.Equal(t, "server", cfg.AccessControl)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "imoneza-user-token", cfg.CookieName)
	assert.Equal(t, 14*24*time.Hour, cfg.CookieTTL)
	assert.Equal(t, ":8080", cfg.GatewayListenAddr)
	assert.Equal(t, ":8090", cfg.AdminListenAddr)
	assert.Equal(t, "/node/{id}", cfg.ProtectedPathPattern)
	assert.Equal(t, "node-", cfg.ResourceKeyPrefix)
	assert.False(t, cfg.TrustProxyHeaders)
	assert.False(t, cfg.EnableMCP)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomValues(t *testing.T) {
	clearConfigEnv(t)
	setGatewayEnv(t)
	t.Setenv("IMONEZA_HTTP_TIMEOUT", "2s")
	t.Setenv("IMONEZA_ACCESS_CONTROL", "client")
	t.Setenv("IMONEZA_DYNAMIC_RESOURCE_CREATION_DISABLED", "true")
	t.Setenv("TRUST_PROXY_HEADERS", "true")
	t.Setenv("PROTECTED_PATH_PATTERN", "/articles/{id}")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "client", cfg.AccessControl)
	assert.True(t, cfg.DynamicResourceCreationDisabled)
	assert.True(t, cfg.TrustProxyHeaders)
	assert.Equal(t, "/articles/{id}", cfg.ProtectedPathPattern)
}

func TestLoad_MissingUpstream(t *testing.T) {
	clearConfigEnv(t)
	setGatewayEnv(t)
	os.Unsetenv("UPSTREAM_URL")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UPSTREAM_URL")
}

func TestLoad_MissingSiteURL(t *testing.T) {
	clearConfigEnv(t)
	setGatewayEnv(t)
	os.Unsetenv("SITE_URL")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SITE_URL")
}

func TestLoad_RelativeURLRejected(t *testing.T) {
	clearConfigEnv(t)
	setGatewayEnv(t)
	t.Setenv("IMONEZA_ACCESS_API_URL", "/api")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMONEZA_ACCESS_API_URL")
}

func TestLoad_InvalidAccessControl(t *testing.T) {
	clearConfigEnv(t)
	setGatewayEnv(t)
	t.Setenv("IMONEZA_ACCESS_CONTROL", "edge")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMONEZA_ACCESS_CONTROL")
}

func TestLoad_NoAdminAuth(t *testing.T) {
	clearConfigEnv(t)
	setGatewayEnv(t)
	os.Unsetenv("ADMIN_USERS")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_USERS or ADMIN_API_KEYS")
}

func TestLoad_APIKeysAloneSuffice(t *testing.T) {
	clearConfigEnv(t)
	setGatewayEnv(t)
	os.Unsetenv("ADMIN_USERS")
	t.Setenv("ADMIN_API_KEYS", "ops:"+testAPIKey)

	_, err := Load()
	require.NoError(t, err)
}

func TestLoad_PatternWithoutWildcard(t *testing.T) {
	clearConfigEnv(t)
	setGatewayEnv(t)
	t.Setenv("PROTECTED_PATH_PATTERN", "/node/")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{id}")
}

func TestLoad_BadTimeout(t *testing.T) {
	clearConfigEnv(t)
	setGatewayEnv(t)
	t.Setenv("IMONEZA_HTTP_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoad_ResolvesRelativeStatePath(t *testing.T) {
	clearConfigEnv(t)
	setGatewayEnv(t)
	t.Setenv("STATE_PATH", "relative/state.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.StatePath))
	assert.True(t, strings.HasSuffix(cfg.StatePath, filepath.Join("relative", "state.db")))
}

func TestLoadForPush_SkipsGatewayValidation(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("STATE_PATH", filepath.Join(t.TempDir(), "state.db"))

	cfg, err := LoadForPush()
	require.NoError(t, err)
	assert.Empty(t, cfg.UpstreamURL)
}

func TestDefaultStatePath(t *testing.T) {
	p, err := DefaultStatePath()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, filepath.Join(".imoneza-gate", "state.db")))
}

func TestIsProduction(t *testing.T) {
	assert.True(t, (&Config{Environment: "production"}).IsProduction())
	assert.False(t, (&Config{Environment: "development"}).IsProduction())
}

// --- SeedSettings ---

func TestSeedSettings(t *testing.T) {
	cfg := &Config{
		AccessAPIKey:                    "ak",
		AccessAPISecret:                 "as",
		ManagementAPIKey:                "mk",
		ManagementAPISecret:             "ms",
		ExcludedUserAgents:              "Googlebot\r\nBingbot",
		DynamicResourceCreationDisabled: true,
		AccessControl:                   "server",
	}

	s := cfg.SeedSettings()
	assert.True(t, s.AccessReady())
	assert.True(t, s.ManagementReady())
	assert.Equal(t, "Googlebot\nBingbot", s.ExcludedUserAgents)
	assert.True(t, s.DynamicResourceCreationDisabled)
	assert.Equal(t, models.AccessControlServer, s.AccessControl)
}

// --- ParseAdminUsers ---

func TestParseAdminUsers_Valid(t *testing.T) {
	cfg := &Config{AdminUsers: "alex:$2a$10$hash1, bob:$2a$10$hash2"}
	users, err := cfg.ParseAdminUsers()
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, "$2a$10$hash1", users["alex"])
	assert.Equal(t, "$2a$10$hash2", users["bob"])
}

func TestParseAdminUsers_Empty(t *testing.T) {
	users, err := (&Config{}).ParseAdminUsers()
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestParseAdminUsers_Errors(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"invalidentry", "missing ':'"},
		{":$2a$10$hash", "empty username"},
		{"user:", "empty username or password hash"},
		{"user:plaintext", "not a bcrypt hash"},
		{"a:$2a$10$x,a:$2a$10$y", "duplicate username"},
	}
	for _, tt := range tests {
		_, err := (&Config{AdminUsers: tt.raw}).ParseAdminUsers()
		require.Error(t, err, tt.raw)
		assert.Contains(t, err.Error(), tt.want, tt.raw)
	}
}

// --- ParseAdminAPIKeys ---

func TestParseAdminAPIKeys_Valid(t *testing.T) {
	entries, err := (&Config{AdminAPIKeys: "ops:" + testAPIKey}).ParseAdminAPIKeys()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ops", entries[0].UserID)
	assert.Equal(t, testAPIKey, entries[0].Key)
}

func TestParseAdminAPIKeys_Errors(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"nocolon", "missing ':'"},
		{"ops:", "empty user or key"},
		{"ops:vs_" + strings.Repeat("ab", 32), "prefix"},
		{"ops:ig_abc", "too short"},
		{"ops:ig_" + strings.Repeat("zz", 32), "non-hex"},
		{"ops:" + testAPIKey + ",ops:" + testAPIKey, "duplicate user_id"},
	}
	for _, tt := range tests {
		_, err := (&Config{AdminAPIKeys: tt.raw}).ParseAdminAPIKeys()
		require.Error(t, err, tt.raw)
		assert.Contains(t, err.Error(), tt.want, tt.raw)
	}
}

// --- warnInsecureEnvFile ---

func TestWarnInsecureEnvFile_NoFile(t *testing.T) {
	t.Chdir(t.TempDir())
	warnInsecureEnvFile()
}

func TestResourceURL(t *testing.T) {
	cfg := &Config{
		SiteURL:              "https://news.example.com/",
		ProtectedPathPattern: "/node/{id}",
		ResourceKeyPrefix:    "node-",
	}

	assert.Equal(t, "https://news.example.com/node/42", cfg.ResourceURL("node-42"))
	assert.Equal(t, "https://news.example.com/node/a%20b", cfg.ResourceURL("node-a b"))

	cfg.ProtectedPathPattern = "GET news.example.com/story/{id}"
	assert.Equal(t, "https://news.example.com/story/7", cfg.ResourceURL("node-7"))

	cfg.ResourceKeyPrefix = ""
	assert.Equal(t, "https://news.example.com/story/node-7", cfg.ResourceURL("node-7"))
}
