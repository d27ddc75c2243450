package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/imoneza-gate/internal/auth"
	"github.com/alexjbarnes/imoneza-gate/internal/models"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for imoneza-gate.
type Config struct {
	// Remote API base URLs. Not editable from the admin API.
	AccessAPIURL     string `env:"IMONEZA_ACCESS_API_URL" envDefault:"https://accessapi.imoneza.com"`
	ManagementAPIURL string `env:"IMONEZA_MANAGEMENT_API_URL" envDefault:"https://manageapi.imoneza.com"`

	// Credential seeds. Written to the state store on first start only;
	// after that the admin API owns them.
	AccessAPIKey        string `env:"IMONEZA_ACCESS_API_KEY"`
	AccessAPISecret     string `env:"IMONEZA_ACCESS_API_SECRET"`
	ManagementAPIKey    string `env:"IMONEZA_MANAGEMENT_API_KEY"`
	ManagementAPISecret string `env:"IMONEZA_MANAGEMENT_API_SECRET"`

	ExcludedUserAgents              string `env:"IMONEZA_EXCLUDED_USER_AGENTS"`
	DynamicResourceCreationDisabled bool   `env:"IMONEZA_DYNAMIC_RESOURCE_CREATION_DISABLED" envDefault:"false"`
	AccessControl                   string `env:"IMONEZA_ACCESS_CONTROL" envDefault:"server"`

	HTTPTimeout time.Duration `env:"IMONEZA_HTTP_TIMEOUT" envDefault:"5s"`
	CookieName  string        `env:"IMONEZA_COOKIE_NAME" envDefault:"imoneza-user-token"`
	CookieTTL   time.Duration `env:"IMONEZA_COOKIE_TTL" envDefault:"336h"`

	// Gateway routing
	UpstreamURL          string `env:"UPSTREAM_URL"`
	SiteURL              string `env:"SITE_URL"`
	GatewayListenAddr    string `env:"GATEWAY_LISTEN_ADDR" envDefault:":8080"`
	AdminListenAddr      string `env:"ADMIN_LISTEN_ADDR" envDefault:":8090"`
	ProtectedPathPattern string `env:"PROTECTED_PATH_PATTERN" envDefault:"/node/{id}"`
	ResourceKeyPrefix    string `env:"RESOURCE_KEY_PREFIX" envDefault:"node-"`
	TrustProxyHeaders    bool   `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Admin API auth. At least one must be set.
	AdminUsers   string `env:"ADMIN_USERS"`
	AdminAPIKeys string `env:"ADMIN_API_KEYS"`

	// StatePath defaults to ~/.imoneza-gate/state.db.
	StatePath string `env:"STATE_PATH"`

	EnableMCP bool `env:"ENABLE_MCP" envDefault:"false"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

func parse() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	cfg, err := parse()
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if err := cfg.resolveStatePath(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadForPush reads configuration for the push subcommand, which only
// needs the Management API and the state store.
func LoadForPush() (*Config, error) {
	cfg, err := parse()
	if err != nil {
		return nil, err
	}

	if err := validateAbsURL("IMONEZA_MANAGEMENT_API_URL", cfg.ManagementAPIURL); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if err := cfg.resolveStatePath(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolveStatePath fills in the default state path and makes it
// absolute.
func (c *Config) resolveStatePath() error {
	if c.StatePath == "" {
		p, err := DefaultStatePath()
		if err != nil {
			return err
		}

		c.StatePath = p
	}

	absPath, err := filepath.Abs(c.StatePath)
	if err != nil {
		return fmt.Errorf("resolving state path to absolute path: %w", err)
	}

	c.StatePath = absPath

	return nil
}

func (c *Config) validate() error {
	if c.UpstreamURL == "" {
		return fmt.Errorf("UPSTREAM_URL is required")
	}

	if err := validateAbsURL("UPSTREAM_URL", c.UpstreamURL); err != nil {
		return err
	}

	if c.SiteURL == "" {
		return fmt.Errorf("SITE_URL is required")
	}

	if err := validateAbsURL("SITE_URL", c.SiteURL); err != nil {
		return err
	}

	if err := validateAbsURL("IMONEZA_ACCESS_API_URL", c.AccessAPIURL); err != nil {
		return err
	}

	if err := validateAbsURL("IMONEZA_MANAGEMENT_API_URL", c.ManagementAPIURL); err != nil {
		return err
	}

	if !models.AccessControl(c.AccessControl).Valid() {
		return fmt.Errorf("IMONEZA_ACCESS_CONTROL must be one of none, client, server")
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("IMONEZA_HTTP_TIMEOUT must be positive")
	}

	if c.CookieTTL <= 0 {
		return fmt.Errorf("IMONEZA_COOKIE_TTL must be positive")
	}

	if !strings.Contains(c.ProtectedPathPattern, "{id}") {
		return fmt.Errorf("PROTECTED_PATH_PATTERN must contain an {id} wildcard")
	}

	if c.AdminUsers == "" && c.AdminAPIKeys == "" {
		return fmt.Errorf("at least one admin auth method required: ADMIN_USERS or ADMIN_API_KEYS")
	}

	return nil
}

func validateAbsURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", name)
	}

	return nil
}

// DefaultStatePath returns ~/.imoneza-gate/state.db.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".imoneza-gate", "state.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SeedSettings returns the plugin settings described by the environment.
// They are written to the state store only when it holds none yet.
func (c *Config) SeedSettings() models.Settings {
	return models.Settings{
		AccessAPIKey:                    c.AccessAPIKey,
		AccessAPISecret:                 c.AccessAPISecret,
		ManagementAPIKey:                c.ManagementAPIKey,
		ManagementAPISecret:             c.ManagementAPISecret,
		ExcludedUserAgents:              strings.ReplaceAll(c.ExcludedUserAgents, "\r", ""),
		DynamicResourceCreationDisabled: c.DynamicResourceCreationDisabled,
		AccessControl:                   models.AccessControl(c.AccessControl),
	}
}

// APIKeyEntry holds a pre-configured API key and its associated user
// identity parsed from ADMIN_API_KEYS.
type APIKeyEntry struct {
	UserID string
	Key    string
}

// ParseAdminAPIKeys parses the ADMIN_API_KEYS string.
// Format: "user1:ig_key1,user2:ig_key2"
func (c *Config) ParseAdminAPIKeys() ([]APIKeyEntry, error) {
	if c.AdminAPIKeys == "" {
		return nil, nil
	}

	seenUsers := make(map[string]struct{})

	var entries []APIKeyEntry

	for _, pair := range strings.Split(c.AdminAPIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid API key entry (missing ':')")
		}

		userID := pair[:idx]

		key := pair[idx+1:]
		if userID == "" || key == "" {
			return nil, fmt.Errorf("empty user or key in entry %d", len(entries)+1)
		}

		if !strings.HasPrefix(key, auth.APIKeyPrefix) {
			return nil, fmt.Errorf("API key must start with %q prefix in entry %d", auth.APIKeyPrefix, len(entries)+1)
		}

		if len(key) < auth.APIKeyMinLen {
			return nil, fmt.Errorf("API key too short in entry %d (minimum %d characters)", len(entries)+1, auth.APIKeyMinLen)
		}

		suffix := key[len(auth.APIKeyPrefix):]
		if _, err := hex.DecodeString(suffix); err != nil {
			return nil, fmt.Errorf("API key contains non-hex characters after %q prefix in entry %d", auth.APIKeyPrefix, len(entries)+1)
		}

		if _, dup := seenUsers[userID]; dup {
			return nil, fmt.Errorf("duplicate user_id %q in ADMIN_API_KEYS", userID)
		}

		seenUsers[userID] = struct{}{}
		entries = append(entries, APIKeyEntry{UserID: userID, Key: key})
	}

	return entries, nil
}

// ParseAdminUsers parses the ADMIN_USERS string into a UserCredentials
// map. Format: "user1:$2a$10$...,user2:$2a$10$..."
// Passwords must be bcrypt hashes; generate them with hash-password.
// Only the first ':' separates user from hash.
func (c *Config) ParseAdminUsers() (auth.UserCredentials, error) {
	users := make(auth.UserCredentials)
	if c.AdminUsers == "" {
		return users, nil
	}

	for _, pair := range strings.Split(c.AdminUsers, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid user entry (missing ':')")
		}

		username := pair[:idx]

		hash := pair[idx+1:]
		if username == "" || hash == "" {
			return nil, fmt.Errorf("empty username or password hash in entry %d", len(users)+1)
		}

		if !strings.HasPrefix(hash, "$2") {
			return nil, fmt.Errorf("password for %q is not a bcrypt hash; use hash-password", username)
		}

		if _, dup := users[username]; dup {
			return nil, fmt.Errorf("duplicate username %q in ADMIN_USERS", username)
		}

		users[username] = hash
	}

	return users, nil
}

// ResourceURL returns the public URL of the page behind a resource key.
// It inverts the gateway mapping: the key prefix is stripped and the
// remainder fills the {id} wildcard of PROTECTED_PATH_PATTERN. A method
// or host in the pattern is dropped.
func (c *Config) ResourceURL(key string) string {
	pattern := c.ProtectedPathPattern
	if _, rest, ok := strings.Cut(pattern, " "); ok {
		pattern = strings.TrimSpace(rest)
	}

	if i := strings.Index(pattern, "/"); i > 0 {
		pattern = pattern[i:]
	}

	id := strings.TrimPrefix(key, c.ResourceKeyPrefix)
	path := strings.Replace(pattern, "{id}", url.PathEscape(id), 1)

	return strings.TrimRight(c.SiteURL, "/") + path
}
