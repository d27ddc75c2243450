// Package auth authenticates operators on the admin listener. It accepts
// HTTP Basic credentials checked against bcrypt hashes and Bearer API
// keys. All state is in-memory and built from configuration at startup.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix distinguishes admin API keys from other bearer values.
	APIKeyPrefix = "ig_"

	// APIKeyMinLen is the prefix plus 16 random bytes hex-encoded.
	APIKeyMinLen = len(APIKeyPrefix) + 32

	// rateLimitPruneThreshold is the number of tracked IPs above which
	// the rate limiter prunes expired entries to prevent unbounded growth.
	rateLimitPruneThreshold = 1000

	rateLimitWindow  = 5 * time.Minute
	rateLimitMaxFail = 10
)

// UserCredentials maps usernames to bcrypt password hashes.
type UserCredentials map[string]string

// APIKey is a configured key bound to a user identity.
type APIKey struct {
	UserID string
	Key    string
}

// Authenticator validates admin credentials.
type Authenticator struct {
	users   UserCredentials
	keys    map[[sha256.Size]byte]string // sha256(key) -> user
	limiter *loginRateLimiter

	// dummyHash is compared against when the user does not exist so
	// unknown and known users take the same time to reject.
	dummyHash []byte
}

// NewAuthenticator builds an Authenticator from parsed configuration.
func NewAuthenticator(users UserCredentials, keys []APIKey) *Authenticator {
	a := &Authenticator{
		users:   users,
		keys:    make(map[[sha256.Size]byte]string, len(keys)),
		limiter: newLoginRateLimiter(),
	}

	for _, k := range keys {
		a.keys[sha256.Sum256([]byte(k.Key))] = k.UserID
	}

	a.dummyHash, _ = bcrypt.GenerateFromPassword([]byte(RandomHex(16)), bcrypt.MinCost)

	return a
}

// CheckPassword reports whether password matches the stored hash for
// username.
func (a *Authenticator) CheckPassword(username, password string) bool {
	hash, ok := a.users[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidateAPIKey returns the user bound to key, or "" when the key is
// unknown.
func (a *Authenticator) ValidateAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))

	for stored, user := range a.keys {
		if subtle.ConstantTimeCompare(stored[:], sum[:]) == 1 {
			return user
		}
	}

	return ""
}

// loginRateLimiter tracks failed login attempts per IP with a sliding
// window. After rateLimitMaxFail failures within the window, further
// attempts are rejected until the window expires.
type loginRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

func newLoginRateLimiter() *loginRateLimiter {
	return &loginRateLimiter{
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// check returns true if the IP is currently rate-limited.
func (rl *loginRateLimiter) check(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rateLimitWindow)

	if len(rl.failures) > rateLimitPruneThreshold {
		for k, times := range rl.failures {
			if len(times) == 0 || times[len(times)-1].Before(cutoff) {
				delete(rl.failures, k)
			}
		}
	}

	recent := rl.failures[ip][:0]
	for _, t := range rl.failures[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) == 0 {
		delete(rl.failures, ip)
	} else {
		rl.failures[ip] = recent
	}

	return len(recent) >= rateLimitMaxFail
}

// record adds a failed attempt for the IP.
func (rl *loginRateLimiter) record(ip string) {
	rl.mu.Lock()
	rl.failures[ip] = append(rl.failures[ip], rl.now())
	rl.mu.Unlock()
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}

// NewAPIKey returns a fresh admin API key.
func NewAPIKey() string {
	return APIKeyPrefix + RandomHex(32)
}
