package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

type contextKey int

const (
	ctxUserID contextKey = iota
	ctxRemoteIP
)

const wwwAuthenticate = `Basic realm="imoneza-gate", charset="UTF-8"`

// RequestUserID returns the authenticated user ID from the context, or "".
func RequestUserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// WithUser returns a context carrying the given identity. Used by tests
// and by in-process callers that have already authenticated.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserID, userID)
}

// remoteIP extracts the IP address from r.RemoteAddr, stripping the
// port. Falls back to the raw value if parsing fails.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// Middleware returns HTTP middleware that accepts Basic credentials or a
// Bearer API key. Anything else gets a 401. Repeated Basic failures from
// one IP are answered with 429 until the window passes.
func Middleware(a *Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			userID, ok := a.authenticate(w, r, ip, logger)
			if !ok {
				return
			}

			logger.Debug("middleware: authenticated",
				slog.String("user_id", userID),
				slog.String("ip", ip),
			)

			ctx := context.WithValue(r.Context(), ctxUserID, userID)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate writes the rejection itself and returns ok=false when the
// request must stop.
func (a *Authenticator) authenticate(w http.ResponseWriter, r *http.Request, ip string, logger *slog.Logger) (string, bool) {
	authHeader := r.Header.Get("Authorization")

	if token, found := strings.CutPrefix(authHeader, "Bearer "); found {
		if user := a.ValidateAPIKey(token); user != "" {
			return user, true
		}

		logger.Debug("middleware: invalid API key",
			slog.String("ip", ip),
			slog.String("path", r.URL.Path),
		)
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		w.WriteHeader(http.StatusUnauthorized)

		return "", false
	}

	username, password, hasBasic := r.BasicAuth()
	if !hasBasic {
		logger.Debug("middleware: no credentials",
			slog.String("ip", ip),
			slog.String("path", r.URL.Path),
		)
		w.Header().Set("WWW-Authenticate", wwwAuthenticate)
		w.WriteHeader(http.StatusUnauthorized)

		return "", false
	}

	if a.limiter.check(ip) {
		logger.Warn("middleware: login rate limited", slog.String("ip", ip))
		http.Error(w, "too many failed login attempts", http.StatusTooManyRequests)

		return "", false
	}

	if !a.CheckPassword(username, password) {
		a.limiter.record(ip)
		logger.Info("middleware: failed login",
			slog.String("username", username),
			slog.String("ip", ip),
		)
		w.Header().Set("WWW-Authenticate", wwwAuthenticate)
		w.WriteHeader(http.StatusUnauthorized)

		return "", false
	}

	return username, true
}
