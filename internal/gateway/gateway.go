// Package gateway enforces paywall decisions in front of the CMS. It
// wraps the reverse proxy and asks the Access API about every page view
// of protected content.
package gateway

//go:generate mockgen -source=gateway.go -destination=mock_checker_test.go -package=gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alexjbarnes/imoneza-gate/imoneza"
	"github.com/alexjbarnes/imoneza-gate/internal/metrics"
	"github.com/alexjbarnes/imoneza-gate/internal/models"
)

// AccessChecker decides whether a visitor may view a resource.
// *imoneza.AccessClient implements it.
type AccessChecker interface {
	CheckAccess(ctx context.Context, req imoneza.AccessRequest) imoneza.Decision
}

// SettingsSource returns the current plugin settings.
type SettingsSource interface {
	Settings() (models.Settings, error)
}

// Config holds the middleware dependencies.
type Config struct {
	Settings SettingsSource
	// NewChecker builds a checker for the settings of one request, so
	// admin edits apply without a restart.
	NewChecker func(models.Settings) AccessChecker

	SiteURL           string
	ResourceKeyPrefix string
	CookieName        string
	CookieTTL         time.Duration
	TrustProxyHeaders bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

const outcomeBypass = "bypass"

// Middleware returns middleware for routes registered with an {id}
// wildcard. Requests without one, and non-GET requests, pass through.
// A failed check is logged and the page is served anyway.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = imoneza.DefaultCookieName
	}

	if cfg.CookieTTL <= 0 {
		cfg.CookieTTL = imoneza.DefaultCookieTTL
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	siteURL := strings.TrimRight(cfg.SiteURL, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.PathValue("id")
			if id == "" || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
				next.ServeHTTP(w, r)
				return
			}

			settings, err := cfg.Settings.Settings()
			if err != nil {
				cfg.Logger.Error("reading settings", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)

				return
			}

			if !settings.ServerSideAccess() || !settings.AccessReady() {
				next.ServeHTTP(w, r)
				return
			}

			req := imoneza.AccessRequest{
				ResourceKey:        cfg.ResourceKeyPrefix + id,
				ResourceURL:        siteURL + canonicalPath(r.URL),
				VisitorIP:          visitorIP(r, cfg.TrustProxyHeaders),
				UserAgent:          r.UserAgent(),
				TemporaryUserToken: r.URL.Query().Get(imoneza.TemporaryTokenParam),
			}

			if c, err := r.Cookie(cfg.CookieName); err == nil {
				req.UserToken = c.Value
			}

			start := cfg.Now()
			d := cfg.NewChecker(settings).CheckAccess(r.Context(), req)

			if !d.Bypassed {
				cfg.Metrics.ObserveAccessLatency(cfg.Now().Sub(start))
			}

			outcome := d.Kind.String()
			if d.Bypassed {
				outcome = outcomeBypass
			}

			cfg.Metrics.IncrementDecision(outcome)

			if c := d.TokenCookie(cfg.CookieName, cfg.Now(), cfg.CookieTTL); c != nil {
				http.SetCookie(w, c)
			}

			switch d.Kind {
			case imoneza.DecisionDeny:
				cfg.Logger.Debug("access denied",
					slog.String("resource", req.ResourceKey),
					slog.String("ip", req.VisitorIP),
				)
				http.Redirect(w, r, d.RedirectURL, http.StatusFound)

				return
			case imoneza.DecisionError:
				cfg.Metrics.IncrementAPIError(imoneza.KindOf(d.Err).String())
				cfg.Logger.Warn("access check failed, serving page",
					slog.String("resource", req.ResourceKey),
					slog.String("error", d.Err.Error()),
				)
			}

			if req.TemporaryUserToken != "" {
				r = withoutTemporaryToken(r)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// canonicalPath is the request path and query with the temporary token
// removed, so a page has one resource URL however the visitor arrived.
func canonicalPath(u *url.URL) string {
	q := u.Query()
	if !q.Has(imoneza.TemporaryTokenParam) {
		if u.RawQuery == "" {
			return u.EscapedPath()
		}

		return u.EscapedPath() + "?" + u.RawQuery
	}

	q.Del(imoneza.TemporaryTokenParam)

	if len(q) == 0 {
		return u.EscapedPath()
	}

	return u.EscapedPath() + "?" + q.Encode()
}

// withoutTemporaryToken returns a copy of r whose query no longer
// carries the one-time token. The CMS never sees it.
func withoutTemporaryToken(r *http.Request) *http.Request {
	r2 := r.Clone(r.Context())
	q := r2.URL.Query()
	q.Del(imoneza.TemporaryTokenParam)
	r2.URL.RawQuery = q.Encode()

	return r2
}

// visitorIP returns the first X-Forwarded-For hop when proxy headers are
// trusted, else the connection address.
func visitorIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
