// Package server provides HTTP server construction for imoneza-gate.
package server

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// GatewayConfig holds dependencies for the public-facing mux.
type GatewayConfig struct {
	Upstream *url.URL
	// ProtectedPattern is a ServeMux pattern with an {id} wildcard,
	// such as /node/{id}.
	ProtectedPattern string
	Access           Middleware
	Logger           *slog.Logger
}

// NewGatewayMux builds the mux that fronts the CMS. Requests matching
// the protected pattern go through the access middleware; everything
// else is proxied untouched.
func NewGatewayMux(cfg GatewayConfig) *http.ServeMux {
	proxy := NewProxy(cfg.Upstream, cfg.Logger)

	mux := http.NewServeMux()
	mux.Handle(cfg.ProtectedPattern, cfg.Access(proxy))
	mux.Handle("/", proxy)

	return mux
}

// NewProxy returns a reverse proxy to upstream. The visitor's address
// is forwarded in X-Forwarded-For; transport failures become a 502.
func NewProxy(upstream *url.URL, logger *slog.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("upstream request failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

// AdminConfig holds dependencies for the operator mux.
type AdminConfig struct {
	Admin   http.Handler
	Auth    Middleware
	Metrics http.Handler
	// MCPHandler is nil when the MCP endpoint is disabled.
	MCPHandler http.Handler
}

// NewAdminMux builds the operator mux. The admin API and the MCP
// endpoint require authentication; health and metrics do not.
func NewAdminMux(cfg AdminConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	mux.Handle("/admin/", cfg.Auth(cfg.Admin))

	if cfg.MCPHandler != nil {
		mux.Handle("/mcp", cfg.Auth(cfg.MCPHandler))
	}

	return mux
}
