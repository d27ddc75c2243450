package imoneza

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultCookieName is the cookie that carries the user token.
	DefaultCookieName = "imoneza-user-token"

	// DefaultCookieTTL applies when the service gives no expiration.
	DefaultCookieTTL = 14 * 24 * time.Hour

	// TemporaryTokenParam is the query parameter the service appends when
	// it sends a visitor back after authenticating.
	TemporaryTokenParam = "iMonezaTUT"

	// originalURLParam carries the resource URL on paywall redirects.
	originalURLParam = "OriginalURL"

	// validationKey is the resource key and URL used to probe the access
	// credentials without touching a real resource.
	validationKey = "api-validation"

	configurationErrorMessage = "Resource Access API key appears invalid — check plugin settings"
)

// DecisionKind tags the outcome of an access check.
type DecisionKind int

const (
	DecisionGrant DecisionKind = iota
	DecisionDeny
	DecisionError
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionGrant:
		return "grant"
	case DecisionDeny:
		return "deny"
	case DecisionError:
		return "error"
	}

	return "unknown"
}

// AccessRequest describes one page view of one resource.
type AccessRequest struct {
	ResourceKey        string
	ResourceURL        string
	VisitorIP          string
	UserAgent          string
	UserToken          string
	TemporaryUserToken string
}

// Decision is the tagged result of CheckAccess. Err is set only for
// DecisionError and RedirectURL only for DecisionDeny. Bypassed marks a
// grant that never reached the network.
type Decision struct {
	Kind                DecisionKind
	RedirectURL         string
	UserToken           string
	UserTokenExpiration time.Time
	Bypassed            bool
	Err                 error
}

// Granted reports whether the visitor may view the resource. Errors
// report false; treating them as a grant is the caller's policy.
func (d Decision) Granted() bool {
	return d.Kind == DecisionGrant
}

// refreshesToken reports whether the decision came from a decoded
// service reply, in which case the token cookie must be rewritten.
func (d Decision) refreshesToken() bool {
	return !d.Bypassed && (d.Kind == DecisionGrant || d.Kind == DecisionDeny)
}

// TokenCookie returns the cookie that persists the user token, or nil
// when the cookie must be left untouched. The service's expiration wins;
// otherwise the cookie lives for fallback from now.
func (d Decision) TokenCookie(name string, now time.Time, fallback time.Duration) *http.Cookie {
	if !d.refreshesToken() {
		return nil
	}

	if name == "" {
		name = DefaultCookieName
	}

	if fallback <= 0 {
		fallback = DefaultCookieTTL
	}

	expires := d.UserTokenExpiration
	if expires.IsZero() {
		expires = now.Add(fallback)
	}

	return &http.Cookie{
		Name:     name,
		Value:    d.UserToken,
		Path:     "/",
		Expires:  expires.UTC(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// AccessClient asks the Access API whether a visitor may view a resource.
// It is cheap to construct; build one per request from the current
// settings.
type AccessClient struct {
	t        *transport
	excluded UserAgentList
}

// AccessOptions configures an AccessClient.
type AccessOptions struct {
	HTTPClient         *http.Client
	Signer             Signer
	ExcludedUserAgents UserAgentList
}

// NewAccessClient creates a client bound to the Access API endpoint.
func NewAccessClient(endpoint Endpoint, opts AccessOptions) *AccessClient {
	if endpoint.BaseURL == "" {
		endpoint.BaseURL = DefaultAccessAPIURL
	}

	return &AccessClient{
		t:        newTransport(opts.HTTPClient, endpoint, opts.Signer),
		excluded: opts.ExcludedUserAgents,
	}
}

// CheckAccess decides whether the visitor described by req may view the
// resource. It never panics and never returns a Go error; failures come
// back as DecisionError so the caller can apply its own policy.
func (c *AccessClient) CheckAccess(ctx context.Context, req AccessRequest) Decision {
	if c.excluded.Contains(req.UserAgent) {
		return Decision{Kind: DecisionGrant, Bypassed: true}
	}

	if !c.t.endpoint.Credentials.Ready() {
		return Decision{Kind: DecisionError, Err: &APIError{Kind: KindNotReady, Message: "resource access API key and secret are not set"}}
	}

	data, err := c.fetch(ctx, req)
	if err != nil {
		return Decision{Kind: DecisionError, Err: err}
	}

	d := Decision{
		Kind:                DecisionGrant,
		UserToken:           data.UserToken,
		UserTokenExpiration: data.UserTokenExpiration.Time,
	}

	if data.AccessActionURL != "" {
		d.Kind = DecisionDeny
		d.RedirectURL = RedirectURL(data.AccessActionURL, req.ResourceURL)
	}

	return d
}

// fetch picks the request shape. A temporary token always wins over the
// cookie token: the visitor has just come back from the paywall.
func (c *AccessClient) fetch(ctx context.Context, req AccessRequest) (*ResourceAccess, error) {
	accessKey := url.PathEscape(c.t.endpoint.Credentials.Key)

	var (
		path  string
		query = url.Values{}
	)

	if req.TemporaryUserToken != "" {
		path = "/api/TemporaryUserToken/" + accessKey + "/" + url.PathEscape(req.TemporaryUserToken)
		query.Set("ResourceKey", req.ResourceKey)
		query.Set("ResourceURL", req.ResourceURL)
	} else {
		path = "/api/Resource/" + accessKey + "/" + url.PathEscape(req.ResourceKey)
		query.Set("ResourceURL", req.ResourceURL)
		query.Set("UserToken", req.UserToken)
		query.Set("IP", req.VisitorIP)
	}

	var data ResourceAccess
	if err := c.t.do(ctx, http.MethodGet, path, query, nil, &data); err != nil {
		if IsNotFound(err) {
			return nil, &APIError{
				Kind:     KindConfiguration,
				Endpoint: http.MethodGet + " " + path,
				Status:   http.StatusNotFound,
				Message:  configurationErrorMessage,
			}
		}

		return nil, err
	}

	return &data, nil
}

// ValidateCredentials probes the Access API with a throwaway lookup. A
// nil error means the key and secret were accepted. Unlike CheckAccess,
// a 404 is reported as not-found so the caller can tell a wrong key
// from a wrong secret.
func (c *AccessClient) ValidateCredentials(ctx context.Context, visitorIP string) error {
	if !c.t.endpoint.Credentials.Ready() {
		return &APIError{Kind: KindNotReady, Message: "resource access API key and secret are not set"}
	}

	path := "/api/Resource/" + url.PathEscape(c.t.endpoint.Credentials.Key) + "/" + validationKey
	query := url.Values{}
	query.Set("ResourceURL", validationKey)
	query.Set("UserToken", "")
	query.Set("IP", visitorIP)

	var data ResourceAccess

	return c.t.do(ctx, http.MethodGet, path, query, nil, &data)
}

// RedirectURL appends the original resource URL to the paywall action
// URL. The service hands back a URL that already carries a query string,
// so the parameter is joined with '&'.
func RedirectURL(actionURL, resourceURL string) string {
	return actionURL + "&" + originalURLParam + "=" + RawURLEncode(resourceURL)
}

// RawURLEncode percent-encodes s per RFC 3986: everything except
// unreserved characters is escaped and spaces become %20.
func RawURLEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
