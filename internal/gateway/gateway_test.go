package gateway

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexjbarnes/imoneza-gate/imoneza"
	"github.com/alexjbarnes/imoneza-gate/internal/logging"
	"github.com/alexjbarnes/imoneza-gate/internal/metrics"
	"github.com/alexjbarnes/imoneza-gate/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	fixedNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	readySettings = models.Settings{
		AccessAPIKey:    "ak",
		AccessAPISecret: "as",
		AccessControl:   models.AccessControlServer,
	}
)

type upstream struct {
	calls    int
	rawQuery string
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.calls++
	u.rawQuery = r.URL.RawQuery
	_, _ = w.Write([]byte("article body"))
}

type harness struct {
	checker  *MockAccessChecker
	settings *MockSettingsSource
	metrics  *metrics.Metrics
	upstream *upstream
	handler  http.Handler
	built    []models.Settings
}

func newHarness(t *testing.T, trustProxy bool) *harness {
	t.Helper()

	ctrl := gomock.NewController(t)
	h := &harness{
		checker:  NewMockAccessChecker(ctrl),
		settings: NewMockSettingsSource(ctrl),
		metrics:  metrics.New(),
		upstream: &upstream{},
	}

	mw := Middleware(Config{
		Settings: h.settings,
		NewChecker: func(s models.Settings) AccessChecker {
			h.built = append(h.built, s)
			return h.checker
		},
		SiteURL:           "https://news.example.com/",
		ResourceKeyPrefix: "node-",
		CookieName:        "tok",
		CookieTTL:         time.Hour,
		TrustProxyHeaders: trustProxy,
		Logger:            logging.Discard(),
		Metrics:           h.metrics,
		Now:               func() time.Time { return fixedNow },
	})

	mux := http.NewServeMux()
	mux.Handle("/node/{id}", mw(h.upstream))
	mux.Handle("/", mw(h.upstream))
	h.handler = mux

	return h
}

func (h *harness) serve(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, r)

	return rec
}

func (h *harness) decisions(outcome string) float64 {
	return testutil.ToFloat64(h.metrics.AccessDecisions.WithLabelValues(outcome))
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}

	return nil
}

func TestMiddleware_Grant(t *testing.T) {
	h := newHarness(t, false)
	h.settings.EXPECT().Settings().Return(readySettings, nil)

	exp := fixedNow.Add(48 * time.Hour)
	h.checker.EXPECT().
		CheckAccess(gomock.Any(), imoneza.AccessRequest{
			ResourceKey: "node-42",
			ResourceURL: "https://news.example.com/node/42",
			VisitorIP:   "192.0.2.10",
			UserAgent:   "Mozilla/5.0",
			UserToken:   "old-token",
		}).
		Return(imoneza.Decision{Kind: imoneza.DecisionGrant, UserToken: "new-token", UserTokenExpiration: exp})

	r := httptest.NewRequest(http.MethodGet, "/node/42", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	r.Header.Set("User-Agent", "Mozilla/5.0")
	r.AddCookie(&http.Cookie{Name: "tok", Value: "old-token"})

	rec := h.serve(r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "article body", rec.Body.String())
	assert.Equal(t, 1, h.upstream.calls)

	c := findCookie(rec, "tok")
	require.NotNil(t, c)
	assert.Equal(t, "new-token", c.Value)
	assert.True(t, c.Expires.Equal(exp))
	assert.True(t, c.HttpOnly)

	assert.Equal(t, float64(1), h.decisions("grant"))
	assert.Equal(t, []models.Settings{readySettings}, h.built)
}

func TestMiddleware_DenyRedirects(t *testing.T) {
	h := newHarness(t, false)
	h.settings.EXPECT().Settings().Return(readySettings, nil)
	h.checker.EXPECT().CheckAccess(gomock.Any(), gomock.Any()).
		Return(imoneza.Decision{
			Kind:        imoneza.DecisionDeny,
			UserToken:   "anon-1",
			RedirectURL: "https://pay.example/access?ResourceKey=node-42&OriginalURL=x",
		})

	rec := h.serve(httptest.NewRequest(http.MethodGet, "/node/42", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://pay.example/access?ResourceKey=node-42&OriginalURL=x", rec.Header().Get("Location"))
	assert.Zero(t, h.upstream.calls)

	c := findCookie(rec, "tok")
	require.NotNil(t, c)
	assert.Equal(t, "anon-1", c.Value)
	assert.True(t, c.Expires.Equal(fixedNow.Add(time.Hour)), "missing expiration falls back to the TTL")

	assert.Equal(t, float64(1), h.decisions("deny"))
}

func TestMiddleware_ErrorFailsOpen(t *testing.T) {
	h := newHarness(t, false)
	h.settings.EXPECT().Settings().Return(readySettings, nil)
	h.checker.EXPECT().CheckAccess(gomock.Any(), gomock.Any()).
		Return(imoneza.Decision{
			Kind: imoneza.DecisionError,
			Err:  &imoneza.APIError{Kind: imoneza.KindTransfer, Err: errors.New("connection refused")},
		})

	rec := h.serve(httptest.NewRequest(http.MethodGet, "/node/42", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.upstream.calls)
	assert.Nil(t, findCookie(rec, "tok"))
	assert.Equal(t, float64(1), h.decisions("error"))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.APIErrors.WithLabelValues("transfer")))
}

func TestMiddleware_BypassSetsNoCookie(t *testing.T) {
	h := newHarness(t, false)
	h.settings.EXPECT().Settings().Return(readySettings, nil)
	h.checker.EXPECT().CheckAccess(gomock.Any(), gomock.Any()).
		Return(imoneza.Decision{Kind: imoneza.DecisionGrant, Bypassed: true})

	rec := h.serve(httptest.NewRequest(http.MethodGet, "/node/42", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, findCookie(rec, "tok"))
	assert.Equal(t, float64(1), h.decisions("bypass"))
	assert.Zero(t, h.decisions("grant"))
}

func TestMiddleware_TemporaryTokenStripped(t *testing.T) {
	h := newHarness(t, false)
	h.settings.EXPECT().Settings().Return(readySettings, nil)
	h.checker.EXPECT().
		CheckAccess(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, req imoneza.AccessRequest) imoneza.Decision {
			assert.Equal(t, "tut-1", req.TemporaryUserToken)
			assert.Equal(t, "https://news.example.com/node/42?page=2", req.ResourceURL)

			return imoneza.Decision{Kind: imoneza.DecisionGrant, UserToken: "u-1"}
		})

	rec := h.serve(httptest.NewRequest(http.MethodGet, "/node/42?page=2&iMonezaTUT=tut-1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "page=2", h.upstream.rawQuery, "upstream never sees the temporary token")
}

func TestMiddleware_TrustedForwardedFor(t *testing.T) {
	h := newHarness(t, true)
	h.settings.EXPECT().Settings().Return(readySettings, nil)
	h.checker.EXPECT().
		CheckAccess(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, req imoneza.AccessRequest) imoneza.Decision {
			assert.Equal(t, "203.0.113.7", req.VisitorIP)
			return imoneza.Decision{Kind: imoneza.DecisionGrant}
		})

	r := httptest.NewRequest(http.MethodGet, "/node/42", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	h.serve(r)
}

func TestMiddleware_UntrustedForwardedForIgnored(t *testing.T) {
	h := newHarness(t, false)
	h.settings.EXPECT().Settings().Return(readySettings, nil)
	h.checker.EXPECT().
		CheckAccess(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, req imoneza.AccessRequest) imoneza.Decision {
			assert.Equal(t, "192.0.2.1", req.VisitorIP)
			return imoneza.Decision{Kind: imoneza.DecisionGrant}
		})

	r := httptest.NewRequest(http.MethodGet, "/node/42", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	h.serve(r)
}

func TestMiddleware_PassThrough(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		settings *models.Settings
	}{
		{name: "unprotected path", method: http.MethodGet, path: "/about"},
		{name: "post", method: http.MethodPost, path: "/node/42"},
		{name: "client side mode", method: http.MethodGet, path: "/node/42", settings: &models.Settings{AccessAPIKey: "ak", AccessAPISecret: "as", AccessControl: models.AccessControlClient}},
		{name: "access control off", method: http.MethodGet, path: "/node/42", settings: &models.Settings{AccessAPIKey: "ak", AccessAPISecret: "as", AccessControl: models.AccessControlNone}},
		{name: "credentials missing", method: http.MethodGet, path: "/node/42", settings: &models.Settings{AccessControl: models.AccessControlServer}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, false)
			if tt.settings != nil {
				h.settings.EXPECT().Settings().Return(*tt.settings, nil)
			}

			rec := h.serve(httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, 1, h.upstream.calls)
			assert.Empty(t, h.built, "no checker is built")
		})
	}
}

func TestMiddleware_SettingsErrorServesPage(t *testing.T) {
	h := newHarness(t, false)
	h.settings.EXPECT().Settings().Return(models.Settings{}, errors.New("db closed"))

	rec := h.serve(httptest.NewRequest(http.MethodGet, "/node/42", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.upstream.calls)
}

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"/node/1", "/node/1"},
		{"/node/1?a=b", "/node/1?a=b"},
		{"/node/1?iMonezaTUT=x", "/node/1"},
		{"/node/1?iMonezaTUT=x&b=2&a=1", "/node/1?a=1&b=2"},
		{"/node/caf%C3%A9", "/node/caf%C3%A9"},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, tt.target, nil)
		assert.Equal(t, tt.want, canonicalPath(r.URL), tt.target)
	}
}

func TestVisitorIP_RawRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", visitorIP(r, false))
}
