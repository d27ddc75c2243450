package imoneza

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const (
	// DefaultAccessAPIURL is the production Access API base URL.
	DefaultAccessAPIURL = "https://accessapi.imoneza.com"

	// DefaultManagementAPIURL is the production Management API base URL.
	DefaultManagementAPIURL = "https://manageapi.imoneza.com"

	// DefaultTimeout bounds a single API round trip. Page rendering
	// blocks on the access check, so a hung upstream must not hang it.
	DefaultTimeout = 5 * time.Second

	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// maxAPIResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory.
	maxAPIResponseBytes = 1024 * 1024
)

// Credentials is one API's key/secret pair.
type Credentials struct {
	Key    string
	Secret string
}

// Ready reports whether both halves of the pair are set.
func (c Credentials) Ready() bool {
	return c.Key != "" && c.Secret != ""
}

// Endpoint binds a base URL to the credentials that sign requests for it.
type Endpoint struct {
	BaseURL     string
	Credentials Credentials
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so signed headers never leak to a
// third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewHTTPClient returns an http.Client with the given timeout (or
// DefaultTimeout when zero) and the same-host redirect policy.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: sameHostRedirectPolicy,
	}
}

// transport sends signed JSON requests to a single endpoint.
type transport struct {
	httpClient *http.Client
	endpoint   Endpoint
	signer     Signer
	now        func() time.Time
}

func newTransport(httpClient *http.Client, endpoint Endpoint, signer Signer) *transport {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}

	if signer == nil {
		signer = HMACSigner{}
	}

	return &transport{
		httpClient: httpClient,
		endpoint:   endpoint,
		signer:     signer,
		now:        time.Now,
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// remoteMessage pulls the human-readable message out of an error body.
// The service is not consistent about the field name.
func remoteMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}

	for _, field := range []string{"Message", "message", "Error", "error"} {
		if v := gjson.GetBytes(body, field); v.Type == gjson.String && v.Str != "" {
			return sanitizeResponseBody([]byte(v.Str))
		}
	}

	return ""
}

// do sends one signed request and decodes a JSON response into result.
// The path is relative to the endpoint base URL. body and result may be
// nil.
func (t *transport) do(ctx context.Context, method, path string, query url.Values, body, result interface{}) error {
	endpoint := method + " " + path

	var payload io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &APIError{Kind: KindTransfer, Endpoint: endpoint, Err: fmt.Errorf("marshalling request body: %w", err)}
		}

		payload = bytes.NewReader(data)
	}

	target := strings.TrimRight(t.endpoint.BaseURL, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return &APIError{Kind: KindTransfer, Endpoint: endpoint, Err: fmt.Errorf("creating request: %w", err)}
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := t.signer.Sign(req, t.endpoint.Credentials, t.now()); err != nil {
		return &APIError{Kind: KindTransfer, Endpoint: endpoint, Err: fmt.Errorf("signing request: %w", err)}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return &APIError{Kind: KindTransfer, Endpoint: endpoint, Err: fmt.Errorf("sending request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return &APIError{Kind: KindTransfer, Endpoint: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(endpoint, resp.StatusCode, respBody)
	}

	if result == nil {
		return nil
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return &APIError{Kind: KindDecoding, Endpoint: endpoint, Status: resp.StatusCode, Message: "empty response body"}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return &APIError{Kind: KindDecoding, Endpoint: endpoint, Err: fmt.Errorf("decoding response: %w", err)}
	}

	return nil
}

// statusError maps a non-2xx status to its error kind.
func statusError(endpoint string, status int, body []byte) *APIError {
	kind := KindTransfer

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindAuthentication
	case http.StatusNotFound:
		kind = KindNotFound
	}

	msg := remoteMessage(body)
	if msg == "" && len(body) > 0 {
		msg = sanitizeResponseBody(body)
	}

	return &APIError{Kind: kind, Endpoint: endpoint, Status: status, Message: msg}
}
