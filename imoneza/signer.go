package imoneza

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// timestampLayout is the HTTP date format the remote service expects in
// the Timestamp header.
const timestampLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// Signer authenticates an outbound request with one API's credentials.
type Signer interface {
	Sign(req *http.Request, creds Credentials, now time.Time) error
}

// SignerFunc adapts a plain function to the Signer interface.
type SignerFunc func(req *http.Request, creds Credentials, now time.Time) error

// Sign calls f.
func (f SignerFunc) Sign(req *http.Request, creds Credentials, now time.Time) error {
	return f(req, creds, now)
}

// HMACSigner signs requests with HMAC-SHA256 over the method, timestamp,
// lowercased path and sorted query string. The signature travels in the
// Authorization header as "<key>:<base64 digest>".
type HMACSigner struct{}

// Sign sets the Timestamp and Authorization headers on req.
func (HMACSigner) Sign(req *http.Request, creds Credentials, now time.Time) error {
	timestamp := now.UTC().Format(timestampLayout)
	base := SignatureBase(req.Method, timestamp, req.URL.Path, req.URL.Query())

	req.Header.Set("Timestamp", timestamp)
	req.Header.Set("Authorization", creds.Key+":"+ComputeSignature(creds.Secret, base))

	return nil
}

// SignatureBase builds the newline-joined string that is signed.
func SignatureBase(method, timestamp, path string, query url.Values) string {
	return strings.Join([]string{
		strings.ToUpper(method),
		timestamp,
		strings.ToLower(path),
		canonicalQuery(query),
	}, "\n")
}

// ComputeSignature returns base64(HMAC-SHA256(secret, base)).
func ComputeSignature(secret, base string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// canonicalQuery renders query parameters as key=value pairs sorted by
// key and joined with '&'. Values are not escaped.
func canonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range query[k] {
			pairs = append(pairs, k+"="+v)
		}
	}

	return strings.Join(pairs, "&")
}
