package errors

import "errors"

// Configuration errors.
var (
	ErrConfiguration = errors.New("plugin configuration is invalid")
	ErrNotReady      = errors.New("API credentials are not configured")
)

// Remote API errors.
var (
	ErrAuthenticationFailure = errors.New("API key and secret do not match")
	ErrNotFound              = errors.New("not found")
)

// Server/transport errors.
var (
	ErrTransfer = errors.New("API request failed")
	ErrDecoding = errors.New("unexpected API response")
)
