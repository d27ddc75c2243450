package imoneza

import (
	"errors"
	"fmt"

	apperrors "github.com/alexjbarnes/imoneza-gate/internal/errors"
)

// ErrorKind classifies a failed API call.
type ErrorKind int

const (
	KindTransfer ErrorKind = iota
	KindDecoding
	KindAuthentication
	KindNotFound
	KindConfiguration
	KindNotReady
)

// String returns the kind name used in logs and metric labels.
func (k ErrorKind) String() string {
	switch k {
	case KindTransfer:
		return "transfer"
	case KindDecoding:
		return "decoding"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindConfiguration:
		return "configuration"
	case KindNotReady:
		return "not_ready"
	}

	return "unknown"
}

// sentinel maps the kind to its package-level sentinel error.
func (k ErrorKind) sentinel() error {
	switch k {
	case KindDecoding:
		return apperrors.ErrDecoding
	case KindAuthentication:
		return apperrors.ErrAuthenticationFailure
	case KindNotFound:
		return apperrors.ErrNotFound
	case KindConfiguration:
		return apperrors.ErrConfiguration
	case KindNotReady:
		return apperrors.ErrNotReady
	}

	return apperrors.ErrTransfer
}

// APIError is returned by every client call that fails. It unwraps to
// the matching sentinel in internal/errors and, when present, to the
// underlying cause.
type APIError struct {
	Kind     ErrorKind
	Endpoint string
	Status   int
	Message  string
	Err      error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	if msg == "" {
		msg = e.Kind.sentinel().Error()
	}

	if e.Status != 0 {
		return fmt.Sprintf("API %s (%d): %s", e.Endpoint, e.Status, msg)
	}

	if e.Endpoint != "" {
		return fmt.Sprintf("API %s: %s", e.Endpoint, msg)
	}

	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *APIError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind.sentinel(), e.Err}
	}

	return []error{e.Kind.sentinel()}
}

// KindOf returns the kind of err, or KindTransfer when err is not an
// APIError.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}

	return KindTransfer
}

// IsNotFound reports whether err is a 404 from the remote service.
func IsNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}
