package catalog

import (
	"errors"
	"fmt"

	apperrors "github.com/alexjbarnes/imoneza-gate/internal/errors"
)

// API names which remote API an error came from. The same failure kind
// needs different advice for each.
type API int

const (
	AccessAPI API = iota
	ManagementAPI
)

func (a API) String() string {
	if a == AccessAPI {
		return "Resource Access"
	}

	return "Resource Management"
}

const (
	msgManagementKeyWrong = "Oh no!  Looks like your Management API Key isn't working. Look closely - does it look right?"
	msgManagementMismatch = "Looks like the API key and secret don't match properly.  Go back and make sure you're using the exact API Management KEY and SECRET.  Thanks!"
	msgAccessKeyWrong     = "It seems like your resource access API key is wrong. Check and see if there are any obvious problems - otherwise, delete it and try again please."
	msgAccessSecretWrong  = "Your resource access API secret looks wrong.  Can you give it another shot?"
	msgNotReady           = "Enter your %s API key and secret in the settings first."
	msgSystem             = "Something went wrong with the system: %s"
)

// OperatorMessage turns err into the remediation text shown to site
// operators. A wrong key and a wrong secret get different advice. It
// returns "" for a nil error.
func OperatorMessage(err error, api API) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, apperrors.ErrNotReady):
		return fmt.Sprintf(msgNotReady, api)
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrConfiguration):
		if api == AccessAPI {
			return msgAccessKeyWrong
		}

		return msgManagementKeyWrong
	case errors.Is(err, apperrors.ErrAuthenticationFailure):
		if api == AccessAPI {
			return msgAccessSecretWrong
		}

		return msgManagementMismatch
	}

	return fmt.Sprintf(msgSystem, err.Error())
}
