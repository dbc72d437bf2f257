package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialMissing means the request carried neither an API key nor
	// a bearer token.
	ErrCredentialMissing = errors.New("authentication required")

	// ErrInvalidAPIKey means the presented API key is not in the table.
	ErrInvalidAPIKey = errors.New("invalid api key")

	// ErrPermissionDenied means the principal lacks the required permission
	// or role.
	ErrPermissionDenied = errors.New("permission denied")
)

// Denial reasons. They are recorded verbatim in audit details.
const (
	ReasonNoCredentials    = "no_credentials"
	ReasonInvalidAPIKey    = "invalid_api_key"
	ReasonTokenExpired     = "token_expired"
	ReasonTokenMalformed   = "token_malformed"
	ReasonInvalidSignature = "invalid_signature"
	ReasonTokenNotYetValid = "token_not_yet_valid"
	ReasonInvalidTokenType = "invalid_token_type"
	ReasonPermissionDenied = "permission_denied"
)

// Denial is a structured refusal. Match the cause with errors.Is and the
// denial itself with errors.As.
type Denial struct {
	Reason string
	Err    error
}

func (d *Denial) Error() string {
	if d.Err == nil {
		return "access denied: " + d.Reason
	}
	return fmt.Sprintf("access denied: %s: %v", d.Reason, d.Err)
}

func (d *Denial) Unwrap() error { return d.Err }

// Unauthenticated reports whether the denial happened before a principal
// was established (HTTP 401 rather than 403).
func (d *Denial) Unauthenticated() bool {
	return d.Reason != ReasonPermissionDenied
}

func deny(reason string, err error) *Denial {
	return &Denial{Reason: reason, Err: err}
}
