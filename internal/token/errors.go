package token

import "errors"

// Verification and issuance errors. Verify always returns one of the first
// four (possibly wrapped), so callers can map them to a denial reason with
// errors.Is.
var (
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenMalformed   = errors.New("token malformed")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrTokenNotValidYet = errors.New("token not valid yet")

	// ErrRefreshTokenInvalid is returned by Refresh for any unusable refresh
	// token. The underlying cause is wrapped alongside it.
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")

	// ErrWrongTokenType means a token of the other kind was presented.
	ErrWrongTokenType = errors.New("wrong token type")

	ErrInvalidTTL     = errors.New("ttl must be positive")
	ErrInvalidKind    = errors.New("token kind must be access or refresh")
	ErrEmptySubject   = errors.New("subject is required")
	ErrReservedClaim  = errors.New("extra claim overrides a reserved claim")
	ErrWeakSecret     = errors.New("signing secret too short")
	ErrUnsupportedAlg = errors.New("unsupported signing algorithm")
)
