package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Info is the unverified content of a token, for diagnostics only. Nothing
// in Info may be used for an access decision.
type Info struct {
	UserID    string    `json:"user_id"`
	Roles     []string  `json:"roles,omitempty"`
	Type      string    `json:"type"`
	Algorithm string    `json:"alg"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Expired   bool      `json:"expired"`
}

// Inspect decodes tokenString without checking its signature.
func (s *Service) Inspect(tokenString string) (*Info, error) {
	mc := jwt.MapClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(tokenString, mc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	info := &Info{
		UserID:    stringClaim(mc, ClaimUserID),
		Roles:     stringSlice(mc[ClaimRoles]),
		Type:      stringClaim(mc, ClaimType),
		Algorithm: parsed.Method.Alg(),
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		info.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
		info.Expired = !s.now().Before(exp.Time)
	}
	return info, nil
}
