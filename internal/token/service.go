// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package token issues and verifies HMAC-signed JWTs carrying a subject and
// its roles. Tokens are stateless: there is no revocation list, so access
// token lifetimes should stay short.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opentrusty/trustcore/internal/rbac"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claim names written into every token.
const (
	ClaimUserID    = "user_id"
	ClaimRoles     = "roles"
	ClaimType      = "type"
	ClaimExpiresAt = "exp"
	ClaimIssuedAt  = "iat"
	ClaimNotBefore = "nbf"
)

var reservedClaims = map[string]struct{}{
	ClaimUserID: {}, ClaimRoles: {}, ClaimType: {},
	ClaimExpiresAt: {}, ClaimIssuedAt: {}, ClaimNotBefore: {},
}

// MinSecretLength is the minimum accepted HMAC secret size in bytes.
const MinSecretLength = 32

// Defaults applied when Config leaves a TTL at zero.
const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// RoleSource resolves the current roles of a subject when a refresh token is
// exchanged. Refresh tokens do not carry roles.
type RoleSource interface {
	RolesFor(ctx context.Context, userID string) ([]rbac.Role, error)
}

// RoleSourceFunc adapts a function to RoleSource.
type RoleSourceFunc func(ctx context.Context, userID string) ([]rbac.Role, error)

func (f RoleSourceFunc) RolesFor(ctx context.Context, userID string) ([]rbac.Role, error) {
	return f(ctx, userID)
}

// Config holds signing configuration.
type Config struct {
	Secret     []byte
	Algorithm  string // HS256, HS384 or HS512
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Claims is the verified content of a token.
type Claims struct {
	UserID    string
	Roles     []rbac.Role
	Type      Kind
	IssuedAt  time.Time
	NotBefore time.Time
	ExpiresAt time.Time
	// Extra holds every non-reserved claim.
	Extra map[string]any
}

// Service handles token generation and verification.
type Service struct {
	secret     []byte
	method     *jwt.SigningMethodHMAC
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	roles      RoleSource
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRoleSource sets how roles are re-derived on refresh.
func WithRoleSource(rs RoleSource) Option {
	return func(s *Service) { s.roles = rs }
}

// NewService creates a token service.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakSecret, MinSecretLength)
	}

	var method *jwt.SigningMethodHMAC
	switch cfg.Algorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlg, cfg.Algorithm)
	}

	s := &Service{
		secret:     append([]byte(nil), cfg.Secret...),
		method:     method,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshTTL
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// Generate signs a token for subject. Refresh tokens never carry roles.
// Extra claims are copied verbatim but may not replace a reserved claim.
func (s *Service) Generate(subject string, roles []rbac.Role, kind Kind, ttl time.Duration, extra map[string]any) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}
	if kind != KindAccess && kind != KindRefresh {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	now := s.now()
	claims := jwt.MapClaims{}
	for k, v := range extra {
		if _, reserved := reservedClaims[k]; reserved {
			return "", fmt.Errorf("%w: %s", ErrReservedClaim, k)
		}
		claims[k] = v
	}

	claims[ClaimUserID] = subject
	claims[ClaimType] = string(kind)
	claims[ClaimIssuedAt] = now.Unix()
	claims[ClaimNotBefore] = now.Unix()
	claims[ClaimExpiresAt] = now.Add(ttl).Unix()
	if kind == KindAccess {
		claims[ClaimRoles] = rbac.RoleNames(roles)
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// GenerateAccess issues an access token with the configured lifetime.
func (s *Service) GenerateAccess(subject string, roles []rbac.Role, extra map[string]any) (string, error) {
	return s.Generate(subject, roles, KindAccess, s.accessTTL, extra)
}

// GenerateRefresh issues a refresh token with the configured lifetime.
func (s *Service) GenerateRefresh(subject string) (string, error) {
	return s.Generate(subject, nil, KindRefresh, s.refreshTTL, nil)
}

// Verify checks the signature and time window of tokenString. A token is
// valid while nbf <= now < exp.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)

	parsed, err := parser.Parse(tokenString, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenMalformed
	}
	return claimsFromMap(mc)
}

// Refresh exchanges a refresh token for a new access token. Roles come from
// the configured RoleSource; without one the new token carries no roles.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.Verify(refreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshTokenInvalid, err)
	}
	if claims.Type != KindRefresh {
		return "", fmt.Errorf("%w: %w", ErrRefreshTokenInvalid, ErrWrongTokenType)
	}

	var roles []rbac.Role
	if s.roles != nil {
		roles, err = s.roles.RolesFor(ctx, claims.UserID)
		if err != nil {
			return "", fmt.Errorf("%w: resolve roles: %w", ErrRefreshTokenInvalid, err)
		}
	}
	return s.GenerateAccess(claims.UserID, roles, nil)
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrTokenNotValidYet
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}

func claimsFromMap(mc jwt.MapClaims) (*Claims, error) {
	userID, _ := mc[ClaimUserID].(string)
	if userID == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrTokenMalformed, ClaimUserID)
	}
	kind := Kind(stringClaim(mc, ClaimType))
	if kind != KindAccess && kind != KindRefresh {
		return nil, fmt.Errorf("%w: bad %s", ErrTokenMalformed, ClaimType)
	}

	c := &Claims{
		UserID: userID,
		Type:   kind,
		Roles:  rbac.ParseRoles(stringSlice(mc[ClaimRoles])),
		Extra:  make(map[string]any),
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if nbf, err := mc.GetNotBefore(); err == nil && nbf != nil {
		c.NotBefore = nbf.Time
	}
	for k, v := range mc {
		if _, reserved := reservedClaims[k]; !reserved {
			c.Extra[k] = v
		}
	}
	return c, nil
}

// Raw returns the claims as a flat map, as they appear in the token.
func (c *Claims) Raw() map[string]any {
	out := make(map[string]any, len(c.Extra)+6)
	for k, v := range c.Extra {
		out[k] = v
	}
	out[ClaimUserID] = c.UserID
	out[ClaimType] = string(c.Type)
	out[ClaimExpiresAt] = c.ExpiresAt.Unix()
	out[ClaimIssuedAt] = c.IssuedAt.Unix()
	if c.Type == KindAccess {
		out[ClaimRoles] = rbac.RoleNames(c.Roles)
	}
	return out
}

func stringClaim(mc jwt.MapClaims, key string) string {
	s, _ := mc[key].(string)
	return s
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
