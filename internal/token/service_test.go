package token

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/trustcore/internal/rbac"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T, opts ...Option) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	s, err := NewService(Config{Secret: []byte(testSecret)}, opts...)
	require.NoError(t, err)
	return s, clock
}

func TestNewService_RejectsWeakSecret(t *testing.T) {
	_, err := NewService(Config{Secret: []byte("short")})
	assert.ErrorIs(t, err, ErrWeakSecret)

	_, err = NewService(Config{Secret: []byte(testSecret), Algorithm: "RS256"})
	assert.ErrorIs(t, err, ErrUnsupportedAlg)
}

func TestGenerate_Validation(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.Generate("", nil, KindAccess, time.Minute, nil)
	assert.ErrorIs(t, err, ErrEmptySubject)

	_, err = s.Generate("alice", nil, KindAccess, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	_, err = s.Generate("alice", nil, "id", time.Minute, nil)
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = s.Generate("alice", nil, KindAccess, time.Minute, map[string]any{"roles": []string{"admin"}})
	assert.ErrorIs(t, err, ErrReservedClaim)
}

func TestGenerate_IsDeterministic(t *testing.T) {
	s, _ := newTestService(t)

	a, err := s.Generate("alice", []rbac.Role{rbac.RoleOperator}, KindAccess, time.Hour, nil)
	require.NoError(t, err)
	b, err := s.Generate("alice", []rbac.Role{rbac.RoleOperator}, KindAccess, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, strings.Split(a, "."), 3)
}

func TestVerify_RoundTrip(t *testing.T) {
	s, clock := newTestService(t)

	tok, err := s.Generate("alice", []rbac.Role{rbac.RoleAnalyst, rbac.RoleViewer}, KindAccess, time.Hour, map[string]any{"tenant": "ops"})
	require.NoError(t, err)

	claims, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, KindAccess, claims.Type)
	assert.Equal(t, []rbac.Role{rbac.RoleAnalyst, rbac.RoleViewer}, claims.Roles)
	assert.Equal(t, "ops", claims.Extra["tenant"])
	assert.Equal(t, clock.t.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
	assert.Equal(t, clock.t.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, "alice", claims.Raw()[ClaimUserID])
}

// TestPurpose: Validates the exact expiry boundary of issued tokens.
// Scope: Unit Test
// Security: Session lifetime enforcement (CWE-613)
// Expected: A token is accepted one second before exp and rejected with ErrTokenExpired at exp.
// Test Case ID: TOK-01
func TestVerify_ExpiryBoundary(t *testing.T) {
	s, clock := newTestService(t)

	tok, err := s.Generate("alice", nil, KindAccess, time.Hour, nil)
	require.NoError(t, err)

	clock.Advance(time.Hour - time.Second)
	_, err = s.Verify(tok)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = s.Verify(tok)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerify_NotValidYet(t *testing.T) {
	s, clock := newTestService(t)

	tok, err := s.Generate("alice", nil, KindAccess, time.Hour, nil)
	require.NoError(t, err)

	clock.Advance(-time.Minute)
	_, err = s.Verify(tok)
	assert.ErrorIs(t, err, ErrTokenNotValidYet)
}

// TestPurpose: Validates that any modification of a signed token is detected.
// Scope: Unit Test
// Security: Token integrity (CWE-345)
// Expected: Flipped payload, foreign key and alg=none tokens all fail with ErrInvalidSignature.
// Test Case ID: TOK-02
func TestVerify_Tampering(t *testing.T) {
	s, _ := newTestService(t)

	tok, err := s.Generate("alice", []rbac.Role{rbac.RoleViewer}, KindAccess, time.Hour, nil)
	require.NoError(t, err)

	t.Run("payload swap", func(t *testing.T) {
		parts := strings.Split(tok, ".")
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"user_id": "mallory", "roles": []string{"admin"}, "type": "access",
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SigningString()
		require.NoError(t, err)
		forgedParts := strings.Split(forged, ".")
		_, err = s.Verify(parts[0] + "." + forgedParts[1] + "." + parts[2])
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("foreign secret", func(t *testing.T) {
		other, err := NewService(Config{Secret: []byte(strings.Repeat("z", 32))}, WithClock(s.now))
		require.NoError(t, err)
		foreign, err := other.Generate("alice", nil, KindAccess, time.Hour, nil)
		require.NoError(t, err)
		_, err = s.Verify(foreign)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("alg none", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"user_id": "mallory", "type": "access", "exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = s.Verify(unsigned)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestVerify_Malformed(t *testing.T) {
	s, _ := newTestService(t)

	for _, in := range []string{"", "abc", "a.b.c", "not.a.token.at.all"} {
		_, err := s.Verify(in)
		assert.ErrorIs(t, err, ErrTokenMalformed, "input %q", in)
	}

	missingSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"type": "access", "exp": s.now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = s.Verify(missingSubject)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestRefresh(t *testing.T) {
	source := RoleSourceFunc(func(_ context.Context, userID string) ([]rbac.Role, error) {
		if userID == "bob" {
			return nil, errors.New("directory unavailable")
		}
		return []rbac.Role{rbac.RoleOperator}, nil
	})
	s, _ := newTestService(t, WithRoleSource(source))

	refresh, err := s.GenerateRefresh("alice")
	require.NoError(t, err)

	refreshClaims, err := s.Verify(refresh)
	require.NoError(t, err)
	assert.Empty(t, refreshClaims.Roles)

	access, err := s.Refresh(context.Background(), refresh)
	require.NoError(t, err)
	claims, err := s.Verify(access)
	require.NoError(t, err)
	assert.Equal(t, KindAccess, claims.Type)
	assert.Equal(t, []rbac.Role{rbac.RoleOperator}, claims.Roles)

	t.Run("access token rejected", func(t *testing.T) {
		_, err := s.Refresh(context.Background(), access)
		assert.ErrorIs(t, err, ErrRefreshTokenInvalid)
		assert.ErrorIs(t, err, ErrWrongTokenType)
	})

	t.Run("role source failure", func(t *testing.T) {
		bob, err := s.GenerateRefresh("bob")
		require.NoError(t, err)
		_, err = s.Refresh(context.Background(), bob)
		assert.ErrorIs(t, err, ErrRefreshTokenInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := s.Refresh(context.Background(), "garbage")
		assert.ErrorIs(t, err, ErrRefreshTokenInvalid)
		assert.ErrorIs(t, err, ErrTokenMalformed)
	})
}

func TestRefresh_WithoutRoleSource(t *testing.T) {
	s, _ := newTestService(t)

	refresh, err := s.GenerateRefresh("alice")
	require.NoError(t, err)
	access, err := s.Refresh(context.Background(), refresh)
	require.NoError(t, err)

	claims, err := s.Verify(access)
	require.NoError(t, err)
	assert.Empty(t, claims.Roles)
}

func TestInspect(t *testing.T) {
	s, clock := newTestService(t)

	tok, err := s.Generate("alice", []rbac.Role{rbac.RoleViewer}, KindAccess, time.Minute, nil)
	require.NoError(t, err)

	info, err := s.Inspect(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.UserID)
	assert.Equal(t, []string{"viewer"}, info.Roles)
	assert.Equal(t, "HS256", info.Algorithm)
	assert.False(t, info.Expired)

	clock.Advance(2 * time.Minute)
	info, err = s.Inspect(tok)
	require.NoError(t, err)
	assert.True(t, info.Expired)

	_, err = s.Inspect("nope")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}
