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

// Package gateway authenticates callers, resolves their roles and checks
// permissions. Every authentication decision is written to the audit trail
// before it is returned.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opentrusty/trustcore/internal/audit"
	"github.com/opentrusty/trustcore/internal/observability/logger"
	"github.com/opentrusty/trustcore/internal/observability/metrics"
	"github.com/opentrusty/trustcore/internal/rbac"
	"github.com/opentrusty/trustcore/internal/token"
)

// State of an authentication attempt.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateDenied:
		return "denied"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Request carries the credential material of one incoming call.
type Request struct {
	APIKey        string // X-API-Key header
	Authorization string // Authorization header
	RemoteAddr    string
	UserAgent     string
	Resource      string
}

// Verifier verifies bearer tokens.
type Verifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// Recorder appends audit events.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) (string, error)
}

// Handler is an operation executed on behalf of an authorized principal.
type Handler func(ctx context.Context, p *Principal) error

// Gateway is the access decision point.
type Gateway struct {
	verifier   Verifier
	recorder   Recorder
	model      *rbac.Model
	keys       *KeyTable
	logger     *slog.Logger
	inst       *metrics.SecurityInstruments
	tracer     trace.Tracer
	now        func() time.Time
	auditAuthz bool
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithAPIKeys sets the static API key table.
func WithAPIKeys(t *KeyTable) Option {
	return func(g *Gateway) { g.keys = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithInstruments(inst *metrics.SecurityInstruments) Option {
	return func(g *Gateway) { g.inst = inst }
}

func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) {
		if t != nil {
			g.tracer = t
		}
	}
}

// WithAuditedAuthorization records every permission and role check as an
// authorization event.
func WithAuditedAuthorization(enabled bool) Option {
	return func(g *Gateway) { g.auditAuthz = enabled }
}

// New creates a Gateway. verifier, recorder and model are required.
func New(verifier Verifier, recorder Recorder, model *rbac.Model, opts ...Option) (*Gateway, error) {
	if verifier == nil || recorder == nil || model == nil {
		return nil, errors.New("gateway: verifier, recorder and role model are required")
	}
	g := &Gateway{
		verifier: verifier,
		recorder: recorder,
		model:    model,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/opentrusty/trustcore/internal/gateway"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(logger.Component("gateway"))
	return g, nil
}

// Model returns the role model used for permission checks.
func (g *Gateway) Model() *rbac.Model { return g.model }

// Authenticate resolves req to a principal. Exactly one audit event is
// recorded per call. Denials are returned as *Denial; an audit write
// failure is returned as is (matching audit.ErrWriteFailure) and must fail
// the request.
func (g *Gateway) Authenticate(ctx context.Context, req Request) (*Principal, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.Authenticate")
	defer span.End()
	start := g.now()

	span.AddEvent(StateAuthenticating.String())
	p, method, denial := g.resolve(req)
	state := StateAuthenticated
	if denial != nil {
		state = StateDenied
	}

	entry := audit.Entry{
		Type:      audit.TypeAuthentication,
		Action:    "authenticate",
		Resource:  req.Resource,
		IPAddress: req.RemoteAddr,
		UserAgent: req.UserAgent,
		Details:   map[string]any{},
	}
	if method != "" {
		entry.Details["method"] = string(method)
	}
	switch {
	case denial == nil:
		entry.User = p.UserID
		entry.Status = audit.StatusSuccess
	case denial.Reason == ReasonNoCredentials:
		entry.User = audit.AnonymousUser
		entry.Status = audit.StatusDenied
		entry.Details["reason"] = denial.Reason
	default:
		entry.User = "unknown"
		entry.Status = audit.StatusFailure
		entry.Details["reason"] = denial.Reason
	}

	span.SetAttributes(
		attribute.String("auth.method", string(method)),
		attribute.String("auth.state", state.String()),
	)

	if _, err := g.recorder.Record(ctx, entry); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit write failed")
		g.logger.ErrorContext(ctx, "authentication decision not recorded",
			logger.AuthMethod(string(method)),
			logger.RemoteAddr(req.RemoteAddr),
			logger.Error(err),
		)
		return nil, fmt.Errorf("gateway: record authentication: %w", err)
	}

	g.inst.RecordAuthDecision(ctx, string(method), string(entry.Status), reasonOf(denial))
	g.inst.RecordAuthDuration(ctx, string(method), g.now().Sub(start))

	if denial != nil {
		span.SetAttributes(attribute.String("auth.reason", denial.Reason))
		g.logger.InfoContext(ctx, "authentication denied",
			logger.AuthMethod(string(method)),
			logger.Reason(denial.Reason),
			logger.RemoteAddr(req.RemoteAddr),
			logger.Path(req.Resource),
		)
		return nil, denial
	}

	span.SetAttributes(attribute.String("auth.user_id", p.UserID))
	g.logger.DebugContext(ctx, "authenticated",
		logger.UserID(p.UserID),
		logger.Roles(rbac.RoleNames(p.Roles)),
		logger.AuthMethod(string(method)),
	)
	return p, nil
}

func reasonOf(d *Denial) string {
	if d == nil {
		return ""
	}
	return d.Reason
}

// resolve performs the credential checks without side effects.
func (g *Gateway) resolve(req Request) (*Principal, Method, *Denial) {
	if req.APIKey != "" {
		e, ok := g.keys.lookup(req.APIKey)
		if !ok {
			return nil, MethodAPIKey, deny(ReasonInvalidAPIKey, ErrInvalidAPIKey)
		}
		return &Principal{
			UserID:     e.userID,
			Roles:      append([]rbac.Role(nil), e.roles...),
			Method:     MethodAPIKey,
			RemoteAddr: req.RemoteAddr,
			KeyName:    e.name,
			model:      g.model,
		}, MethodAPIKey, nil
	}

	bearer, ok := bearerToken(req.Authorization)
	if !ok {
		return nil, "", deny(ReasonNoCredentials, ErrCredentialMissing)
	}

	claims, err := g.verifier.Verify(bearer)
	if err != nil {
		return nil, MethodJWT, deny(tokenReason(err), err)
	}
	if claims.Type != token.KindAccess {
		return nil, MethodJWT, deny(ReasonInvalidTokenType, token.ErrWrongTokenType)
	}
	return &Principal{
		UserID:     claims.UserID,
		Roles:      claims.Roles,
		Method:     MethodJWT,
		RemoteAddr: req.RemoteAddr,
		Claims:     claims,
		model:      g.model,
	}, MethodJWT, nil
}

// bearerToken extracts the token from an "Authorization: Bearer" value.
// The scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, value, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func tokenReason(err error) string {
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		return ReasonTokenExpired
	case errors.Is(err, token.ErrInvalidSignature):
		return ReasonInvalidSignature
	case errors.Is(err, token.ErrTokenNotValidYet):
		return ReasonTokenNotYetValid
	default:
		return ReasonTokenMalformed
	}
}

// Authorize checks that p holds perm.
func (g *Gateway) Authorize(ctx context.Context, p *Principal, perm rbac.Permission) error {
	if p == nil {
		return deny(ReasonNoCredentials, ErrCredentialMissing)
	}
	allowed := p.HasPermission(perm)
	if err := g.recordAuthorization(ctx, p, "permission:"+string(perm), allowed); err != nil {
		return err
	}
	if !allowed {
		return deny(ReasonPermissionDenied, fmt.Errorf("%w: %s requires %s", ErrPermissionDenied, p.UserID, perm))
	}
	return nil
}

// RequireRole checks that p holds role.
func (g *Gateway) RequireRole(ctx context.Context, p *Principal, role rbac.Role) error {
	if p == nil {
		return deny(ReasonNoCredentials, ErrCredentialMissing)
	}
	allowed := p.HasRole(role)
	if err := g.recordAuthorization(ctx, p, "role:"+string(role), allowed); err != nil {
		return err
	}
	if !allowed {
		return deny(ReasonPermissionDenied, fmt.Errorf("%w: %s requires role %s", ErrPermissionDenied, p.UserID, role))
	}
	return nil
}

func (g *Gateway) recordAuthorization(ctx context.Context, p *Principal, resource string, allowed bool) error {
	if !g.auditAuthz {
		return nil
	}
	entry := audit.Entry{
		Type:      audit.TypeAuthorization,
		User:      p.UserID,
		Action:    "authorize",
		Resource:  resource,
		Status:    audit.StatusSuccess,
		IPAddress: p.RemoteAddr,
		Details:   map[string]any{"roles": rbac.RoleNames(p.Roles)},
	}
	if !allowed {
		entry.Status = audit.StatusDenied
		entry.Details["reason"] = ReasonPermissionDenied
	}
	if _, err := g.recorder.Record(ctx, entry); err != nil {
		return fmt.Errorf("gateway: record authorization: %w", err)
	}
	return nil
}

// RequirePermission wraps next so that it only runs for principals holding
// perm.
func (g *Gateway) RequirePermission(perm rbac.Permission, next Handler) Handler {
	return func(ctx context.Context, p *Principal) error {
		if err := g.Authorize(ctx, p, perm); err != nil {
			return err
		}
		return next(ctx, p)
	}
}

// RequireRoleHandler wraps next so that it only runs for principals holding
// role.
func (g *Gateway) RequireRoleHandler(role rbac.Role, next Handler) Handler {
	return func(ctx context.Context, p *Principal) error {
		if err := g.RequireRole(ctx, p, role); err != nil {
			return err
		}
		return next(ctx, p)
	}
}
