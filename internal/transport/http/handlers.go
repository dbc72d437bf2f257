// @title TrustCore API
// @version 1.0.0
// @description Authentication, authorization and audit core
//
// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html
//
// @host localhost:8080
// @BasePath /
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package http

import (
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/trustcore/internal/audit"
	"github.com/opentrusty/trustcore/internal/gateway"
	"github.com/opentrusty/trustcore/internal/observability/logger"
	"github.com/opentrusty/trustcore/internal/rbac"
	"github.com/opentrusty/trustcore/internal/secrets"
	"github.com/opentrusty/trustcore/internal/token"
)

// Handler serves the reference API on top of the gateway, token service
// and audit trail.
type Handler struct {
	gateway *gateway.Gateway
	tokens  *token.Service
	trail   *audit.Trail
	secrets *secrets.Manager
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler. secretsManager may be nil, in
// which case the secrets routes are not mounted.
func NewHandler(
	gw *gateway.Gateway,
	tokens *token.Service,
	trail *audit.Trail,
	secretsManager *secrets.Manager,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		gateway: gw,
		tokens:  tokens,
		trail:   trail,
		secrets: secretsManager,
		logger:  log.With(logger.Component("http")),
	}
}

// RouterConfig tunes NewRouter.
type RouterConfig struct {
	RequestTimeout time.Duration
	// TrustedProxies lists the peers whose forwarding headers are honored.
	TrustedProxies []netip.Prefix
	// Metrics, when set, is served unauthenticated at /metrics.
	Metrics http.Handler
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter, cfg RouterConfig) *chi.Mux {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(ClientIPMiddleware(cfg.TrustedProxies))
	if rateLimiter != nil {
		r.Use(RateLimitMiddleware(rateLimiter))
	}
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", h.HealthCheck)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// The refresh token is the credential here.
		r.Post("/token/refresh", h.RefreshToken)

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/me", h.GetCurrentPrincipal)
			r.With(h.RequireRole(rbac.RoleAdmin)).Post("/token/inspect", h.InspectToken)

			r.Route("/audit", func(r chi.Router) {
				r.Use(h.RequirePermission(rbac.PermViewAuditLog))
				r.Get("/events", h.ListAuditEvents)
				r.Get("/stats", h.AuditStatistics)
				r.Get("/failures", h.RecentFailures)
				r.Get("/users/{user}/activity", h.UserActivity)
				r.Get("/export", h.ExportAuditLog)
			})

			if h.secrets != nil {
				r.Route("/secrets", func(r chi.Router) {
					r.Use(h.RequirePermission(rbac.PermManageSecrets))
					r.Get("/", h.ListSecrets)
				})
			}
		})
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "trustcore",
	})
}

// RefreshRequest is the body of POST /api/v1/token/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse carries a freshly issued access token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// RefreshToken exchanges a refresh token for a new access token
// @Summary Refresh access token
// @Tags Token
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh token"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /api/v1/token/refresh [post]
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil || req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	// The subject is only trusted once the token verifies.
	subject := audit.AnonymousUser
	if info, err := h.tokens.Inspect(req.RefreshToken); err == nil && info.UserID != "" {
		subject = info.UserID
	}

	access, err := h.tokens.Refresh(r.Context(), req.RefreshToken)
	entry := audit.Entry{
		Type:      audit.TypeAuthentication,
		User:      subject,
		Action:    "token_refresh",
		Resource:  r.URL.Path,
		Status:    audit.StatusSuccess,
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
	}
	if err != nil {
		entry.User = "unknown"
		entry.Status = audit.StatusFailure
		entry.Details = map[string]any{"reason": refreshReason(err)}
	}
	if _, aerr := h.trail.Record(r.Context(), entry); aerr != nil {
		h.writeAuthError(w, r, aerr)
		return
	}
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="trustcore", error="invalid_token"`)
		respondError(w, http.StatusUnauthorized, refreshReason(err))
		return
	}

	respondJSON(w, http.StatusOK, TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.tokens.AccessTTL().Seconds()),
	})
}

func refreshReason(err error) string {
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		return gateway.ReasonTokenExpired
	case errors.Is(err, token.ErrInvalidSignature):
		return gateway.ReasonInvalidSignature
	case errors.Is(err, token.ErrTokenNotValidYet):
		return gateway.ReasonTokenNotYetValid
	case errors.Is(err, token.ErrWrongTokenType):
		return gateway.ReasonInvalidTokenType
	default:
		return gateway.ReasonTokenMalformed
	}
}

// InspectRequest is the body of POST /api/v1/token/inspect.
type InspectRequest struct {
	Token string `json:"token"`
}

// InspectToken decodes a token without verifying it, for support staff
// looking at a token a user reports as rejected
// @Summary Inspect token
// @Tags Token
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Security BearerAuth
// @Param request body InspectRequest true "Token"
// @Success 200 {object} token.Info
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /api/v1/token/inspect [post]
func (h *Handler) InspectToken(w http.ResponseWriter, r *http.Request) {
	var req InspectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil || req.Token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}
	info, err := h.tokens.Inspect(req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, gateway.ReasonTokenMalformed)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// PrincipalResponse describes the caller.
type PrincipalResponse struct {
	UserID      string   `json:"user_id"`
	Method      string   `json:"method"`
	PrimaryRole string   `json:"primary_role"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	KeyName     string   `json:"key_name,omitempty"`
}

// GetCurrentPrincipal returns the authenticated caller
// @Summary Current principal
// @Tags Auth
// @Produce json
// @Security ApiKeyAuth
// @Security BearerAuth
// @Success 200 {object} PrincipalResponse
// @Failure 401 {object} map[string]string
// @Router /api/v1/me [get]
func (h *Handler) GetCurrentPrincipal(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	if p == nil {
		respondError(w, http.StatusUnauthorized, gateway.ReasonNoCredentials)
		return
	}

	resp := PrincipalResponse{
		UserID:      p.UserID,
		Method:      string(p.Method),
		PrimaryRole: string(p.PrimaryRole()),
		Roles:       make([]string, 0, len(p.Roles)),
		Permissions: []string{},
		KeyName:     p.KeyName,
	}
	for _, role := range p.Roles {
		resp.Roles = append(resp.Roles, string(role))
	}
	for _, perm := range p.Permissions() {
		resp.Permissions = append(resp.Permissions, string(perm))
	}
	respondJSON(w, http.StatusOK, resp)
}

// ListSecrets returns the names of stored secrets, never their values
// @Summary List secret names
// @Tags Secrets
// @Produce json
// @Security ApiKeyAuth
// @Security BearerAuth
// @Success 200 {object} map[string]any
// @Router /api/v1/secrets [get]
func (h *Handler) ListSecrets(w http.ResponseWriter, r *http.Request) {
	names, err := h.secrets.ListSecrets(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list secrets", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list secrets")
		return
	}
	if names == nil {
		names = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"backend": h.secrets.Backend().Name(),
		"names":   names,
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
