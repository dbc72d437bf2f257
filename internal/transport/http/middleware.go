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

package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/opentrusty/trustcore/internal/audit"
	"github.com/opentrusty/trustcore/internal/gateway"
	"github.com/opentrusty/trustcore/internal/observability/logger"
	"github.com/opentrusty/trustcore/internal/rbac"
)

// HeaderAPIKey carries a static API key.
const HeaderAPIKey = "X-API-Key"

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			info := &requestInfo{}
			defer func() {
				attrs := []any{
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(getClientIP(r)),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				}
				if info.userID != "" {
					attrs = append(attrs, logger.UserID(info.userID))
				}
				slog.InfoContext(r.Context(), "http_request", attrs...)
			}()

			next.ServeHTTP(ww, r.WithContext(withRequestInfo(r.Context(), info)))
		})
	}
}

// AuthMiddleware authenticates every request through the gateway and stores
// the resulting principal in the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.gateway.Authenticate(r.Context(), gateway.Request{
			APIKey:        r.Header.Get(HeaderAPIKey),
			Authorization: r.Header.Get("Authorization"),
			RemoteAddr:    getClientIP(r),
			UserAgent:     r.UserAgent(),
			Resource:      r.URL.Path,
		})
		if err != nil {
			h.writeAuthError(w, r, err)
			return
		}
		ctx := gateway.WithPrincipal(r.Context(), p)
		if info := requestInfoFrom(ctx); info != nil {
			info.userID = p.UserID
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission rejects principals lacking perm with 403.
func (h *Handler) RequirePermission(perm rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := h.gateway.Authorize(r.Context(), GetPrincipal(r.Context()), perm); err != nil {
				h.writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects principals not holding role with 403.
func (h *Handler) RequireRole(role rbac.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := h.gateway.RequireRole(r.Context(), GetPrincipal(r.Context()), role); err != nil {
				h.writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError maps gateway failures to status codes: unauthenticated
// requests get 401 with a Bearer challenge, missing permissions get 403 and
// an audit log that cannot be written gets 503.
func (h *Handler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var denial *gateway.Denial
	switch {
	case errors.Is(err, audit.ErrWriteFailure):
		h.logger.ErrorContext(r.Context(), "audit log unavailable",
			logger.RequestID(middleware.GetReqID(r.Context())),
			logger.Error(err),
		)
		respondError(w, http.StatusServiceUnavailable, "audit log unavailable")
	case errors.As(err, &denial) && denial.Unauthenticated():
		w.Header().Set("WWW-Authenticate", `Bearer realm="trustcore"`)
		respondError(w, http.StatusUnauthorized, denial.Reason)
	case errors.Is(err, gateway.ErrPermissionDenied):
		respondError(w, http.StatusForbidden, gateway.ReasonPermissionDenied)
	default:
		h.logger.ErrorContext(r.Context(), "authorization failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
