package http

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opentrusty/trustcore/internal/audit"
	"github.com/opentrusty/trustcore/internal/observability/logger"
)

// EventsResponse wraps a page of audit events.
type EventsResponse struct {
	Events []audit.Event `json:"events"`
	Count  int           `json:"count"`
}

// parseFilter reads user, type, status, from, to and limit from q.
func parseFilter(q url.Values) (audit.Filter, error) {
	var f audit.Filter
	f.Actor = q.Get("user")

	if v := q.Get("type"); v != "" {
		t, err := audit.ParseEventType(v)
		if err != nil {
			return f, err
		}
		f.Type = t
	}
	if v := q.Get("status"); v != "" {
		s, err := audit.ParseStatus(v)
		if err != nil {
			return f, err
		}
		f.Outcome = s
	}

	var err error
	if f.From, err = parseTime(q, "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q, "to"); err != nil {
		return f, err
	}
	if f.Limit, err = parseInt(q, "limit", 0, audit.ExportLimit); err != nil {
		return f, err
	}
	return f, nil
}

func parseTime(q url.Values, key string) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
	}
	return t, nil
}

func parseInt(q url.Values, key string, def, max int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > max {
		return 0, fmt.Errorf("%s must be between 0 and %d", key, max)
	}
	return n, nil
}

// ListAuditEvents queries the audit trail, newest first
// @Summary Query audit events
// @Tags Audit
// @Produce json
// @Security ApiKeyAuth
// @Security BearerAuth
// @Param user query string false "Actor"
// @Param type query string false "Event type"
// @Param status query string false "success, failure or denied"
// @Param from query string false "RFC 3339 lower bound"
// @Param to query string false "RFC 3339 upper bound"
// @Param limit query int false "Maximum events (default 100)"
// @Success 200 {object} EventsResponse
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /api/v1/audit/events [get]
func (h *Handler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.trail.Query(r.Context(), filter)
	if err != nil {
		h.auditReadFailed(w, r, "query", err)
		return
	}
	respondJSON(w, http.StatusOK, EventsResponse{Events: events, Count: len(events)})
}

// AuditStatistics returns aggregate counts over the audit trail
// @Summary Audit statistics
// @Tags Audit
// @Produce json
// @Security ApiKeyAuth
// @Security BearerAuth
// @Success 200 {object} audit.Statistics
// @Router /api/v1/audit/stats [get]
func (h *Handler) AuditStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := h.trail.Statistics(r.Context())
	if err != nil {
		h.auditReadFailed(w, r, "statistics", err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// RecentFailures lists failed events
// @Summary Recent failures
// @Tags Audit
// @Produce json
// @Security ApiKeyAuth
// @Security BearerAuth
// @Param hours query int false "Window in hours (default 24)"
// @Param limit query int false "Maximum events"
// @Success 200 {object} EventsResponse
// @Router /api/v1/audit/failures [get]
func (h *Handler) RecentFailures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hours, err := parseInt(q, "hours", 24, 24*366)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseInt(q, "limit", 0, audit.ExportLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.trail.RecentFailures(r.Context(), hours, limit)
	if err != nil {
		h.auditReadFailed(w, r, "failures", err)
		return
	}
	respondJSON(w, http.StatusOK, EventsResponse{Events: events, Count: len(events)})
}

// UserActivity summarizes one user's recent activity
// @Summary User activity
// @Tags Audit
// @Produce json
// @Security ApiKeyAuth
// @Security BearerAuth
// @Param user path string true "User"
// @Param days query int false "Window in days (default 7)"
// @Success 200 {object} audit.ActivitySummary
// @Router /api/v1/audit/users/{user}/activity [get]
func (h *Handler) UserActivity(w http.ResponseWriter, r *http.Request) {
	days, err := parseInt(r.URL.Query(), "days", 7, 366)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := h.trail.ActivitySummary(r.Context(), chi.URLParam(r, "user"), days)
	if err != nil {
		h.auditReadFailed(w, r, "activity", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// ExportAuditLog streams the export document
// @Summary Export audit log
// @Tags Audit
// @Produce json
// @Security ApiKeyAuth
// @Security BearerAuth
// @Param from query string false "RFC 3339 lower bound"
// @Param to query string false "RFC 3339 upper bound"
// @Success 200 {object} audit.ExportDocument
// @Router /api/v1/audit/export [get]
func (h *Handler) ExportAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime(q, "from")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTime(q, "to")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.trail.BuildExport(r.Context(), from, to)
	if err != nil {
		h.auditReadFailed(w, r, "export", err)
		return
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="audit_export_%s.json"`, doc.ExportTime.Format("20060102_150405")))
	respondJSON(w, http.StatusOK, doc)

	h.logger.InfoContext(r.Context(), "audit log exported",
		logger.UserID(GetUserID(r.Context())),
		logger.RowsAffected(int64(doc.EventCount)),
	)
}

func (h *Handler) auditReadFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), "audit read failed", logger.Operation(op), logger.Error(err))
	respondError(w, http.StatusInternalServerError, "audit log unavailable")
}
