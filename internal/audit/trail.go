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

// Package audit records security-relevant actions in an append-only trail
// and optionally forwards them to an external collector.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opentrusty/trustcore/internal/observability/logger"
	"github.com/opentrusty/trustcore/internal/observability/metrics"
)

const (
	// DefaultQueryLimit applies when a Filter carries no limit.
	DefaultQueryLimit = 100
	// ActivityLimit bounds the events considered by ActivitySummary.
	ActivityLimit = 1000
	// ExportLimit bounds the events written by Export.
	ExportLimit = 10000
)

// Trail is the audit trail service.
type Trail struct {
	store          Store
	forwarder      Forwarder
	logger         *slog.Logger
	inst           *metrics.SecurityInstruments
	now            func() time.Time
	forwardTimeout time.Duration
	defaultLimit   int
}

// Option configures a Trail.
type Option func(*Trail)

// WithForwarder sets the collector forwarder.
func WithForwarder(f Forwarder) Option {
	return func(t *Trail) {
		if f != nil {
			t.forwarder = f
		}
	}
}

// WithLogger sets the logger used to mirror events.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trail) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) {
		if now != nil {
			t.now = now
		}
	}
}

// WithForwardTimeout bounds each forwarding attempt.
func WithForwardTimeout(d time.Duration) Option {
	return func(t *Trail) {
		if d > 0 {
			t.forwardTimeout = d
		}
	}
}

// WithInstruments enables audit metrics.
func WithInstruments(inst *metrics.SecurityInstruments) Option {
	return func(t *Trail) { t.inst = inst }
}

// WithDefaultLimit changes the query limit used when none is given.
func WithDefaultLimit(n int) Option {
	return func(t *Trail) {
		if n > 0 {
			t.defaultLimit = n
		}
	}
}

// New creates a Trail on top of store.
func New(store Store, opts ...Option) *Trail {
	t := &Trail{
		store:          store,
		forwarder:      NopForwarder{},
		logger:         slog.Default(),
		now:            time.Now,
		forwardTimeout: DefaultForwardTimeout,
		defaultLimit:   DefaultQueryLimit,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(logger.Component("audit"))
	return t
}

// Record appends an event and returns its id. A store failure is returned
// as ErrWriteFailure. Forwarding failures are logged and never returned.
func (t *Trail) Record(ctx context.Context, entry Entry) (string, error) {
	if !entry.Type.Valid() {
		return "", fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, entry.Type)
	}
	if !entry.Status.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, entry.Status)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("%w: generate id: %w", ErrWriteFailure, err)
	}
	now := t.now().UTC()
	user := entry.User
	if user == "" {
		user = AnonymousUser
	}

	event := &Event{
		ID:        id.String(),
		Timestamp: now,
		Type:      entry.Type,
		User:      user,
		Action:    entry.Action,
		Resource:  entry.Resource,
		Status:    entry.Status,
		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		Details:   redact(entry.Details),
		CreatedAt: now,
	}

	if err := t.store.Append(ctx, event); err != nil {
		t.logger.ErrorContext(ctx, "failed to append audit event",
			logger.EventID(event.ID),
			logger.EventType(string(event.Type)),
			logger.Error(err),
		)
		return "", fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}

	t.mirror(ctx, event)
	t.inst.RecordAuditEvent(ctx, string(event.Type), string(event.Status))
	t.forward(ctx, event)

	return event.ID, nil
}

func (t *Trail) mirror(ctx context.Context, e *Event) {
	attrs := []slog.Attr{
		logger.EventID(e.ID),
		logger.EventType(string(e.Type)),
		logger.UserID(e.User),
		slog.String("action", e.Action),
		slog.String("resource", e.Resource),
		slog.String("status", string(e.Status)),
	}
	if e.IPAddress != "" {
		attrs = append(attrs, logger.RemoteAddr(e.IPAddress))
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, slog.Any("details", e.Details))
	}
	t.logger.LogAttrs(ctx, slog.LevelInfo, "audit_event", attrs...)
}

func (t *Trail) forward(ctx context.Context, e *Event) {
	if _, ok := t.forwarder.(NopForwarder); ok {
		return
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.forwardTimeout)
	defer cancel()

	if err := t.forwarder.Forward(fctx, e); err != nil {
		if !errors.Is(err, ErrForwardingFailure) {
			err = fmt.Errorf("%w: %w", ErrForwardingFailure, err)
		}
		t.inst.RecordForwardFailure(ctx)
		t.logger.WarnContext(ctx, "failed to forward audit event",
			logger.EventID(e.ID),
			logger.Error(err),
		)
	}
}

// Query returns events matching filter, newest first. A zero limit uses the
// trail default.
func (t *Trail) Query(ctx context.Context, filter Filter) ([]Event, error) {
	if filter.Limit <= 0 {
		filter.Limit = t.defaultLimit
	}
	events, err := t.store.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}

// ActivitySummary describes one user's recent activity.
type ActivitySummary struct {
	User        string         `json:"user"`
	TotalEvents int            `json:"total_events"`
	EventTypes  map[string]int `json:"event_types"`
	Failures    int            `json:"failures"`
	PeriodDays  int            `json:"period_days"`
}

// ActivitySummary aggregates the events of actor over the last windowDays
// days (7 when not positive).
func (t *Trail) ActivitySummary(ctx context.Context, actor string, windowDays int) (*ActivitySummary, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	events, err := t.Query(ctx, Filter{
		Actor: actor,
		From:  t.now().Add(-time.Duration(windowDays) * 24 * time.Hour),
		Limit: ActivityLimit,
	})
	if err != nil {
		return nil, err
	}

	summary := &ActivitySummary{
		User:        actor,
		TotalEvents: len(events),
		EventTypes:  map[string]int{},
		PeriodDays:  windowDays,
	}
	for i := range events {
		summary.EventTypes[string(events[i].Type)]++
		if events[i].Status == StatusFailure {
			summary.Failures++
		}
	}
	return summary, nil
}

// RecentFailures returns failed events from the last windowHours hours
// (24 when not positive).
func (t *Trail) RecentFailures(ctx context.Context, windowHours, limit int) ([]Event, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	return t.Query(ctx, Filter{
		Outcome: StatusFailure,
		From:    t.now().Add(-time.Duration(windowHours) * time.Hour),
		Limit:   limit,
	})
}

// Statistics summarizes the whole trail.
func (t *Trail) Statistics(ctx context.Context) (*Statistics, error) {
	st, err := t.store.Stats(ctx, t.now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("audit: statistics: %w", err)
	}
	if st.TopUsers == nil {
		st.TopUsers = []UserCount{}
	}
	return st, nil
}

// RetentionCutoff returns the instant before which events fall outside a
// retention window of days, measured from the trail's clock.
func (t *Trail) RetentionCutoff(days int) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, fmt.Errorf("audit: retention must be at least one day, got %d", days)
	}
	return t.now().Add(-time.Duration(days) * 24 * time.Hour), nil
}

// PurgeOlderThan deletes events older than days and records the purge as a
// system event.
func (t *Trail) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff, err := t.RetentionCutoff(days)
	if err != nil {
		return 0, err
	}
	return t.purge(ctx, cutoff, map[string]any{"retention_days": days})
}

// PurgeBefore deletes events older than cutoff and records the purge as a
// system event. Callers that export first pass the same cutoff to both steps.
func (t *Trail) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() || cutoff.After(t.now()) {
		return 0, fmt.Errorf("audit: purge cutoff %s is not in the past", cutoff.Format(time.RFC3339))
	}
	return t.purge(ctx, cutoff, map[string]any{})
}

func (t *Trail) purge(ctx context.Context, cutoff time.Time, details map[string]any) (int64, error) {
	n, err := t.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: purge: %w", err)
	}
	t.logger.InfoContext(ctx, "audit events purged",
		logger.RowsAffected(n),
		slog.Time("cutoff", cutoff),
	)

	details["deleted"] = n
	details["cutoff"] = cutoff.UTC().Format(time.RFC3339)
	if _, err := t.Record(ctx, Entry{
		Type:     TypeSystemEvent,
		User:     "system",
		Action:   "purge",
		Resource: "audit_log",
		Status:   StatusSuccess,
		Details:  details,
	}); err != nil {
		return n, err
	}
	return n, nil
}
