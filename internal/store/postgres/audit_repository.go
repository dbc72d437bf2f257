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

package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/trustcore/internal/audit"
)

// AuditRepository implements audit.Store
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

var _ audit.Store = (*AuditRepository)(nil)

const auditColumns = `event_id, timestamp, event_type, "user", action, resource, status,
	ip_address, user_agent, details, created_at`

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Append inserts a single event
func (r *AuditRepository) Append(ctx context.Context, e *audit.Event) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		e.ID, e.Timestamp, string(e.Type), e.User, e.Action, e.Resource, string(e.Status),
		nullable(e.IPAddress), nullable(e.UserAgent), string(details), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func buildWhere(f audit.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Actor != "" {
		add(`"user" = $%d`, f.Actor)
	}
	if f.Type != "" {
		add("event_type = $%d", string(f.Type))
	}
	if f.Outcome != "" {
		add("status = $%d", string(f.Outcome))
	}
	if !f.From.IsZero() {
		add("timestamp >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("timestamp <= $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns matching events, newest first
func (r *AuditRepository) Query(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	where, args := buildWhere(f)
	query := `SELECT ` + auditColumns + ` FROM audit_log` + where + ` ORDER BY timestamp DESC, seq DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (audit.Event, error) {
	var (
		e                    audit.Event
		eventType, status    string
		ipAddress, userAgent *string
		details              []byte
	)
	err := row.Scan(
		&e.ID, &e.Timestamp, &eventType, &e.User, &e.Action, &e.Resource, &status,
		&ipAddress, &userAgent, &details, &e.CreatedAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan audit event: %w", err)
	}
	e.Type = audit.EventType(eventType)
	e.Status = audit.Status(status)
	if ipAddress != nil {
		e.IPAddress = *ipAddress
	}
	if userAgent != nil {
		e.UserAgent = *userAgent
	}
	e.Timestamp = e.Timestamp.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return e, fmt.Errorf("failed to decode audit details: %w", err)
		}
	}
	return e, nil
}

// Stats aggregates the whole table
func (r *AuditRepository) Stats(ctx context.Context, since time.Time) (*audit.Statistics, error) {
	st := &audit.Statistics{
		EventsByType:   map[string]int64{},
		EventsByStatus: map[string]int64{},
	}

	err := r.db.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE timestamp >= $1) FROM audit_log
	`, since).Scan(&st.TotalEvents, &st.RecentEvents24h)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	if err := r.groupCount(ctx, "event_type", st.EventsByType); err != nil {
		return nil, err
	}
	if err := r.groupCount(ctx, "status", st.EventsByStatus); err != nil {
		return nil, err
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT "user", COUNT(*) AS n FROM audit_log
		GROUP BY "user" ORDER BY n DESC, "user" ASC LIMIT $1
	`, audit.TopUsersLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank audit users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var uc audit.UserCount
		if err := rows.Scan(&uc.User, &uc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan audit user: %w", err)
		}
		st.TopUsers = append(st.TopUsers, uc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit users: %w", err)
	}
	return st, nil
}

// groupCount fills dst with COUNT(*) grouped by a fixed column name.
func (r *AuditRepository) groupCount(ctx context.Context, column string, dst map[string]int64) error {
	rows, err := r.db.pool.Query(ctx, `SELECT `+column+`, COUNT(*) FROM audit_log GROUP BY `+column)
	if err != nil {
		return fmt.Errorf("failed to group audit events by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan audit group: %w", err)
		}
		dst[key] = n
	}
	return rows.Err()
}

// PurgeBefore deletes events older than cutoff
func (r *AuditRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM audit_log WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}
