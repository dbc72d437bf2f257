package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/opentrusty/trustcore/internal/audit"
)

// AuditRepository implements audit.Store on SQLite. Timestamps are stored
// as Unix nanoseconds so ordering and range filters stay exact.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a repository on an open DB.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db.db}
}

var _ audit.Store = (*AuditRepository)(nil)

const auditColumns = `event_id, timestamp, event_type, user, action, resource, status,
	ip_address, user_agent, details, created_at`

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Append inserts a single event.
func (r *AuditRepository) Append(ctx context.Context, e *audit.Event) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.Timestamp.UnixNano(), string(e.Type), e.User, e.Action, e.Resource, string(e.Status),
		nullString(e.IPAddress), nullString(e.UserAgent), string(details), e.CreatedAt.UnixNano(),
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
	if f.Actor != "" {
		conds, args = append(conds, "user = ?"), append(args, f.Actor)
	}
	if f.Type != "" {
		conds, args = append(conds, "event_type = ?"), append(args, string(f.Type))
	}
	if f.Outcome != "" {
		conds, args = append(conds, "status = ?"), append(args, string(f.Outcome))
	}
	if !f.From.IsZero() {
		conds, args = append(conds, "timestamp >= ?"), append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		conds, args = append(conds, "timestamp <= ?"), append(args, f.To.UnixNano())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns matching events, newest first.
func (r *AuditRepository) Query(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	where, args := buildWhere(f)
	query := `SELECT ` + auditColumns + ` FROM audit_log` + where + ` ORDER BY timestamp DESC, rowid DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e                    audit.Event
			ts, createdAt        int64
			eventType, status    string
			ipAddress, userAgent sql.NullString
			details              string
		)
		if err := rows.Scan(&e.ID, &ts, &eventType, &e.User, &e.Action, &e.Resource, &status,
			&ipAddress, &userAgent, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		e.Type = audit.EventType(eventType)
		e.Status = audit.Status(status)
		e.IPAddress = ipAddress.String
		e.UserAgent = userAgent.String
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("failed to decode audit details: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return events, nil
}

// Stats aggregates the whole table.
func (r *AuditRepository) Stats(ctx context.Context, since time.Time) (*audit.Statistics, error) {
	st := &audit.Statistics{
		EventsByType:   map[string]int64{},
		EventsByStatus: map[string]int64{},
	}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN timestamp >= ? THEN 1 ELSE 0 END), 0) FROM audit_log
	`, since.UnixNano()).Scan(&st.TotalEvents, &st.RecentEvents24h)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	if err := r.groupCount(ctx, "event_type", st.EventsByType); err != nil {
		return nil, err
	}
	if err := r.groupCount(ctx, "status", st.EventsByStatus); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT user, COUNT(*) AS n FROM audit_log
		GROUP BY user ORDER BY n DESC, user ASC LIMIT ?
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

func (r *AuditRepository) groupCount(ctx context.Context, column string, dst map[string]int64) error {
	rows, err := r.db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM audit_log GROUP BY `+column)
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

// PurgeBefore deletes events older than cutoff.
func (r *AuditRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_log WHERE timestamp < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	return res.RowsAffected()
}
