package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/staffdesk/gatekeeper/internal/circuitbreaker"
	"github.com/staffdesk/gatekeeper/internal/metrics"
)

// DefaultWriteTimeout bounds a single durable audit write.
const DefaultWriteTimeout = 5 * time.Second

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PostgresRecorder appends events to a PostgreSQL table. The pool is owned by the caller
// (see dbpool.SharedPool).
type PostgresRecorder struct {
	db       *sql.DB
	table    string
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

// NewPostgresRecorder validates the table name and creates the table if needed.
func NewPostgresRecorder(ctx context.Context, db *sql.DB, table string, breakers *circuitbreaker.Manager, m *metrics.Metrics) (*PostgresRecorder, error) {
	if table == "" {
		table = "security_events"
	}
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid audit table name %q", table)
	}
	r := &PostgresRecorder{db: db, table: table, breakers: breakers, metrics: m}
	if err := r.createTable(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PostgresRecorder) createTable(ctx context.Context) error {
	ctx, cancel := withWriteTimeout(ctx)
	defer cancel()

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			code TEXT,
			request_id TEXT,
			ip TEXT,
			method TEXT,
			path TEXT,
			user_agent TEXT,
			referer TEXT,
			origin TEXT,
			user_id TEXT,
			detail JSONB,
			occurred_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_ip_idx ON %[1]s (ip);
		CREATE INDEX IF NOT EXISTS %[1]s_occurred_at_idx ON %[1]s (occurred_at);
	`, r.table)

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

// Record inserts the event. Calls go through the audit circuit breaker.
func (r *PostgresRecorder) Record(ctx context.Context, ev Event) error {
	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		return fmt.Errorf("marshal detail: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, event_type, code, request_id, ip, method, path, user_agent, referer, origin, user_id, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`, r.table)

	_, err = r.breakers.Execute(circuitbreaker.ServiceAudit, func() (interface{}, error) {
		defer metrics.MeasureAuditWrite(r.metrics, "postgres")()
		ctx, cancel := withWriteTimeout(ctx)
		defer cancel()
		return r.db.ExecContext(ctx, query,
			ev.ID, string(ev.Type), ev.Code, ev.RequestID, ev.IP, ev.Method, ev.Path,
			ev.UserAgent, ev.Referer, ev.Origin, ev.UserID, detail, ev.Time.UTC())
	})
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// withWriteTimeout wraps the context with a write timeout if one isn't already set.
func withWriteTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultWriteTimeout)
}
