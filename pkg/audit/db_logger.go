package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DBLogger implements audit logging to PostgreSQL.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger and ensures its tables
// exist.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit tables: %w", err)
	}
	return logger, nil
}

func (l *DBLogger) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS provisioning_audit_logs (
		id BIGSERIAL PRIMARY KEY,
		request_id BIGINT NOT NULL,
		tenant_id BIGINT,
		admin_id VARCHAR(128) NOT NULL,
		stage VARCHAR(64) NOT NULL,
		status VARCHAR(20) NOT NULL,
		payload JSONB,
		error_detail TEXT,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS provisioning_metrics (
		id BIGSERIAL PRIMARY KEY,
		request_id BIGINT NOT NULL,
		duration_ms BIGINT NOT NULL,
		success BOOLEAN NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		failure_reason VARCHAR(64),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_provisioning_audit_request ON provisioning_audit_logs(request_id);
	CREATE INDEX IF NOT EXISTS idx_provisioning_audit_tenant ON provisioning_audit_logs(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_provisioning_audit_created ON provisioning_audit_logs(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_provisioning_metrics_request ON provisioning_metrics(request_id);
	`
	_, err := l.db.Exec(query)
	return err
}

// Log inserts an audit event. Events are append-only: there is no update or
// delete path for them anywhere in this package.
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var payloadJSON []byte
	var err error
	if event.Payload != nil {
		payloadJSON, err = json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	err = l.db.QueryRowContext(ctx, `
		INSERT INTO provisioning_audit_logs (
			request_id, tenant_id, admin_id, stage, status,
			payload, error_detail, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, event.RequestID, event.TenantID, event.AdminID, event.Stage, event.Status,
		payloadJSON, event.ErrorDetail, event.DurationMS, event.CreatedAt,
	).Scan(&event.ID)

	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// RecordMetrics appends the per-attempt aggregate row, written once at
// terminal state.
func (l *DBLogger) RecordMetrics(ctx context.Context, m *AttemptMetrics) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO provisioning_metrics (request_id, duration_ms, success, retry_count, failure_reason)
		VALUES ($1, $2, $3, $4, $5)
	`, m.RequestID, m.Duration.Milliseconds(), m.Success, m.RetryCount, m.FailureReason)
	if err != nil {
		return fmt.Errorf("failed to insert provisioning metrics: %w", err)
	}
	return nil
}

// Search returns audit events matching the filter, newest first.
func (l *DBLogger) Search(ctx context.Context, filter Filter) ([]*Event, error) {
	var conditions []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.RequestID != nil {
		conditions = append(conditions, "request_id = "+arg(*filter.RequestID))
	}
	if filter.TenantID != nil {
		conditions = append(conditions, "tenant_id = "+arg(*filter.TenantID))
	}
	if filter.Stage != "" {
		conditions = append(conditions, "stage = "+arg(string(filter.Stage)))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = "+arg(string(filter.Status)))
	}
	if filter.Since != nil {
		conditions = append(conditions, "created_at >= "+arg(*filter.Since))
	}
	if filter.Until != nil {
		conditions = append(conditions, "created_at <= "+arg(*filter.Until))
	}

	query := `SELECT id, request_id, tenant_id, admin_id, stage, status, payload, error_detail, duration_ms, created_at
		FROM provisioning_audit_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var tenantID sql.NullInt64
		var payloadJSON []byte
		var errorDetail sql.NullString

		err := rows.Scan(&event.ID, &event.RequestID, &tenantID, &event.AdminID,
			&event.Stage, &event.Status, &payloadJSON, &errorDetail,
			&event.DurationMS, &event.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		if tenantID.Valid {
			event.TenantID = &tenantID.Int64
		}
		event.ErrorDetail = errorDetail.String
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &event.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountByRequest returns the number of audit rows recorded for a request.
func (l *DBLogger) CountByRequest(ctx context.Context, requestID int64) (int64, error) {
	var count int64
	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM provisioning_audit_logs WHERE request_id = $1", requestID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return count, nil
}

// Close is a no-op: the database connection is owned by the caller.
func (l *DBLogger) Close() error {
	return nil
}
