package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// CreateRequest inserts a new provisioning request in pending state. The
// unique constraint on idempotency_key makes the insert the atomic claim on
// the key: a second caller racing on the same key receives ErrDuplicateKey.
func (s *Store) CreateRequest(ctx context.Context, req *ProvisioningRequest) error {
	configJSON, err := json.Marshal(req.Configuration)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO tenant_requests (
			idempotency_key, requesting_admin_id, tenant_name, candidate_slug,
			owner_login, owner_display_name, configuration, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, req.IdempotencyKey, req.RequestingAdminID, req.TenantName, req.CandidateSlug,
		req.OwnerLogin, req.OwnerDisplayName, configJSON, StatusPending,
	).Scan(&req.ID, &req.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create provisioning request: %w", err)
	}

	req.Status = StatusPending
	return nil
}

const requestColumns = `
	id, idempotency_key, requesting_admin_id, tenant_name, candidate_slug,
	owner_login, owner_display_name, configuration, status,
	tenant_id, slug, owner_identity_id, error_code, error_message,
	created_at, completed_at, duration_ms
`

// GetRequestByKey retrieves a request by idempotency key. Terminal outcomes
// are served from an in-memory cache so replayed requests skip the database.
func (s *Store) GetRequestByKey(ctx context.Context, key string) (*ProvisioningRequest, error) {
	if cached, ok := s.cache.Get(key); ok {
		s.cacheHit(true)
		return cached, nil
	}
	s.cacheHit(false)

	req, err := s.scanRequest(s.db.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM tenant_requests WHERE idempotency_key = $1", key))
	if err != nil {
		return nil, err
	}

	if req.Status.Terminal() {
		s.cache.Add(key, req)
	}
	return req, nil
}

// GetRequestByID retrieves a request by its ID.
func (s *Store) GetRequestByID(ctx context.Context, id int64) (*ProvisioningRequest, error) {
	return s.scanRequest(s.db.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM tenant_requests WHERE id = $1", id))
}

func (s *Store) scanRequest(row *sql.Row) (*ProvisioningRequest, error) {
	req := &ProvisioningRequest{}
	var configJSON []byte
	var displayName, slug, identityID, errorCode, errorMessage sql.NullString
	var tenantID, durationMS sql.NullInt64
	var completedAt sql.NullTime

	err := row.Scan(
		&req.ID, &req.IdempotencyKey, &req.RequestingAdminID, &req.TenantName,
		&req.CandidateSlug, &req.OwnerLogin, &displayName, &configJSON, &req.Status,
		&tenantID, &slug, &identityID, &errorCode, &errorMessage,
		&req.CreatedAt, &completedAt, &durationMS,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load provisioning request: %w", err)
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &req.Configuration); err != nil {
			return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
		}
	}
	req.OwnerDisplayName = displayName.String
	req.Slug = slug.String
	req.OwnerIdentityID = identityID.String
	req.ErrorCode = errorCode.String
	req.ErrorMessage = errorMessage.String
	if tenantID.Valid {
		req.TenantID = &tenantID.Int64
	}
	if completedAt.Valid {
		t := completedAt.Time
		req.CompletedAt = &t
	}
	req.DurationMS = durationMS.Int64

	return req, nil
}

// SetRequestStatus records a non-terminal state transition.
func (s *Store) SetRequestStatus(ctx context.Context, id int64, status RequestStatus) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tenant_requests SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// SetRequestSlug records the sanitized slug on the ledger row. The
// record-of-intent leg of the availability check matches on this column,
// so it must be written before that check runs.
func (s *Store) SetRequestSlug(ctx context.Context, id int64, slug string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tenant_requests SET slug = $1 WHERE id = $2", slug, id)
	if err != nil {
		return fmt.Errorf("failed to record sanitized slug: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// MarkRequestRolledBack records the rolled_back transition together with
// its error outcome. Carrying the error here means a crash before the
// final failed update still leaves a row that replays with a meaningful
// error code.
func (s *Store) MarkRequestRolledBack(ctx context.Context, id int64, errorCode, errorMessage string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tenant_requests
		SET status = $1, error_code = $2, error_message = $3
		WHERE id = $4
	`, StatusRolledBack, errorCode, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to mark request rolled back: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// CompleteRequest records a successful terminal outcome.
func (s *Store) CompleteRequest(ctx context.Context, id int64, tenantID int64, slug, ownerIdentityID string, duration time.Duration) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tenant_requests
		SET status = $1, tenant_id = $2, slug = $3, owner_identity_id = $4,
		    completed_at = NOW(), duration_ms = $5
		WHERE id = $6
	`, StatusCompleted, tenantID, slug, ownerIdentityID, duration.Milliseconds(), id)
	if err != nil {
		return fmt.Errorf("failed to complete request: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// FailRequest records a failed terminal outcome.
func (s *Store) FailRequest(ctx context.Context, id int64, errorCode, errorMessage string, duration time.Duration) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tenant_requests
		SET status = $1, error_code = $2, error_message = $3,
		    completed_at = NOW(), duration_ms = $4
		WHERE id = $5
	`, StatusFailed, errorCode, errorMessage, duration.Milliseconds(), id)
	if err != nil {
		return fmt.Errorf("failed to mark request failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// ExpireStaleRequests fails requests stuck in a non-terminal state longer
// than maxAge, so callers polling for a terminal outcome eventually get one
// even when an attempt died mid-flight.
func (s *Store) ExpireStaleRequests(ctx context.Context, maxAge time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tenant_requests
		SET status = $1, error_code = 'Unknown',
		    error_message = 'request expired without reaching a terminal state',
		    completed_at = NOW()
		WHERE status NOT IN ($2, $3, $4)
		  AND created_at < NOW() - ($5 * INTERVAL '1 second')
	`, StatusFailed, StatusCompleted, StatusFailed, StatusRolledBack, int64(maxAge.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale requests: %w", err)
	}
	return result.RowsAffected()
}

// EnqueueIdentityCleanup flags an externally created identity for
// best-effort removal after a failed attempt.
func (s *Store) EnqueueIdentityCleanup(ctx context.Context, identityID, login string, requestID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity_cleanup_queue (identity_id, login, request_id)
		VALUES ($1, $2, $3)
	`, identityID, login, requestID)
	if err != nil {
		return fmt.Errorf("failed to enqueue identity cleanup: %w", err)
	}
	return nil
}

// PendingIdentityCleanups returns unresolved cleanup entries, oldest first.
func (s *Store) PendingIdentityCleanups(ctx context.Context, limit int) ([]*IdentityCleanup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity_id, login, request_id, attempts, created_at, resolved_at
		FROM identity_cleanup_queue
		WHERE resolved_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list identity cleanups: %w", err)
	}
	defer rows.Close()

	var cleanups []*IdentityCleanup
	for rows.Next() {
		c := &IdentityCleanup{}
		var resolvedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.IdentityID, &c.Login, &c.RequestID, &c.Attempts, &c.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan identity cleanup: %w", err)
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			c.ResolvedAt = &t
		}
		cleanups = append(cleanups, c)
	}
	return cleanups, rows.Err()
}

// ResolveIdentityCleanup marks a cleanup entry done.
func (s *Store) ResolveIdentityCleanup(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE identity_cleanup_queue SET resolved_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to resolve identity cleanup: %w", err)
	}
	return nil
}

// BumpIdentityCleanupAttempt increments the attempt counter after a failed
// removal.
func (s *Store) BumpIdentityCleanupAttempt(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE identity_cleanup_queue SET attempts = attempts + 1 WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to bump cleanup attempt: %w", err)
	}
	return nil
}
