package tenants

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestRows(now time.Time, status RequestStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "idempotency_key", "requesting_admin_id", "tenant_name", "candidate_slug",
		"owner_login", "owner_display_name", "configuration", "status",
		"tenant_id", "slug", "owner_identity_id", "error_code", "error_message",
		"created_at", "completed_at", "duration_ms",
	}).AddRow(
		int64(1), "abc-1", "admin-9", "Golden Spoon", "Golden Spoon!!",
		"owner@example.com", "Owner", []byte(`{"theme":"dark"}`), string(status),
		int64(42), "golden-spoon", "idp-1", nil, nil,
		now, now, int64(1500),
	)
}

func TestCreateRequest(t *testing.T) {
	t.Run("claims the idempotency key", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		now := time.Now()

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tenant_requests")).
			WithArgs("abc-1", "admin-9", "Golden Spoon", "Golden Spoon!!",
				"owner@example.com", "Owner", []byte(`{"theme":"dark"}`), string(StatusPending)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), now))

		req := &ProvisioningRequest{
			IdempotencyKey:    "abc-1",
			RequestingAdminID: "admin-9",
			TenantName:        "Golden Spoon",
			CandidateSlug:     "Golden Spoon!!",
			OwnerLogin:        "owner@example.com",
			OwnerDisplayName:  "Owner",
			Configuration:     map[string]string{"theme": "dark"},
		}
		require.NoError(t, store.CreateRequest(context.Background(), req))
		assert.Equal(t, int64(1), req.ID)
		assert.Equal(t, StatusPending, req.Status)
	})

	t.Run("duplicate key maps to ErrDuplicateKey", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tenant_requests")).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "tenant_requests_idempotency_key_key"})

		err := store.CreateRequest(context.Background(), &ProvisioningRequest{IdempotencyKey: "abc-1"})
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})
}

func TestGetRequestByKey(t *testing.T) {
	t.Run("loads and caches terminal outcomes", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		now := time.Now()

		mock.ExpectQuery("SELECT .+ FROM tenant_requests WHERE idempotency_key").
			WithArgs("abc-1").
			WillReturnRows(requestRows(now, StatusCompleted))

		req, err := store.GetRequestByKey(context.Background(), "abc-1")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, req.Status)
		assert.Equal(t, "golden-spoon", req.Slug)
		require.NotNil(t, req.TenantID)
		assert.Equal(t, int64(42), *req.TenantID)
		assert.Equal(t, map[string]string{"theme": "dark"}, req.Configuration)

		// Second lookup must be served from the cache: no second query is
		// expected on the mock.
		cached, err := store.GetRequestByKey(context.Background(), "abc-1")
		require.NoError(t, err)
		assert.Equal(t, req, cached)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("does not cache non-terminal requests", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		now := time.Now()

		mock.ExpectQuery("SELECT .+ FROM tenant_requests WHERE idempotency_key").
			WillReturnRows(requestRows(now, StatusWritingRecords))
		mock.ExpectQuery("SELECT .+ FROM tenant_requests WHERE idempotency_key").
			WillReturnRows(requestRows(now, StatusCompleted))

		first, err := store.GetRequestByKey(context.Background(), "abc-1")
		require.NoError(t, err)
		assert.False(t, first.Status.Terminal())

		second, err := store.GetRequestByKey(context.Background(), "abc-1")
		require.NoError(t, err)
		assert.True(t, second.Status.Terminal())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown key", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		mock.ExpectQuery("SELECT .+ FROM tenant_requests WHERE idempotency_key").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.GetRequestByKey(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrRequestNotFound)
	})
}

func TestRequestStatusTransitions(t *testing.T) {
	t.Run("set status", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE tenant_requests SET status")).
			WithArgs(string(StatusValidating), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, store.SetRequestStatus(context.Background(), 1, StatusValidating))
	})

	t.Run("set status on unknown request", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE tenant_requests SET status")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, store.SetRequestStatus(context.Background(), 99, StatusValidating), ErrRequestNotFound)
	})

	t.Run("record sanitized slug", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE tenant_requests SET slug")).
			WithArgs("golden-spoon", int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, store.SetRequestSlug(context.Background(), 1, "golden-spoon"))
	})

	t.Run("rolled back carries the error outcome", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		mock.ExpectExec("UPDATE tenant_requests").
			WithArgs(string(StatusRolledBack), "DuplicateSlug", "slug \"golden-spoon\" is already in use", int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.MarkRequestRolledBack(context.Background(), 1,
			"DuplicateSlug", "slug \"golden-spoon\" is already in use")
		assert.NoError(t, err)
	})

	t.Run("complete", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		mock.ExpectExec("UPDATE tenant_requests").
			WithArgs(string(StatusCompleted), int64(42), "golden-spoon", "idp-1", int64(1500), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.CompleteRequest(context.Background(), 1, 42, "golden-spoon", "idp-1", 1500*time.Millisecond)
		assert.NoError(t, err)
	})

	t.Run("fail", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		mock.ExpectExec("UPDATE tenant_requests").
			WithArgs(string(StatusFailed), "DuplicateSlug", "slug \"golden-spoon\" is already in use", int64(320), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.FailRequest(context.Background(), 1, "DuplicateSlug", "slug \"golden-spoon\" is already in use", 320*time.Millisecond)
		assert.NoError(t, err)
	})
}

func TestExpireStaleRequests(t *testing.T) {
	store, mock, _ := setupStore(t)
	mock.ExpectExec("UPDATE tenant_requests").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.ExpireStaleRequests(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestIdentityCleanupQueue(t *testing.T) {
	t.Run("enqueue", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO identity_cleanup_queue")).
			WithArgs("idp-1", "owner@example.com", int64(1)).
			WillReturnResult(sqlmock.NewResult(1, 1))

		assert.NoError(t, store.EnqueueIdentityCleanup(context.Background(), "idp-1", "owner@example.com", 1))
	})

	t.Run("pending and resolve", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		now := time.Now()
		mock.ExpectQuery("SELECT .+ FROM identity_cleanup_queue").
			WithArgs(10).
			WillReturnRows(sqlmock.NewRows([]string{"id", "identity_id", "login", "request_id", "attempts", "created_at", "resolved_at"}).
				AddRow(int64(5), "idp-1", "owner@example.com", int64(1), 2, now, nil))
		mock.ExpectExec("UPDATE identity_cleanup_queue SET resolved_at").
			WithArgs(int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		pending, err := store.PendingIdentityCleanups(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "idp-1", pending[0].IdentityID)
		assert.Equal(t, 2, pending[0].Attempts)
		assert.Nil(t, pending[0].ResolvedAt)

		assert.NoError(t, store.ResolveIdentityCleanup(context.Background(), 5))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
