package tenants

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func existsRows(exists bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"exists"}).AddRow(exists)
}

// Availability checks run concurrently, so expectations cannot assume an
// order.
func setupAvailabilityStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	store, err := NewStore(db, nil)
	require.NoError(t, err)
	return store, mock
}

func TestIsSlugAvailable(t *testing.T) {
	t.Run("available when absent everywhere", func(t *testing.T) {
		store, mock := setupAvailabilityStore(t)
		mock.ExpectQuery("SELECT EXISTS .+ FROM tenants WHERE").WillReturnRows(existsRows(false))
		mock.ExpectQuery("SELECT EXISTS .+ FROM retired_tenants WHERE").WillReturnRows(existsRows(false))
		mock.ExpectQuery("FROM tenant_requests").WillReturnRows(existsRows(false))

		available, err := store.IsSlugAvailable(context.Background(), "golden-spoon", 1)
		require.NoError(t, err)
		assert.True(t, available)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("taken in primary table", func(t *testing.T) {
		store, mock := setupAvailabilityStore(t)
		mock.ExpectQuery("SELECT EXISTS .+ FROM tenants WHERE").WillReturnRows(existsRows(true))
		mock.ExpectQuery("SELECT EXISTS .+ FROM retired_tenants WHERE").WillReturnRows(existsRows(false))
		mock.ExpectQuery("FROM tenant_requests").WillReturnRows(existsRows(false))

		available, err := store.IsSlugAvailable(context.Background(), "golden-spoon", 1)
		require.NoError(t, err)
		assert.False(t, available)
	})

	t.Run("taken only in historical table", func(t *testing.T) {
		// A slug retired from active use is still unavailable: checking only
		// the primary table would produce a false negative that later
		// surfaces as a constraint violation elsewhere.
		store, mock := setupAvailabilityStore(t)
		mock.ExpectQuery("SELECT EXISTS .+ FROM tenants WHERE").WillReturnRows(existsRows(false))
		mock.ExpectQuery("SELECT EXISTS .+ FROM retired_tenants WHERE").WillReturnRows(existsRows(true))
		mock.ExpectQuery("FROM tenant_requests").WillReturnRows(existsRows(false))

		available, err := store.IsSlugAvailable(context.Background(), "golden-spoon", 1)
		require.NoError(t, err)
		assert.False(t, available)
	})

	t.Run("taken by an in-flight request", func(t *testing.T) {
		store, mock := setupAvailabilityStore(t)
		mock.ExpectQuery("SELECT EXISTS .+ FROM tenants WHERE").WillReturnRows(existsRows(false))
		mock.ExpectQuery("SELECT EXISTS .+ FROM retired_tenants WHERE").WillReturnRows(existsRows(false))
		mock.ExpectQuery("FROM tenant_requests").WillReturnRows(existsRows(true))

		available, err := store.IsSlugAvailable(context.Background(), "golden-spoon", 1)
		require.NoError(t, err)
		assert.False(t, available)
	})

	t.Run("ledger check binds the sanitized slug column", func(t *testing.T) {
		// In-flight rows store the raw candidate ("Golden Spoon!!") in
		// candidate_slug; the record-of-intent check has to match on the
		// sanitized slug recorded at validation or it never sees them.
		store, mock := setupAvailabilityStore(t)
		mock.ExpectQuery("SELECT EXISTS .+ FROM tenants WHERE").WillReturnRows(existsRows(false))
		mock.ExpectQuery("SELECT EXISTS .+ FROM retired_tenants WHERE").WillReturnRows(existsRows(false))
		mock.ExpectQuery(`FROM tenant_requests\s+WHERE slug =`).
			WithArgs("golden-spoon", int64(7)).
			WillReturnRows(existsRows(true))

		available, err := store.IsSlugAvailable(context.Background(), "golden-spoon", 7)
		require.NoError(t, err)
		assert.False(t, available)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure propagates", func(t *testing.T) {
		store, mock := setupAvailabilityStore(t)
		boom := errors.New("connection lost")
		mock.ExpectQuery("SELECT EXISTS .+ FROM tenants WHERE").WillReturnError(boom)
		mock.ExpectQuery("SELECT EXISTS .+ FROM retired_tenants WHERE").WillReturnRows(existsRows(false))
		mock.ExpectQuery("FROM tenant_requests").WillReturnRows(existsRows(false))

		_, err := store.IsSlugAvailable(context.Background(), "golden-spoon", 1)
		assert.Error(t, err)
	})

	t.Run("custom authority tables are consulted", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		mock.MatchExpectationsInOrder(false)

		store, err := NewStore(db, []AuthorityTable{
			{Table: "tenants", Column: "slug"},
			{Table: "legacy_workspaces", Column: "short_name"},
		})
		require.NoError(t, err)

		mock.ExpectQuery("SELECT EXISTS .+ FROM tenants WHERE slug").WillReturnRows(existsRows(false))
		mock.ExpectQuery("SELECT EXISTS .+ FROM legacy_workspaces WHERE short_name").WillReturnRows(existsRows(false))
		mock.ExpectQuery("FROM tenant_requests").WillReturnRows(existsRows(false))

		available, err := store.IsSlugAvailable(context.Background(), "golden-spoon", 1)
		require.NoError(t, err)
		assert.True(t, available)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
