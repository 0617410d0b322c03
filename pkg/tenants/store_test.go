package tenants

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, nil)
	require.NoError(t, err)
	return store, mock, db
}

func TestNewStore(t *testing.T) {
	t.Run("nil database", func(t *testing.T) {
		store, err := NewStore(nil, nil)
		assert.Error(t, err)
		assert.Nil(t, store)
	})

	t.Run("defaults authority tables", func(t *testing.T) {
		store, _, _ := setupStore(t)
		assert.Equal(t, DefaultAuthorityTables(), store.authorities)
	})
}

func TestEnsureSchema(t *testing.T) {
	store, mock, _ := setupStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS config_categories").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectDependentInserts(mock sqlmock.Sqlmock, tenantID int64, configRows int) {
	for range defaultFeatures {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tenant_feature_defaults")).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	for i := 0; i < configRows; i++ {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tenant_seed_config")).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	for range defaultSchedules {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tenant_schedules")).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
}

func TestProvisionTenantAtomic(t *testing.T) {
	data := TenantData{
		Name:             "Golden Spoon",
		Slug:             "golden-spoon",
		OwnerDisplayName: "Owner",
		Configuration:    map[string]string{"theme": "dark"},
	}

	t.Run("commits tenant and all dependent records", func(t *testing.T) {
		store, mock, _ := setupStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tenants")).
			WithArgs("golden-spoon", "Golden Spoon", "idp-1", string(TenantStatusActive)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
		expectDependentInserts(mock, 42, 1)
		mock.ExpectCommit()

		tenantID, err := store.ProvisionTenantAtomic(context.Background(), data, "idp-1")
		require.NoError(t, err)
		assert.Equal(t, int64(42), tenantID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate slug rolls back with typed error", func(t *testing.T) {
		store, mock, _ := setupStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tenants")).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "tenants_slug_key"})
		mock.ExpectRollback()

		_, err := store.ProvisionTenantAtomic(context.Background(), data, "idp-1")
		require.Error(t, err)
		assert.True(t, IsDuplicateSlug(err))

		var de *DuplicateSlugError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "golden-spoon", de.Slug, "error must name the conflicting slug")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown category reference rolls back with typed error", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		withCategory := data
		withCategory.Configuration = map[string]string{"category_id": "9999"}

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tenants")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
		for range defaultFeatures {
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tenant_feature_defaults")).
				WillReturnResult(sqlmock.NewResult(1, 1))
		}
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tenant_seed_config")).
			WillReturnError(&pq.Error{Code: "23503", Detail: "Key (category_id)=(9999) is not present"})
		mock.ExpectRollback()

		_, err := store.ProvisionTenantAtomic(context.Background(), withCategory, "idp-1")
		require.Error(t, err)
		assert.True(t, IsInvalidReference(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-numeric category id rejected before insert", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		bad := data
		bad.Configuration = map[string]string{"category_id": "not-a-number"}

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tenants")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
		for range defaultFeatures {
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tenant_feature_defaults")).
				WillReturnResult(sqlmock.NewResult(1, 1))
		}
		mock.ExpectRollback()

		_, err := store.ProvisionTenantAtomic(context.Background(), bad, "idp-1")
		require.Error(t, err)
		assert.True(t, IsInvalidReference(err))
	})

	t.Run("unrecognized errors pass through untranslated", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		boom := errors.New("connection reset by peer")

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tenants")).WillReturnError(boom)
		mock.ExpectRollback()

		_, err := store.ProvisionTenantAtomic(context.Background(), data, "idp-1")
		require.Error(t, err)
		assert.False(t, IsDuplicateSlug(err))
		assert.False(t, IsInvalidReference(err))
		assert.ErrorIs(t, err, boom)
	})
}

func TestTranslateWriteError(t *testing.T) {
	t.Run("unique violation on other constraint", func(t *testing.T) {
		err := translateWriteError(&pq.Error{Code: "23505", Constraint: "tenant_feature_defaults_pkey"}, "acme")
		var ce *ConstraintViolationError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "tenant_feature_defaults_pkey", ce.Constraint)
	})

	t.Run("check violation maps to constraint error", func(t *testing.T) {
		err := translateWriteError(&pq.Error{Code: "23514", Constraint: "tenants_status_check"}, "acme")
		var ce *ConstraintViolationError
		assert.ErrorAs(t, err, &ce)
	})

	t.Run("non-pq error passes through", func(t *testing.T) {
		boom := errors.New("boom")
		assert.ErrorIs(t, translateWriteError(boom, "acme"), boom)
	})
}

func TestGetTenant(t *testing.T) {
	store, mock, _ := setupStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, slug, name, owner_identity_id, status, created_at")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "name", "owner_identity_id", "status", "created_at"}).
			AddRow(int64(42), "golden-spoon", "Golden Spoon", "idp-1", "active", now))

	tenant, err := store.GetTenant(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "golden-spoon", tenant.Slug)
	require.NotNil(t, tenant.OwnerIdentityID)
	assert.Equal(t, "idp-1", *tenant.OwnerIdentityID)
}
