package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stackmason/tenantd/pkg/observability"
)

// requestCacheSize bounds the in-memory cache of terminal request outcomes
// used to serve idempotent replays without a database round trip.
const requestCacheSize = 1024

// AuthorityTable names a table that independently records slug usage. Every
// authority is consulted by the availability check; the list is deployment
// configuration, not a compiled-in contract, because subsystems have
// historically grown their own record-of-intent tables.
type AuthorityTable struct {
	Table  string `yaml:"table"`
	Column string `yaml:"column"`
}

// DefaultAuthorityTables is the authority list used when configuration does
// not supply one.
func DefaultAuthorityTables() []AuthorityTable {
	return []AuthorityTable{
		{Table: "tenants", Column: "slug"},
		{Table: "retired_tenants", Column: "slug"},
	}
}

// Store provides Postgres-backed tenant and provisioning-request
// persistence.
type Store struct {
	db          *sql.DB
	mu          sync.RWMutex
	authorities []AuthorityTable
	cache       *lru.Cache[string, *ProvisioningRequest]
	metrics     *observability.Metrics
}

// NewStore creates a Store. An empty authorities slice falls back to
// DefaultAuthorityTables.
func NewStore(db *sql.DB, authorities []AuthorityTable) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if len(authorities) == 0 {
		authorities = DefaultAuthorityTables()
	}
	cache, err := lru.New[string, *ProvisioningRequest](requestCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create request cache: %w", err)
	}
	return &Store{db: db, authorities: authorities, cache: cache}, nil
}

// SetMetrics attaches Prometheus metrics for request-cache instrumentation.
func (s *Store) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

func (s *Store) cacheHit(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.RequestCacheHitsTotal.Inc()
	} else {
		s.metrics.RequestCacheMissesTotal.Inc()
	}
}

// SetAuthorities swaps the authority table list. Used on rules-file hot
// reload; an availability check in flight keeps the list it started with.
func (s *Store) SetAuthorities(authorities []AuthorityTable) {
	if len(authorities) == 0 {
		return
	}
	s.mu.Lock()
	s.authorities = authorities
	s.mu.Unlock()
}

func (s *Store) authorityList() []AuthorityTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorities
}

// EnsureSchema creates the tables this store depends on if they do not
// exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS config_categories (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS tenants (
		id BIGSERIAL PRIMARY KEY,
		slug VARCHAR(63) NOT NULL,
		name VARCHAR(255) NOT NULL,
		owner_identity_id VARCHAR(255),
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		CONSTRAINT tenants_slug_key UNIQUE (slug)
	);

	CREATE TABLE IF NOT EXISTS retired_tenants (
		id BIGSERIAL PRIMARY KEY,
		slug VARCHAR(63) NOT NULL,
		retired_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS tenant_feature_defaults (
		id BIGSERIAL PRIMARY KEY,
		tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		feature VARCHAR(100) NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS tenant_seed_config (
		id BIGSERIAL PRIMARY KEY,
		tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		key VARCHAR(255) NOT NULL,
		value TEXT,
		category_id BIGINT REFERENCES config_categories(id)
	);

	CREATE TABLE IF NOT EXISTS tenant_schedules (
		id BIGSERIAL PRIMARY KEY,
		tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		name VARCHAR(100) NOT NULL,
		cron_expr VARCHAR(100) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS tenant_requests (
		id BIGSERIAL PRIMARY KEY,
		idempotency_key VARCHAR(128) NOT NULL,
		requesting_admin_id VARCHAR(128) NOT NULL,
		tenant_name VARCHAR(255) NOT NULL,
		candidate_slug VARCHAR(255) NOT NULL,
		owner_login VARCHAR(255) NOT NULL,
		owner_display_name VARCHAR(255),
		configuration JSONB,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		tenant_id BIGINT,
		slug VARCHAR(63),
		owner_identity_id VARCHAR(255),
		error_code VARCHAR(50),
		error_message TEXT,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		completed_at TIMESTAMP WITH TIME ZONE,
		duration_ms BIGINT,
		CONSTRAINT tenant_requests_idempotency_key_key UNIQUE (idempotency_key)
	);

	CREATE TABLE IF NOT EXISTS identity_cleanup_queue (
		id BIGSERIAL PRIMARY KEY,
		identity_id VARCHAR(255) NOT NULL,
		login VARCHAR(255) NOT NULL,
		request_id BIGINT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		resolved_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_tenant_requests_status ON tenant_requests(status);
	CREATE INDEX IF NOT EXISTS idx_tenant_requests_slug ON tenant_requests(slug);
	CREATE INDEX IF NOT EXISTS idx_retired_tenants_slug ON retired_tenants(slug);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure tenant schema: %w", err)
	}
	return nil
}

// defaultFeatures is the feature set every new tenant starts with.
var defaultFeatures = []string{
	"dashboard",
	"member_invites",
	"api_access",
	"usage_reports",
}

// defaultSchedules are the recurring jobs seeded for every new tenant.
var defaultSchedules = []struct {
	name string
	expr string
}{
	{"daily_digest", "0 7 * * *"},
	{"usage_rollup", "30 0 * * *"},
}

// ProvisionTenantAtomic creates the tenant row and every dependent record in
// a single transaction: feature defaults, seed configuration, and schedule
// rows commit together or not at all. Uniqueness and referential failures
// are translated to typed errors; the database constraint is the final
// authority on slug uniqueness regardless of any earlier advisory check.
func (s *Store) ProvisionTenantAtomic(ctx context.Context, data TenantData, ownerIdentityID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var tenantID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tenants (slug, name, owner_identity_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, data.Slug, data.Name, ownerIdentityID, TenantStatusActive).Scan(&tenantID)
	if err != nil {
		return 0, translateWriteError(err, data.Slug)
	}

	for _, feature := range defaultFeatures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tenant_feature_defaults (tenant_id, feature, enabled)
			VALUES ($1, $2, TRUE)
		`, tenantID, feature); err != nil {
			return 0, translateWriteError(err, data.Slug)
		}
	}

	for key, value := range data.Configuration {
		var categoryID *int64
		if key == "category_id" {
			id, convErr := strconv.ParseInt(value, 10, 64)
			if convErr != nil {
				return 0, &InvalidReferenceError{Detail: fmt.Sprintf("category_id %q is not numeric", value)}
			}
			categoryID = &id
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tenant_seed_config (tenant_id, key, value, category_id)
			VALUES ($1, $2, $3, $4)
		`, tenantID, key, value, categoryID); err != nil {
			return 0, translateWriteError(err, data.Slug)
		}
	}

	for _, sched := range defaultSchedules {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tenant_schedules (tenant_id, name, cron_expr)
			VALUES ($1, $2, $3)
		`, tenantID, sched.name, sched.expr); err != nil {
			return 0, translateWriteError(err, data.Slug)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, translateWriteError(err, data.Slug)
	}

	return tenantID, nil
}

// GetTenant retrieves a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	t := &Tenant{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, owner_identity_id, status, created_at
		FROM tenants
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Slug, &t.Name, &t.OwnerIdentityID, &t.Status, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// GetTenantBySlug retrieves a tenant by slug.
func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	t := &Tenant{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, owner_identity_id, status, created_at
		FROM tenants
		WHERE slug = $1
	`, slug).Scan(&t.ID, &t.Slug, &t.Name, &t.OwnerIdentityID, &t.Status, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant %q not found", slug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}
