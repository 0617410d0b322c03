package tenants

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// IsSlugAvailable reports whether slug is unused across every authority
// table plus the provisioning-request ledger. Checks run concurrently and
// the result is the logical AND of "not found" across all of them.
//
// excludeRequestID keeps the caller's own pending request row from counting
// against it.
//
// This check is advisory: it closes the obvious race before identity
// creation begins, but the unique constraint on tenants.slug remains the
// final authority.
func (s *Store) IsSlugAvailable(ctx context.Context, slug string, excludeRequestID int64) (bool, error) {
	authorities := s.authorityList()
	g, ctx := errgroup.WithContext(ctx)
	taken := make([]bool, len(authorities)+1)

	for i, authority := range authorities {
		g.Go(func() error {
			// Table and column names come from trusted configuration, never
			// request input.
			query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)", authority.Table, authority.Column)
			var exists bool
			if err := s.db.QueryRowContext(ctx, query, slug).Scan(&exists); err != nil {
				return fmt.Errorf("availability check against %s failed: %w", authority.Table, err)
			}
			taken[i] = exists
			return nil
		})
	}

	// The request ledger is a record of intent: an in-flight request for the
	// same slug counts as usage even before any tenant row exists. Matching
	// is on the sanitized slug recorded at validation, never the raw
	// candidate, so "Golden Spoon!!" and "golden spoon" see each other.
	g.Go(func() error {
		var exists bool
		err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM tenant_requests
				WHERE slug = $1
				  AND id <> $2
				  AND status NOT IN ('failed', 'rolled_back')
			)
		`, slug, excludeRequestID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("availability check against tenant_requests failed: %w", err)
		}
		taken[len(taken)-1] = exists
		return nil
	})

	if err := g.Wait(); err != nil {
		return false, err
	}

	for _, t := range taken {
		if t {
			return false, nil
		}
	}
	return true, nil
}
