package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stackmason/tenantd/pkg/retry"
)

// EnsureResult is the outcome of EnsureOwnerIdentity.
type EnsureResult struct {
	// ID of the identity the login converged on.
	ID string
	// Created is true when this call created the identity, false when it
	// discovered a pre-existing one. The orchestrator uses this to decide
	// whether compensation applies on a later failure.
	Created bool
	// Attempts is the number of create attempts made.
	Attempts uint64
}

// Ensurer creates or discovers the owner identity for a login, converging
// with concurrent callers racing on the same login.
type Ensurer struct {
	provider      Provider
	policy        retry.Policy
	conflictDelay time.Duration
}

// NewEnsurer creates an Ensurer using the given retry policy for transient
// provider failures.
func NewEnsurer(provider Provider, policy retry.Policy) *Ensurer {
	return &Ensurer{
		provider:      provider,
		policy:        policy,
		conflictDelay: 50 * time.Millisecond,
	}
}

// EnsureOwnerIdentity returns the identity ID for login, creating the
// identity if it does not exist.
//
// Identity creation and the caller's availability check are not
// transactionally linked, so a concurrent request may create the login
// between our lookup and our create. That surfaces as ErrLoginTaken, which
// is resolved by re-querying: both requests converge on the same identity
// instead of one failing. Transient provider failures are retried under the
// configured policy; exhaustion yields a CreationFailedError.
func (e *Ensurer) EnsureOwnerIdentity(ctx context.Context, login string, metadata map[string]string) (*EnsureResult, error) {
	// Idempotent short-circuit: the identity may already exist.
	existing, err := e.provider.FindByLogin(ctx, login)
	if err == nil {
		return &EnsureResult{ID: existing.ID, Created: false}, nil
	}
	if !errors.Is(err, ErrNotFound) && !IsTransient(err) {
		return nil, fmt.Errorf("identity lookup for %q failed: %w", login, err)
	}
	// A transient lookup failure falls through to the create loop, which
	// carries the retry budget.

	var result *EnsureResult
	attempts, err := e.policy.Do(ctx, func() error {
		ident, createErr := e.provider.Create(ctx, login, metadata)
		if createErr == nil {
			result = &EnsureResult{ID: ident.ID, Created: true}
			return nil
		}

		if errors.Is(createErr, ErrLoginTaken) {
			// Lost the race: another request created this login between our
			// lookup and create. Back off briefly and adopt theirs.
			ident, lookupErr := e.requeryAfterConflict(ctx, login)
			if lookupErr != nil {
				return lookupErr
			}
			result = &EnsureResult{ID: ident.ID, Created: false}
			return nil
		}

		if IsTransient(createErr) {
			return createErr
		}
		return retry.Permanent(createErr)
	})

	if err != nil {
		return nil, &CreationFailedError{Login: login, Attempts: attempts, Err: err}
	}
	result.Attempts = attempts
	return result, nil
}

// requeryAfterConflict waits briefly then re-queries the login. The provider
// admitted the login exists, so not finding it yet is treated as transient
// (the provider may be eventually consistent across replicas).
func (e *Ensurer) requeryAfterConflict(ctx context.Context, login string) (*Identity, error) {
	select {
	case <-time.After(e.conflictDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ident, err := e.provider.FindByLogin(ctx, login)
	if err == nil {
		return ident, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, &TransientError{Err: fmt.Errorf("login %q taken but not yet visible", login)}
	}
	return nil, err
}
