package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Identity is an external authentication credential managed by the identity
// provider. This system references identities by ID only; their lifecycle
// belongs to the provider.
type Identity struct {
	ID          string    `json:"id"`
	Login       string    `json:"login"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Provider is the identity-provider surface this system consumes.
type Provider interface {
	// FindByLogin returns the identity with the given login, or ErrNotFound.
	FindByLogin(ctx context.Context, login string) (*Identity, error)

	// Create registers a new identity. It returns ErrLoginTaken when the
	// login is already registered, which callers must treat as a concurrent
	// creation rather than a failure.
	Create(ctx context.Context, login string, metadata map[string]string) (*Identity, error)

	// Delete removes an identity. Best-effort: the provider does not
	// guarantee synchronous removal.
	Delete(ctx context.Context, id string) error
}

// ErrNotFound is returned by FindByLogin when no identity has the login.
var ErrNotFound = errors.New("identity not found")

// ErrLoginTaken is returned by Create when the login already exists at the
// provider.
var ErrLoginTaken = errors.New("login already taken")

// TransientError wraps a provider failure that is worth retrying: network
// errors, timeouts, and 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient identity provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// CreationFailedError reports that identity creation did not converge within
// the configured attempt budget.
type CreationFailedError struct {
	Login    string
	Attempts uint64
	Err      error
}

func (e *CreationFailedError) Error() string {
	return fmt.Sprintf("identity creation for %q failed after %d attempts: %v", e.Login, e.Attempts, e.Err)
}

func (e *CreationFailedError) Unwrap() error {
	return e.Err
}

// IsCreationFailed reports whether err is a retry-exhausted identity
// creation failure.
func IsCreationFailed(err error) bool {
	var ce *CreationFailedError
	return errors.As(err, &ce)
}
