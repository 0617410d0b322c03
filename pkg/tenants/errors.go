package tenants

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// ErrDuplicateKey is returned when a provisioning request's idempotency key
// is already claimed.
var ErrDuplicateKey = errors.New("idempotency key already exists")

// ErrRequestNotFound is returned when no provisioning request matches.
var ErrRequestNotFound = errors.New("provisioning request not found")

// DuplicateSlugError reports a uniqueness violation on the tenant slug
// discovered at write time.
type DuplicateSlugError struct {
	Slug string
}

func (e *DuplicateSlugError) Error() string {
	return fmt.Sprintf("slug %q is already in use", e.Slug)
}

// IsDuplicateSlug reports whether err is a slug uniqueness violation.
func IsDuplicateSlug(err error) bool {
	var de *DuplicateSlugError
	return errors.As(err, &de)
}

// InvalidReferenceError reports a missing-reference violation inside the
// provisioning payload, such as an unknown category id.
type InvalidReferenceError struct {
	Detail string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid reference in tenant data: %s", e.Detail)
}

// IsInvalidReference reports whether err is a referential-integrity failure.
func IsInvalidReference(err error) bool {
	var ie *InvalidReferenceError
	return errors.As(err, &ie)
}

// ConstraintViolationError reports an integrity-constraint failure other
// than a duplicate slug or missing reference.
type ConstraintViolationError struct {
	Constraint string
	Err        error
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint %q violated: %v", e.Constraint, e.Err)
}

func (e *ConstraintViolationError) Unwrap() error {
	return e.Err
}

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqIntegrityClass      = "23"
)

// translateWriteError maps a failed atomic write to the typed errors the
// orchestrator knows how to report. Anything unrecognized passes through
// with full detail preserved for audit.
func translateWriteError(err error, slug string) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case pqUniqueViolation:
		if strings.Contains(pqErr.Constraint, "slug") {
			return &DuplicateSlugError{Slug: slug}
		}
		return &ConstraintViolationError{Constraint: pqErr.Constraint, Err: pqErr}
	case pqForeignKeyViolation:
		detail := pqErr.Detail
		if detail == "" {
			detail = pqErr.Message
		}
		return &InvalidReferenceError{Detail: detail}
	}
	if pqErr.Code.Class() == pqIntegrityClass {
		return &ConstraintViolationError{Constraint: pqErr.Constraint, Err: pqErr}
	}
	return err
}
