// Package tenants is the relational store for tenant provisioning.
//
// # Overview
//
// The store owns three concerns:
//
//   - The atomic record writer: ProvisionTenantAtomic commits the tenant row
//     and every dependent record (feature defaults, seed configuration,
//     schedule rows) in one transaction, or none of them.
//   - The availability check: IsSlugAvailable consults every table that
//     independently records slug usage, concurrently, as an advisory fast
//     path in front of the unique constraint.
//   - The provisioning-request ledger: the durable idempotency record, one
//     row per idempotency key, claimed atomically by its unique constraint.
//
// # Error translation
//
// Postgres integrity failures surface as typed errors the orchestrator can
// map to caller-visible codes: DuplicateSlugError for a slug uniqueness
// violation, InvalidReferenceError for a missing reference inside the
// payload, ConstraintViolationError for anything else in the integrity
// class. Unrecognized errors pass through untranslated with full detail for
// the audit trail.
//
// # Reservations
//
// Reservations adds an optional Redis fast path claiming a slug for the
// lifetime of an attempt. It is purely an optimization: the database
// constraint remains the final authority.
package tenants
