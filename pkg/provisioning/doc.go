// Package provisioning implements the tenant provisioning orchestrator.
//
// A provisioning request creates an external owner identity and a set of
// relational records (tenant row, feature defaults, seed configuration,
// schedules) as one logical operation. The two systems share no
// transaction boundary, so the orchestrator provides the atomicity
// guarantee itself:
//
//   - The relational side is a single database transaction; it either
//     fully commits or leaves zero records.
//   - The identity side is convergent rather than transactional: lookups
//     and uniqueness enforcement at the provider make concurrent requests
//     for the same login resolve to one identity.
//   - When the relational write fails after an identity was created, the
//     orchestrator compensates: one best-effort delete, plus a durable
//     cleanup-queue entry flagged manual_cleanup_required.
//
// Requests are idempotent. The unique idempotency key is claimed by
// inserting the ledger row; resubmission with the same key replays the
// stored terminal outcome with zero side effects, and a key whose attempt
// is still running yields InProgressError so the caller polls instead of
// retrying.
//
// Every state transition is recorded in the append-only audit log, and
// only this package translates lower-level typed errors into the
// caller-visible error codes.
package provisioning
