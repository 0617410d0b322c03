// Package janitor runs the scheduled background sweeps that keep the
// provisioning ledger honest.
//
// Two sweeps run on cron schedules:
//
//   - Identity cleanup: identities created in the external provider during
//     attempts that later rolled back are flagged in the cleanup queue. The
//     sweep retries their removal with bounded attempts; entries that
//     exhaust the attempt budget stay flagged for manual cleanup.
//
//   - Stale request expiry: requests stuck in a non-terminal state past a
//     configured age are failed so pollers and idempotent replays get a
//     terminal answer even when the original attempt died mid-flight.
//
// Sweeps never hold locks and are safe to run on a single instance alongside
// the API server.
package janitor
