// Package audit durably records every provisioning stage transition.
//
// One Event is appended per transition, success or failure, holding a
// payload snapshot and timing. Rows are never mutated after insert and no
// mutation API exists; the only surface is the Logger interface for writers
// and a filtered query endpoint for operators.
//
// Three Logger implementations mirror common deployments: DBLogger writes
// to PostgreSQL (the normal case, and the store behind the query API),
// FileLogger writes rotated JSON lines, and MultiLogger fans out to both.
//
// DBLogger additionally records the per-attempt aggregate
// (provisioning_metrics): duration, success flag, retry count, and failure
// reason, written once when an attempt reaches a terminal state.
package audit
