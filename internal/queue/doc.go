// Package queue persists branch/PR work requests and drives their lifecycle.
//
// The Store manages the SQLite database: schema migrations, request rows, the
// append-only audit log, and the conditional-update primitives that make
// concurrent claiming safe. The Manager layers the state machine on top of a
// storage Backend: submission with duplicate-branch guarding, atomic claiming
// in priority order, terminal transitions with bounded automatic retry, stale
// claim recovery, health classification, and retention sweeps.
//
// All writes to work_requests flow through the Manager so the transition
// rules live in one place. Claims and terminal transitions are single
// conditional UPDATE statements guarded by the current status; losing a race
// affects zero rows and the caller re-selects or reports a conflict.
//
// Timestamps are stored as RFC3339Nano TEXT in UTC. The Store never reads the
// wall clock; the Manager stamps every mutation so tests can age rows by
// swapping the clock.
package queue
