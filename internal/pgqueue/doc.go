// Package pgqueue provides the PostgreSQL implementation of queue.Backend
// for deployments where several daemons share one queue.
//
// The schema mirrors the SQLite layout, with native TIMESTAMPTZ columns in
// place of RFC 3339 text and the same partial unique index guarding one
// active request per branch. The conditional claim and status updates are
// plain single-row UPDATEs, so every transition rule the Manager enforces
// holds identically on either backend.
package pgqueue
