// Package daemon coordinates the long-running SnowTower process.
//
// It wires configuration, the queue manager, the worker pool, and the sweep
// scheduler into a single lifecycle with flock-based locking to prevent
// multiple instances. The daemon also exposes the queue facade the IPC
// server hands to the CLI: submissions, claims, maintenance sweeps, and
// status snapshots all pass through here.
//
// Keep orchestration logic here: queue semantics live in internal/queue and
// the daemon focuses on startup, shutdown, and high level coordination.
package daemon
