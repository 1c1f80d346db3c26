// Package preflight validates the runtime environment before the daemon
// starts taking work: directory permissions, the queue database, the
// external publish command, and the API listen address. Check results are
// plain pass/fail records so the daemon and the CLI status view can render
// them without interpreting errors.
package preflight
