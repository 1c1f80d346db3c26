// Package ipc provides JSON-RPC control of the daemon over a Unix domain
// socket. The CLI is the only intended client: every queue operation it
// offers rides through here when a daemon is running, so CLI and daemon
// always agree on one database.
package ipc
