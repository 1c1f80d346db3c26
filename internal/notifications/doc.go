// Package notifications delivers queue lifecycle events via pluggable
// notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. The daemon, scheduler, and worker pool emit through the Service
// interface only, so alternative transports slot in without touching queue
// code.
package notifications
