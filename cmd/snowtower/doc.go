// Command snowtower is the SnowTower CLI. It submits warehouse config
// requests, inspects and maintains the queue, and manages the daemon that
// publishes requests as GitHub branches and pull requests.
//
// Most commands talk to the daemon over its unix socket and silently fall
// back to opening the queue store directly when no daemon is running. Daemon
// lifecycle commands (start, stop, restart, status) manage the detached
// process, which is this same binary re-executed with the hidden `daemon`
// subcommand.
package main
