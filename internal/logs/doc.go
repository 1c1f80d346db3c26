// Package logs reads the daemon log file for the CLI: a bounded tail of
// the newest lines plus offset-based reads so `snowtower logs --follow`
// can poll through the IPC socket without holding the file open remotely.
package logs
