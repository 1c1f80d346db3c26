// Package worker runs the claim loops that turn pending requests into
// branches and pull requests.
//
// Each worker owns a stable processor id, claims one request at a time
// through the queue manager, stages the payload to disk, and delegates the
// actual GitHub work to a Publisher. The default ScriptPublisher shells out
// to the configured publish command with a JSON description of the request
// on stdin and reads the created branch and PR from its stdout, which keeps
// repository credentials and git plumbing out of the daemon process.
package worker
