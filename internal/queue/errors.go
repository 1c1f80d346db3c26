package queue

import "errors"

// Sentinel errors returned by Manager operations. Callers branch with
// errors.Is; the wrapped message carries the specifics.
var (
	// ErrInvalidParameter reports a submission or update that failed
	// validation before touching storage.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrDuplicateActiveRequest reports a submission whose branch name is
	// already held by a pending or processing request.
	ErrDuplicateActiveRequest = errors.New("duplicate active request for branch")

	// ErrUnknownRequest reports a status update naming an id that does not
	// exist.
	ErrUnknownRequest = errors.New("unknown request")

	// ErrInvalidTransition reports a status update whose request is not in
	// the processing state, including updates that lose a race with a
	// concurrent transition.
	ErrInvalidTransition = errors.New("invalid status transition")
)
