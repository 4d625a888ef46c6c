package engine

import "errors"

// Errors detectable at the call boundary. Failures discovered during a
// generation additionally surface as an error event on the progress hub.
var (
	// ErrInvalidParameters rejects out-of-range or missing inputs before
	// any state transition.
	ErrInvalidParameters = errors.New("invalid parameters")
	// ErrBusy rejects a generate or refine request while another
	// generation is in flight. Requests are never queued.
	ErrBusy = errors.New("generation already in progress")
	// ErrNoCurrentImage rejects a refinement when the session has no
	// record in view.
	ErrNoCurrentImage = errors.New("no current image to refine")
	// ErrCancelled is the terminal result of a user-requested cancel.
	// No record is appended.
	ErrCancelled = errors.New("generation cancelled")
	// ErrNotGenerating rejects a cancel when nothing is in flight.
	ErrNotGenerating = errors.New("no generation in flight")
)
