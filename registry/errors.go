package registry

import "errors"

var (
	// ErrNoSuchClient is returned by AwaitConnection for an id with no
	// Client Object in the table at all, as opposed to one that exists
	// but has not connected within the deadline.
	ErrNoSuchClient = errors.New("registry: no such client")
	// ErrReadTimeout is returned by AwaitConnection when the deadline
	// elapses before every requested id reaches the Connected state.
	ErrReadTimeout = errors.New("registry: timed out awaiting connection")
)
