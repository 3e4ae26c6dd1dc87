package chainsource

import "errors"

var (
	// ErrNetwork is wrapped by every transient transport failure.
	// Callers may retry the operation with backoff.
	ErrNetwork = errors.New("chain source network failure")

	// ErrNotFound is returned when the requested entity does not exist
	// on the indexer. Terminal for the call.
	ErrNotFound = errors.New("not found on chain source")

	// ErrBroadcastRejected is returned when the indexer refuses a
	// broadcast submission. The wrapped message carries the indexer's
	// reason. Terminal for the call.
	ErrBroadcastRejected = errors.New("broadcast rejected")
)
