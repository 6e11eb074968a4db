package core

import (
	"errors"
	"fmt"
)

// Request-level errors. These are returned to the requesting connection and
// never tear down the connection or the room; the caller may retry.
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")

	// ErrProducerExists rejects a second produce while one is active for the
	// same peer. The alternative would be silently replacing the old producer,
	// which drops its relay-side resource without closing it.
	ErrProducerExists = errors.New("producer already exists")

	ErrIncompatibleCapabilities = errors.New("capabilities incompatible with producer")

	ErrEphemeralNotFound = errors.New("ephemeral room not found")
	ErrTextDisabled      = errors.New("text feed disabled for room")

	// ErrRoomKindMismatch rejects a voice join addressed at a live ephemeral
	// room. Ephemeral membership goes through the lifecycle manager; letting a
	// voice join slip past it would leave nobody to destroy the room when it
	// empties.
	ErrRoomKindMismatch = errors.New("room kind mismatch")
)

// EngineRequestError wraps a non-fatal failure reported by the relay engine
// for a specific call. Room state is unaffected.
type EngineRequestError struct {
	Op  string
	Err error
}

func (e *EngineRequestError) Error() string {
	return fmt.Sprintf("engine request %s: %v", e.Op, e.Err)
}

func (e *EngineRequestError) Unwrap() error { return e.Err }

func NewEngineRequestError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineRequestError{Op: op, Err: err}
}
