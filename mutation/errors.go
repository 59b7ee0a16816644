package mutation

import (
	"errors"
	"fmt"

	"prism-client/domain"
)

// ErrNotFound is returned when a non-create intent targets a key with no
// local state.
var ErrNotFound = errors.New("resource not found in local store")

// ErrInvalidIntent is returned for intents missing required parts.
var ErrInvalidIntent = errors.New("invalid mutation intent")

// Error wraps the failure of a single mutation. Unwrap yields the remote
// client's typed error.
type Error struct {
	Key    domain.Key
	Seq    uint64
	Status Status
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mutation %s #%d %s: %v", e.Key, e.Seq, e.Status, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
