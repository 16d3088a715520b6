package quiesce

import (
	"errors"
)

// ErrDirectoryUnavailable is returned by a Directory when the participants
// cannot be looked up right now.
var ErrDirectoryUnavailable = errors.New("participant directory unavailable")

// Unit is a runtime entity that is quiesced and then stopped.
// Two units are considered the same if their IDs are equal.
type Unit interface {
	ID() string
	Stop() error
}

// Callback is handed to a participant and is used to report units that the
// participant no longer holds.
// Released may be called from any goroutine, any number of times, with any
// subset of the units the participant was asked to quiesce.
type Callback interface {
	Released(units ...Unit)
}

// Participant is a subsystem with in-flight work that is tied to units.
// Quiesce must not block: the participant finishes or abandons its work in
// the background and reports released units via the callback.
type Participant interface {
	Name() string
	Quiesce(cb Callback, units []Unit) error
}

// Directory returns the participants that are currently registered.
type Directory interface {
	Participants() ([]Participant, error)
}

// DirectoryFunc is an adapter to use a function as a Directory.
type DirectoryFunc func() ([]Participant, error)

// Participants returns the result of the function.
func (fn DirectoryFunc) Participants() ([]Participant, error) {
	return fn()
}

// CallbackFunc is an adapter to use a function as a Callback.
type CallbackFunc func(units ...Unit)

// Released calls the function.
func (fn CallbackFunc) Released(units ...Unit) {
	fn(units...)
}

func unitIDs(units []Unit) []string {
	ids := make([]string, 0, len(units))
	for _, u := range units {
		ids = append(ids, u.ID())
	}
	return ids
}
