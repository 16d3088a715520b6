package quiesce

import (
	"errors"
	"sort"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// ErrParticipantExists is returned when a participant with the same name is
// already registered.
var ErrParticipantExists = errors.New("participant already registered")

// ParticipantRegistry is a Directory that participants register with.
// Changes only affect requests that look up participants afterwards.
type ParticipantRegistry struct {
	participants cmap.ConcurrentMap[string, Participant]
}

var _ Directory = &ParticipantRegistry{}

// NewParticipantRegistry returns a new, empty participant registry.
func NewParticipantRegistry() *ParticipantRegistry {
	return &ParticipantRegistry{
		participants: cmap.New[Participant](),
	}
}

// Register adds a participant.
func (pr *ParticipantRegistry) Register(p Participant) error {
	if !pr.participants.SetIfAbsent(p.Name(), p) {
		return ErrParticipantExists
	}
	return nil
}

// Unregister removes the participant with the given name and reports whether
// it was registered.
func (pr *ParticipantRegistry) Unregister(name string) bool {
	_, ok := pr.participants.Pop(name)
	return ok
}

// Participants returns a snapshot of the registered participants, sorted by name.
func (pr *ParticipantRegistry) Participants() ([]Participant, error) {
	items := pr.participants.Items()
	snapshot := make([]Participant, 0, len(items))
	for _, p := range items {
		snapshot = append(snapshot, p)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Name() < snapshot[j].Name()
	})
	return snapshot, nil
}
