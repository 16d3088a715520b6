package quiesce

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testUnit struct {
	id     string
	stops  atomic.Int32
	err    error
	onStop func()
}

func newTestUnit(id string) *testUnit {
	return &testUnit{id: id}
}

func (u *testUnit) ID() string { return u.id }

func (u *testUnit) Stop() error {
	u.stops.Add(1)
	if u.onStop != nil {
		u.onStop()
	}
	return u.err
}

func (u *testUnit) stopCount() int {
	return int(u.stops.Load())
}

// testParticipant calls its behavior in Quiesce and remembers every call.
type testParticipant struct {
	name     string
	behavior func(cb Callback, units []Unit) error

	lock  sync.Mutex
	calls [][]Unit
	cbs   []Callback
}

func (p *testParticipant) Name() string { return p.name }

func (p *testParticipant) Quiesce(cb Callback, units []Unit) error {
	p.lock.Lock()
	p.calls = append(p.calls, units)
	p.cbs = append(p.cbs, cb)
	p.lock.Unlock()

	if p.behavior == nil {
		return nil
	}
	return p.behavior(cb, units)
}

func (p *testParticipant) callCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.calls)
}

func (p *testParticipant) callback(i int) Callback {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.cbs[i]
}

// releasesImmediately releases all units before returning.
func releasesImmediately(name string) *testParticipant {
	return &testParticipant{
		name: name,
		behavior: func(cb Callback, units []Unit) error {
			cb.Released(units...)
			return nil
		},
	}
}

// releasesAfter releases all units in the background after the given delay.
func releasesAfter(name string, delay time.Duration) *testParticipant {
	return &testParticipant{
		name: name,
		behavior: func(cb Callback, units []Unit) error {
			go func() {
				time.Sleep(delay)
				cb.Released(units...)
			}()
			return nil
		},
	}
}

// neverReleases accepts the request and never reports back.
func neverReleases(name string) *testParticipant {
	return &testParticipant{name: name}
}

// failsToQuiesce returns an error instead of accepting the request.
func failsToQuiesce(name string) *testParticipant {
	return &testParticipant{
		name: name,
		behavior: func(cb Callback, units []Unit) error {
			return errors.New("participant unavailable")
		},
	}
}

func staticDirectory(participants ...Participant) Directory {
	return DirectoryFunc(func() ([]Participant, error) {
		return participants, nil
	})
}

func newTestManager(t *testing.T, cfg Config, directory Directory) *Manager {
	t.Helper()

	qm, err := NewManager(nil, cfg, directory, nil)
	require.NoError(t, err)
	return qm
}

func units(list ...*testUnit) []Unit {
	result := make([]Unit, 0, len(list))
	for _, u := range list {
		result = append(result, u)
	}
	return result
}
