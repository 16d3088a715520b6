package quiesce

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuiesceNothing(t *testing.T) {
	t.Parallel()

	p := neverReleases("p")
	qm := newTestManager(t, DefaultConfig(), staticDirectory(p))

	h := qm.Quiesce(nil, time.Second)
	assert.True(t, h.Resolved(), "empty request must be resolved immediately")

	h = qm.Quiesce([]Unit{nil}, time.Second)
	assert.True(t, h.Resolved(), "request without valid units must be resolved immediately")

	assert.Equal(t, 0, p.callCount())
}

func TestQuiesceWithoutParticipants(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	qm := newTestManager(t, DefaultConfig(), staticDirectory())

	req := qm.QuiesceRequest(units(a), time.Minute)
	require.NoError(t, req.Handle().WaitTimeout(time.Second))

	assert.Equal(t, 1, a.stopCount())
	assert.False(t, qm.Registry().Contains(a))

	status := req.Status()
	assert.Equal(t, map[string]StopCause{"a": StoppedDirectly}, status.Stopped)
	assert.False(t, status.TimedOut)
	assert.True(t, status.Resolved)
	assert.Equal(t, uint64(1), qm.metrics.stoppedDirectly.CurrentValue())
}

func TestQuiesceNilParticipantsAreSkipped(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	qm := newTestManager(t, DefaultConfig(), staticDirectory(nil, nil))

	req := qm.QuiesceRequest(units(a), time.Minute)
	require.NoError(t, req.Handle().WaitTimeout(time.Second))
	assert.Equal(t, StoppedDirectly, req.Status().Stopped["a"])
}

func TestQuiesceDirectoryFailure(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	b := newTestUnit("b")
	qm := newTestManager(t, DefaultConfig(), DirectoryFunc(func() ([]Participant, error) {
		return nil, ErrDirectoryUnavailable
	}))

	req := qm.QuiesceRequest(units(a, b), time.Minute)
	require.NoError(t, req.Handle().WaitTimeout(time.Second))

	assert.Equal(t, 1, a.stopCount())
	assert.Equal(t, 1, b.stopCount())
	assert.Equal(t, 0, qm.Registry().Len())
	assert.Equal(t, map[string]StopCause{"a": StoppedDirectly, "b": StoppedDirectly}, req.Status().Stopped)
}

func TestQuiesceAllParticipantsRelease(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	p1 := releasesImmediately("p1")
	p2 := releasesAfter("p2", 20*time.Millisecond)
	qm := newTestManager(t, DefaultConfig(), staticDirectory(p1, p2))

	started := time.Now()
	req := qm.QuiesceRequest(units(a), 10*time.Second)
	require.NoError(t, req.Handle().WaitTimeout(5*time.Second))
	assert.Less(t, time.Since(started), 5*time.Second)

	assert.Equal(t, 1, a.stopCount())
	assert.False(t, qm.Registry().Contains(a))
	assert.Equal(t, 1, p1.callCount())
	assert.Equal(t, 1, p2.callCount())

	status := req.Status()
	assert.False(t, status.TimedOut)
	assert.Equal(t, StoppedByRelease, status.Stopped["a"])
	assert.Equal(t, []string{"p1", "p2"}, status.Participants)

	// The timeout guard must be gone.
	assert.True(t, qm.timeouts.WaitForWorkers(time.Second), "timeout guard should be canceled")
	assert.Equal(t, 1, a.stopCount())
	assert.Equal(t, uint64(0), qm.metrics.timeouts.CurrentValue())
}

func TestQuiesceParticipantNeverResponds(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	qm := newTestManager(t, DefaultConfig(), staticDirectory(neverReleases("p")))

	started := time.Now()
	req := qm.QuiesceRequest(units(a), 50*time.Millisecond)
	assert.False(t, req.Handle().Resolved())

	require.NoError(t, req.Handle().WaitTimeout(5*time.Second))
	assert.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)

	assert.Equal(t, 1, a.stopCount())
	assert.False(t, qm.Registry().Contains(a))

	status := req.Status()
	assert.True(t, status.TimedOut)
	assert.Equal(t, StoppedByTimeout, status.Stopped["a"])
	assert.Equal(t, uint64(1), qm.metrics.timeouts.CurrentValue())
}

func TestQuiescePartialRelease(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	b := newTestUnit("b")
	p := &testParticipant{
		name: "p",
		behavior: func(cb Callback, units []Unit) error {
			for _, u := range units {
				if u.ID() == "a" {
					cb.Released(u)
				}
			}
			return nil
		},
	}
	qm := newTestManager(t, DefaultConfig(), staticDirectory(p))

	req := qm.QuiesceRequest(units(a, b), 300*time.Millisecond)

	// A is stopped as soon as it is released, B is kept.
	require.Eventually(t, func() bool { return a.stopCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, req.Handle().Resolved())
	assert.Equal(t, 0, b.stopCount())
	assert.True(t, qm.Registry().Contains(b))
	assert.False(t, qm.Registry().Contains(a))

	// B is stopped by the timeout.
	require.NoError(t, req.Handle().WaitTimeout(5*time.Second))
	assert.Equal(t, 1, a.stopCount())
	assert.Equal(t, 1, b.stopCount())

	status := req.Status()
	assert.True(t, status.TimedOut)
	assert.Equal(t, map[string]StopCause{"a": StoppedByRelease, "b": StoppedByTimeout}, status.Stopped)
}

func TestQuiesceOverlappingRequests(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	b := newTestUnit("b")
	qm := newTestManager(t, DefaultConfig(), staticDirectory(neverReleases("p")))

	first := qm.QuiesceRequest(units(a, b), 200*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, first.Admitted())

	second := qm.QuiesceRequest(units(a), time.Minute)
	assert.Empty(t, second.Admitted())
	assert.Equal(t, []string{"a"}, second.Rejected())
	assert.True(t, second.Handle().Resolved(), "second request must not wait for a")

	require.NoError(t, first.Handle().WaitTimeout(5*time.Second))
	assert.Equal(t, 1, a.stopCount())
	assert.Equal(t, 1, b.stopCount())
	assert.Equal(t, uint64(1), qm.metrics.unitsRejected.CurrentValue())

	// Once released, the unit may be quiesced again.
	third := qm.QuiesceRequest(units(a), 50*time.Millisecond)
	assert.Equal(t, []string{"a"}, third.Admitted())
	require.NoError(t, third.Handle().WaitTimeout(5*time.Second))
	assert.Equal(t, 2, a.stopCount())
}

func TestQuiesceDuplicateUnitsInRequest(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	qm := newTestManager(t, DefaultConfig(), staticDirectory(releasesImmediately("p")))

	req := qm.QuiesceRequest(units(a, a), time.Minute)
	assert.Equal(t, []string{"a"}, req.Admitted())
	assert.Equal(t, []string{"a"}, req.Rejected())

	require.NoError(t, req.Handle().WaitTimeout(time.Second))
	assert.Equal(t, 1, a.stopCount())
}

func TestQuiesceConcurrentAdmission(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	qm := newTestManager(t, DefaultConfig(), staticDirectory(neverReleases("p")))

	const callers = 20
	var (
		admitted atomic.Int32
		wg       sync.WaitGroup
		start    = make(chan struct{})
		requests = make(chan *Request, callers)
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			req := qm.QuiesceRequest(units(a), 100*time.Millisecond)
			admitted.Add(int32(len(req.Admitted())))
			requests <- req
		}()
	}
	close(start)
	wg.Wait()
	close(requests)

	assert.Equal(t, int32(1), admitted.Load(), "unit must be admitted exactly once")
	for req := range requests {
		require.NoError(t, req.Handle().WaitTimeout(5*time.Second))
	}
	assert.Equal(t, 1, a.stopCount())
}

func TestQuiesceDuplicateCallbacks(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	b := newTestUnit("b")
	foreign := newTestUnit("foreign")
	p1 := &testParticipant{
		name: "p1",
		behavior: func(cb Callback, units []Unit) error {
			cb.Released(units[0])
			cb.Released(units[0], units[0])
			cb.Released(foreign, nil)
			cb.Released(units...)
			cb.Released(units...)
			return nil
		},
	}
	p2 := releasesAfter("p2", 10*time.Millisecond)
	qm := newTestManager(t, DefaultConfig(), staticDirectory(p1, p2))

	req := qm.QuiesceRequest(units(a, b), time.Minute)
	require.NoError(t, req.Handle().WaitTimeout(5*time.Second))

	// Report again after resolution.
	p1.callback(0).Released(a, b)
	p2.callback(0).Released(a, b)

	assert.Equal(t, 1, a.stopCount())
	assert.Equal(t, 1, b.stopCount())
	assert.Equal(t, 0, foreign.stopCount())
	assert.False(t, req.Status().TimedOut)
}

func TestQuiesceLateCallbackAfterTimeout(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	p := neverReleases("p")
	qm := newTestManager(t, DefaultConfig(), staticDirectory(p))

	req := qm.QuiesceRequest(units(a), 200*time.Millisecond)
	require.NoError(t, req.Handle().WaitTimeout(5*time.Second))
	require.Equal(t, 1, a.stopCount())
	require.Equal(t, 1, p.callCount())

	// A new request owns the unit now. The late report of the first
	// request must not affect it.
	next := qm.QuiesceRequest(units(a), time.Minute)
	require.Equal(t, []string{"a"}, next.Admitted())
	require.Eventually(t, func() bool { return p.callCount() == 2 }, time.Second, 5*time.Millisecond)

	p.callback(0).Released(a)
	assert.Equal(t, 1, a.stopCount())
	assert.True(t, qm.Registry().Contains(a))
	assert.False(t, next.Handle().Resolved())

	p.callback(1).Released(a)
	require.NoError(t, next.Handle().WaitTimeout(time.Second))
	assert.Equal(t, 2, a.stopCount())
}

func TestQuiesceStopsExactlyOnceUnderRace(t *testing.T) {
	t.Parallel()

	const (
		rounds       = 30
		participants = 8
	)

	for round := range rounds {
		a := newTestUnit("a")
		ps := make([]Participant, 0, participants)
		tps := make([]*testParticipant, 0, participants)
		for i := range participants {
			p := neverReleases(fmt.Sprintf("p%d", i))
			ps = append(ps, p)
			tps = append(tps, p)
		}
		qm := newTestManager(t, DefaultConfig(), staticDirectory(ps...))

		timeout := 100 * time.Millisecond
		deadline := time.Now().Add(timeout)
		req := qm.QuiesceRequest(units(a), timeout)
		require.Eventually(t, func() bool {
			for _, p := range tps {
				if p.callCount() != 1 {
					return false
				}
			}
			return true
		}, time.Second, time.Millisecond)

		// Release from all participants at about the time the timeout fires.
		var wg sync.WaitGroup
		for i, p := range tps {
			wg.Add(1)
			go func() {
				defer wg.Done()
				time.Sleep(time.Until(deadline) - 5*time.Millisecond + time.Duration(i+round%3)*time.Millisecond)
				p.callback(0).Released(a)
			}()
		}
		wg.Wait()

		require.NoError(t, req.Handle().WaitTimeout(5*time.Second))
		require.Equal(t, 1, a.stopCount(), "round %d", round)
		require.False(t, qm.Registry().Contains(a))
	}
}

func TestQuiesceParticipantFailure(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	failing := failsToQuiesce("failing")
	qm := newTestManager(t, DefaultConfig(), staticDirectory(failing, releasesImmediately("ok")))

	req := qm.QuiesceRequest(units(a), 50*time.Millisecond)
	require.NoError(t, req.Handle().WaitTimeout(5*time.Second))

	assert.Equal(t, 1, a.stopCount())
	assert.True(t, req.Status().TimedOut)
	assert.Equal(t, StoppedByTimeout, req.Status().Stopped["a"])
	assert.Equal(t, uint64(1), qm.metrics.participantFailures.CurrentValue())
}

func TestQuiesceParticipantPanic(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	panicking := &testParticipant{
		name: "panicking",
		behavior: func(cb Callback, units []Unit) error {
			panic("participant is broken")
		},
	}
	qm := newTestManager(t, DefaultConfig(), staticDirectory(panicking))

	req := qm.QuiesceRequest(units(a), 50*time.Millisecond)
	require.NoError(t, req.Handle().WaitTimeout(5*time.Second))
	assert.Equal(t, 1, a.stopCount())
	assert.True(t, req.Status().TimedOut)
}

func TestQuiesceStopFailure(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	a.err = errors.New("refusing to stop")
	b := newTestUnit("b")
	b.onStop = func() { panic("stop exploded") }
	qm := newTestManager(t, DefaultConfig(), staticDirectory(releasesImmediately("p")))

	req := qm.QuiesceRequest(units(a, b), time.Minute)
	require.NoError(t, req.Handle().WaitTimeout(5*time.Second))

	assert.Equal(t, 1, a.stopCount())
	assert.Equal(t, 1, b.stopCount())
	assert.Equal(t, 0, qm.Registry().Len(), "units must be released even if stopping failed")

	status := req.Status()
	assert.Equal(t, "refusing to stop", status.StopErrors["a"])
	assert.Contains(t, status.StopErrors["b"], "stop exploded")
	assert.Equal(t, uint64(2), qm.metrics.stopErrors.CurrentValue())
}

func TestQuiesceUnitStopReleasesAnotherUnit(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	b := newTestUnit("b")
	p := &testParticipant{
		name: "p",
		behavior: func(cb Callback, units []Unit) error {
			cb.Released(a)
			return nil
		},
	}
	// Stopping a makes the participant give up b, too.
	a.onStop = func() { p.callback(0).Released(b) }
	qm := newTestManager(t, DefaultConfig(), staticDirectory(p))

	req := qm.QuiesceRequest(units(a, b), time.Minute)
	require.NoError(t, req.Handle().WaitTimeout(2*time.Second))

	assert.Equal(t, 1, a.stopCount())
	assert.Equal(t, 1, b.stopCount())
	assert.Equal(t, 0, qm.Registry().Len())

	status := req.Status()
	assert.False(t, status.TimedOut)
	assert.Equal(t, map[string]StopCause{"a": StoppedByRelease, "b": StoppedByRelease}, status.Stopped)
}

func TestQuiesceSlowStopDoesNotBlockReleases(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	b := newTestUnit("b")
	unblock := make(chan struct{})
	a.onStop = func() { <-unblock }
	p := &testParticipant{
		name: "p",
		behavior: func(cb Callback, units []Unit) error {
			cb.Released(a)
			return nil
		},
	}
	qm := newTestManager(t, DefaultConfig(), staticDirectory(p))

	req := qm.QuiesceRequest(units(a, b), time.Minute)
	require.Eventually(t, func() bool { return a.stopCount() == 1 }, time.Second, 5*time.Millisecond)

	// B is stopped while a is still stopping.
	released := make(chan struct{})
	go func() {
		defer close(released)
		p.callback(0).Released(b)
	}()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("release blocked by a running stop")
	}
	assert.Equal(t, 1, b.stopCount())
	assert.False(t, qm.Registry().Contains(b))

	// The request resolves only after every stop returned.
	assert.False(t, req.Handle().Resolved())
	close(unblock)
	require.NoError(t, req.Handle().WaitTimeout(2*time.Second))
	assert.False(t, req.Status().TimedOut)
	assert.Equal(t, 0, qm.Registry().Len())
}

func TestQuiesceTimeoutStopsUnitsConcurrently(t *testing.T) {
	t.Parallel()

	// Each stop returns only when both stops are running.
	var entered sync.WaitGroup
	entered.Add(2)
	meet := func() {
		entered.Done()
		entered.Wait()
	}
	a := newTestUnit("a")
	a.onStop = meet
	b := newTestUnit("b")
	b.onStop = meet
	qm := newTestManager(t, DefaultConfig(), staticDirectory(neverReleases("p")))

	req := qm.QuiesceRequest(units(a, b), 30*time.Millisecond)
	require.NoError(t, req.Handle().WaitTimeout(2*time.Second))

	assert.Equal(t, 1, a.stopCount())
	assert.Equal(t, 1, b.stopCount())
	assert.True(t, req.Status().TimedOut)
}

func TestQuiesceTimeoutCountsFromAdmission(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	p := releasesImmediately("p")
	directory := DirectoryFunc(func() ([]Participant, error) {
		<-gate
		return []Participant{p}, nil
	})
	cfg := DefaultConfig()
	cfg.MaxWorkers = 1
	qm := newTestManager(t, cfg, directory)

	a := newTestUnit("a")
	first := qm.QuiesceRequest(units(a), time.Minute)

	// The second request either waits for the only worker or hangs in the
	// participant lookup. Its timeout runs anyway.
	b := newTestUnit("b")
	second := qm.QuiesceRequest(units(b), 50*time.Millisecond)
	require.NoError(t, second.Handle().WaitTimeout(2*time.Second))
	assert.False(t, first.Handle().Resolved())
	assert.Equal(t, 1, b.stopCount())

	status := second.Status()
	assert.True(t, status.TimedOut)
	assert.Equal(t, StoppedByTimeout, status.Stopped["b"])

	close(gate)
	require.NoError(t, first.Handle().WaitTimeout(2*time.Second))
	assert.Equal(t, StoppedByRelease, first.Status().Stopped["a"])
	assert.True(t, qm.Drain(time.Second))
	require.True(t, qm.mgr.WaitForWorkers(time.Second))

	// Participants are not asked about an expired request.
	assert.Equal(t, 1, p.callCount())
}

func TestQuiesceFinishHooksDoNotBlockReleases(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	p := neverReleases("p")
	qm := newTestManager(t, DefaultConfig(), staticDirectory(p))

	unblock := make(chan struct{})
	hookCalled := make(chan struct{})
	qm.OnFinished(func(*Request) {
		close(hookCalled)
		<-unblock
	})

	req := qm.QuiesceRequest(units(a), time.Minute)
	require.Eventually(t, func() bool { return p.callCount() == 1 }, time.Second, 5*time.Millisecond)

	released := make(chan struct{})
	go func() {
		defer close(released)
		p.callback(0).Released(a)
	}()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("release blocked by a finish hook")
	}
	assert.True(t, req.Handle().Resolved())

	select {
	case <-hookCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("finish hook was not called")
	}
	// The request counts as in flight until its hooks returned.
	assert.Equal(t, 1, qm.InFlight())
	assert.False(t, qm.Drain(20*time.Millisecond))

	close(unblock)
	assert.True(t, qm.Drain(time.Second))
}

func TestQuiesceDefaultTimeout(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	cfg := DefaultConfig()
	cfg.DefaultTimeout = 30 * time.Millisecond
	qm := newTestManager(t, cfg, staticDirectory(neverReleases("p")))
	assert.Equal(t, 30*time.Millisecond, qm.DefaultTimeout())

	h := qm.QuiesceDefault(units(a))
	require.NoError(t, h.WaitTimeout(5*time.Second))
	assert.Equal(t, 1, a.stopCount())

	// A non-positive timeout selects the default, too.
	b := newTestUnit("b")
	req := qm.QuiesceRequest(units(b), 0)
	assert.Equal(t, 30*time.Millisecond, req.Status().Timeout)
	require.NoError(t, req.Handle().WaitTimeout(5*time.Second))
}

func TestQuiesceWorkerLimit(t *testing.T) {
	t.Parallel()

	var (
		active    atomic.Int32
		maxActive atomic.Int32
	)
	directory := DirectoryFunc(func() ([]Participant, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			current := maxActive.Load()
			if n <= current || maxActive.CompareAndSwap(current, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	})

	cfg := DefaultConfig()
	cfg.MaxWorkers = 2
	qm := newTestManager(t, cfg, directory)

	handles := make([]*Handle, 0, 10)
	for i := range 10 {
		handles = append(handles, qm.Quiesce(units(newTestUnit(fmt.Sprintf("u%d", i))), time.Minute))
	}
	for _, h := range handles {
		require.NoError(t, h.WaitTimeout(5*time.Second))
	}
	assert.LessOrEqual(t, maxActive.Load(), int32(2))
	assert.True(t, qm.Drain(time.Second))
	assert.Equal(t, 0, qm.InFlight())
}

func TestQuiesceHistoryAndHooks(t *testing.T) {
	t.Parallel()

	a := newTestUnit("a")
	qm := newTestManager(t, DefaultConfig(), staticDirectory(releasesImmediately("p")))

	finished := make(chan *Request, 1)
	qm.OnFinished(func(req *Request) {
		finished <- req
	})

	req := qm.QuiesceRequest(units(a), time.Minute)
	require.NoError(t, req.Handle().WaitTimeout(time.Second))

	select {
	case got := <-finished:
		assert.Equal(t, req.ID(), got.ID())
	case <-time.After(time.Second):
		t.Fatal("finish hook was not called")
	}

	found, ok := qm.Lookup(req.ID())
	require.True(t, ok)
	assert.Same(t, req, found)

	_, ok = qm.Lookup("unknown")
	assert.False(t, ok)
}

func TestNewManagerRequiresDirectory(t *testing.T) {
	t.Parallel()

	_, err := NewManager(nil, DefaultConfig(), nil, nil)
	require.Error(t, err)

	_, err = NewManager(nil, Config{MaxWorkers: -1}, staticDirectory(), nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
