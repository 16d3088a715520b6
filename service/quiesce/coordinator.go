package quiesce

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/safing/quiesce/service/mgr"
)

// run coordinates a single admitted request: it fans out to the
// participants, collects their releases and stops every unit exactly once.
type run struct {
	m         *Manager
	req       *Request
	registry  *UnitRegistry
	directory Directory
	log       *slog.Logger

	// lock guards everything below. A unit is claimed for stopping by
	// removing it from outstanding while holding the lock. Stopping itself
	// happens after the lock is released.
	lock        sync.Mutex
	outstanding map[string]Unit
	trackers    []*tracker
	guard       *timeoutGuard

	// stopping counts claimed units whose stop did not return yet.
	stopping int
	// settled is set when no further unit will be claimed by a release.
	settled  bool
	expired  bool
	timedOut bool

	finishOnce sync.Once
}

func newRun(m *Manager, req *Request) *run {
	outstanding := make(map[string]Unit, len(req.units))
	for _, u := range req.units {
		outstanding[u.ID()] = u
	}

	return &run{
		m:           m,
		req:         req,
		registry:    m.registry,
		directory:   m.directory,
		log:         m.mgr.With("request", req.id),
		outstanding: outstanding,
	}
}

// arm starts the timeout of the request.
func (r *run) arm() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.guard = r.m.armTimeout(r)
}

func (r *run) execute(w *mgr.WorkerCtx) error {
	if r.isExpired() {
		return nil
	}

	participants, err := r.directory.Participants()
	if err != nil {
		w.Warn(
			"failed to look up quiesce participants, stopping units",
			"request", r.req.id,
			"err", err,
		)
		r.stopDirectly()
		return nil
	}

	// Take a snapshot, skipping nil entries.
	snapshot := make([]Participant, 0, len(participants))
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		if p == nil {
			continue
		}
		snapshot = append(snapshot, p)
		names = append(names, p.Name())
	}
	if len(snapshot) == 0 {
		w.Warn(
			"no quiesce participants, stopping units",
			"request", r.req.id,
		)
		r.stopDirectly()
		return nil
	}
	r.req.setParticipants(names)

	// Create all trackers before any participant is asked.
	r.lock.Lock()
	if r.expired {
		r.lock.Unlock()
		return nil
	}
	for _, p := range snapshot {
		r.trackers = append(r.trackers, newTracker(r, p.Name()))
	}
	r.lock.Unlock()

	w.Debug(
		"quiescing units",
		"request", r.req.id,
		"units", unitIDs(r.req.units),
		"participants", names,
		"timeout", r.req.timeout,
	)

	for i, p := range snapshot {
		r.invoke(p, r.trackers[i])
	}
	return nil
}

func (r *run) invoke(p Participant, t *tracker) {
	units := append([]Unit(nil), r.req.units...)

	r.m.mgr.Go("quiesce participant "+p.Name(), func(w *mgr.WorkerCtx) error {
		err := p.Quiesce(t, units)
		if err != nil {
			r.m.metrics.participantFailures.Inc()
			// The participant is treated as if it never responds.
			// The timeout will take care of its units.
			return fmt.Errorf("participant %s failed to quiesce request %s: %w", p.Name(), r.req.id, err)
		}
		return nil
	})
}

func (r *run) isExpired() bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.expired
}

// stopDirectly stops all units without asking anyone.
func (r *run) stopDirectly() {
	r.lock.Lock()
	claimed := r.claimAllLocked()
	r.settled = true
	r.lock.Unlock()

	r.stopClaimed(claimed, StoppedDirectly)
}

// expire is executed by the timeout guard.
func (r *run) expire(w *mgr.WorkerCtx) {
	r.lock.Lock()
	claimed := r.claimAllLocked()
	if len(claimed) > 0 {
		ids := unitIDs(claimed)
		w.Warn(
			"quiesce timed out",
			"request", r.req.id,
			"units", ids,
		)
		for _, id := range ids {
			w.Warn(
				"could not quiesce within timeout, stopping unit",
				"request", r.req.id,
				"unit", id,
			)
		}
		r.timedOut = true
	}
	// Late reports must find nothing left to do.
	for _, t := range r.trackers {
		clear(t.pending)
	}
	r.expired = true
	r.settled = true
	r.lock.Unlock()

	r.stopClaimed(claimed, StoppedByTimeout)
}

// claimLocked removes the unit from the outstanding units and returns it,
// if it was still outstanding. Only the caller that claimed a unit stops it.
// The lock must be held.
func (r *run) claimLocked(id string) (Unit, bool) {
	u, ok := r.outstanding[id]
	if !ok {
		return nil, false
	}
	delete(r.outstanding, id)
	r.stopping++
	return u, true
}

// claimAllLocked claims all outstanding units, sorted by ID.
// The lock must be held.
func (r *run) claimAllLocked() []Unit {
	ids := make([]string, 0, len(r.outstanding))
	for id := range r.outstanding {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	claimed := make([]Unit, 0, len(ids))
	for _, id := range ids {
		if u, ok := r.claimLocked(id); ok {
			claimed = append(claimed, u)
		}
	}
	return claimed
}

// stopClaimed stops the claimed units concurrently and finishes the request
// once it is settled and no stop is running anymore.
// The lock must not be held.
func (r *run) stopClaimed(claimed []Unit, cause StopCause) {
	switch len(claimed) {
	case 0:
	case 1:
		r.stop(claimed[0], cause)
	default:
		var wg sync.WaitGroup
		for _, u := range claimed {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.stop(u, cause)
			}()
		}
		wg.Wait()
	}

	r.lock.Lock()
	r.stopping -= len(claimed)
	done := r.settled && r.stopping == 0
	timedOut := r.timedOut
	r.lock.Unlock()

	if done {
		r.finish(timedOut)
	}
}

// stop stops a claimed unit and hands it back to the registry.
func (r *run) stop(u Unit, cause StopCause) {
	id := u.ID()
	err := stopUnit(u)
	// The unit counts as handled even if stopping failed, as trying again
	// would not help.
	r.req.recordStop(id, cause, err)
	r.registry.Release(u)
	r.m.metrics.stopped(cause)

	if err != nil {
		r.m.metrics.stopErrors.Inc()
		r.log.Error(
			"failed to stop unit",
			"unit", id,
			"cause", cause,
			"err", err,
		)
		return
	}
	r.log.Info(
		"unit stopped",
		"unit", id,
		"cause", cause,
	)
}

// heldLocked returns whether any participant still holds the unit.
// The lock must be held.
func (r *run) heldLocked(id string) bool {
	for _, t := range r.trackers {
		if _, ok := t.pending[id]; ok {
			return true
		}
	}
	return false
}

// completeLocked returns whether all participants released all units.
// The lock must be held.
func (r *run) completeLocked() bool {
	for _, t := range r.trackers {
		if len(t.pending) > 0 {
			return false
		}
	}
	return true
}

// finish resolves the request. Only the first call has an effect.
func (r *run) finish(timedOut bool) {
	r.finishOnce.Do(func() {
		r.lock.Lock()
		guard := r.guard
		r.lock.Unlock()
		guard.cancel()

		r.req.markFinished(timedOut)
		r.req.handle.resolve()
		r.log.Debug("quiesce complete", "timedOut", timedOut)

		r.m.requestFinished(r.req, timedOut)
	})
}

func stopUnit(u Unit) (err error) {
	defer func() {
		if panicVal := recover(); panicVal != nil {
			err = fmt.Errorf("panic: %v", panicVal)
		}
	}()

	return u.Stop()
}
