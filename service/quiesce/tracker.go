package quiesce

// tracker holds the units a single participant has not yet released for a
// single request. Its pending set only ever shrinks.
type tracker struct {
	participant string
	pending     map[string]Unit
	run         *run
}

func newTracker(r *run, participant string) *tracker {
	pending := make(map[string]Unit, len(r.outstanding))
	for id, u := range r.outstanding {
		pending[id] = u
	}
	return &tracker{
		participant: participant,
		pending:     pending,
		run:         r,
	}
}

// Released handles a release report from the participant.
// It is safe for concurrent use and may be called any number of times,
// also from within the Stop method of a unit of the same request.
func (t *tracker) Released(units ...Unit) {
	r := t.run

	r.lock.Lock()
	var claimed []Unit
	for _, u := range units {
		if u == nil {
			continue
		}
		id := u.ID()

		// Ignore duplicates and units that were never part of the request.
		if _, ok := t.pending[id]; !ok {
			continue
		}

		// If the unit is not outstanding anymore while this participant
		// still holds it, the timeout already claimed it.
		// Nothing more to do for this participant.
		if _, ok := r.outstanding[id]; !ok {
			r.log.Debug(
				"participant reported after timeout",
				"participant", t.participant,
				"unit", id,
			)
			clear(t.pending)
			break
		}

		delete(t.pending, id)

		// Stop the unit once every participant has released it.
		if !r.heldLocked(id) {
			if claimedUnit, ok := r.claimLocked(id); ok {
				claimed = append(claimed, claimedUnit)
			}
		}
	}
	if r.completeLocked() {
		r.settled = true
	}
	r.lock.Unlock()

	r.stopClaimed(claimed, StoppedByRelease)
}
