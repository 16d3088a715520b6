package quiesce

import (
	"sync"
	"time"

	"github.com/gofrs/uuid"
)

// StopCause describes which path stopped a unit.
type StopCause string

// Stop causes.
const (
	// StoppedByRelease means that all participants released the unit.
	StoppedByRelease StopCause = "release"
	// StoppedByTimeout means that the timeout forced the stop.
	StoppedByTimeout StopCause = "timeout"
	// StoppedDirectly means that there were no participants to ask.
	StoppedDirectly StopCause = "direct"
)

// Request is a single quiesce request.
type Request struct {
	id       string
	timeout  time.Duration
	units    []Unit
	rejected []string
	started  time.Time
	handle   *Handle

	lock         sync.Mutex
	finished     time.Time
	timedOut     bool
	participants []string
	stops        map[string]StopCause
	stopErrors   map[string]string
}

func newRequest(timeout time.Duration) *Request {
	return &Request{
		id:         uuid.Must(uuid.NewV4()).String(),
		timeout:    timeout,
		started:    time.Now(),
		handle:     newHandle(),
		stops:      make(map[string]StopCause),
		stopErrors: make(map[string]string),
	}
}

// ID returns the request ID.
func (r *Request) ID() string {
	return r.id
}

// Handle returns the completion handle of the request.
func (r *Request) Handle() *Handle {
	return r.handle
}

// Admitted returns the IDs of the units that were admitted to the request.
func (r *Request) Admitted() []string {
	return unitIDs(r.units)
}

// Rejected returns the IDs of the units that were excluded from the request,
// because another request already owned them.
func (r *Request) Rejected() []string {
	return append([]string(nil), r.rejected...)
}

func (r *Request) setParticipants(names []string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.participants = names
}

func (r *Request) recordStop(id string, cause StopCause, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.stops[id] = cause
	if err != nil {
		r.stopErrors[id] = err.Error()
	}
}

func (r *Request) markFinished(timedOut bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.finished = time.Now()
	r.timedOut = timedOut
}

// RequestStatus is a snapshot of the state of a request.
type RequestStatus struct {
	ID           string               `json:"id"`
	Timeout      time.Duration        `json:"timeout"`
	Admitted     []string             `json:"admitted"`
	Rejected     []string             `json:"rejected,omitempty"`
	Participants []string             `json:"participants,omitempty"`
	Started      time.Time            `json:"started"`
	Finished     time.Time            `json:"finished,omitzero"`
	Resolved     bool                 `json:"resolved"`
	TimedOut     bool                 `json:"timed_out"`
	Stopped      map[string]StopCause `json:"stopped"`
	StopErrors   map[string]string    `json:"stop_errors,omitempty"`
}

// Status returns a snapshot of the request state.
func (r *Request) Status() RequestStatus {
	r.lock.Lock()
	defer r.lock.Unlock()

	status := RequestStatus{
		ID:           r.id,
		Timeout:      r.timeout,
		Admitted:     unitIDs(r.units),
		Rejected:     append([]string(nil), r.rejected...),
		Participants: append([]string(nil), r.participants...),
		Started:      r.started,
		Finished:     r.finished,
		Resolved:     r.handle.Resolved(),
		TimedOut:     r.timedOut,
		Stopped:      make(map[string]StopCause, len(r.stops)),
		StopErrors:   make(map[string]string, len(r.stopErrors)),
	}
	for id, cause := range r.stops {
		status.Stopped[id] = cause
	}
	for id, msg := range r.stopErrors {
		status.StopErrors[id] = msg
	}
	return status
}
