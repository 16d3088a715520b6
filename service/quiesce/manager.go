package quiesce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"
	"golang.org/x/sync/semaphore"

	"github.com/safing/quiesce/base/metrics"
	"github.com/safing/quiesce/service/mgr"
)

// Manager quiesces units and stops them afterwards.
// All methods are safe for concurrent use and never block on the quiesce
// process itself.
type Manager struct {
	mgr *mgr.Manager
	// timeouts runs the timeout guards. It is never canceled, as timeouts
	// must fire even while the module is stopping.
	timeouts *mgr.Manager

	cfg       Config
	registry  *UnitRegistry
	directory Directory

	workers  *semaphore.Weighted
	history  gcache.Cache
	inflight atomic.Int64

	metricsRegistry *metrics.Registry
	metrics         *quiesceMetrics

	hooksLock sync.RWMutex
	hooks     []func(*Request)
}

// NewManager returns a new quiesce manager.
// If registry is nil, a new one is created.
func NewManager(m *mgr.Manager, cfg Config, directory Directory, registry *UnitRegistry) (*Manager, error) {
	if m == nil {
		m = mgr.New("Quiesce")
	}
	if directory == nil {
		return nil, errors.New("a participant directory is required")
	}
	if registry == nil {
		registry = NewUnitRegistry()
	}
	if err := cfg.Init(); err != nil {
		return nil, err
	}

	qm := &Manager{
		mgr:       m,
		timeouts:  mgr.New("Quiesce Timeouts"),
		cfg:       cfg,
		registry:  registry,
		directory: directory,
		workers:   semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		history:   gcache.New(cfg.HistorySize).LRU().Build(),
	}

	var err error
	qm.metricsRegistry, err = metrics.NewRegistry(cfg.MetricsNamespace, nil)
	if err != nil {
		return nil, fmt.Errorf("create metrics registry: %w", err)
	}
	qm.metrics, err = newQuiesceMetrics(qm.metricsRegistry, func() float64 {
		return float64(qm.inflight.Load())
	})
	if err != nil {
		return nil, err
	}

	return qm, nil
}

// Quiesce quiesces the given units and stops them when all participants
// released them, or when the timeout elapses, whichever comes first.
// A timeout of zero or less selects the default timeout.
// Units that are already being quiesced by another request are skipped.
// Quiesce does not block; use the returned handle to wait for completion.
func (m *Manager) Quiesce(units []Unit, timeout time.Duration) *Handle {
	return m.QuiesceRequest(units, timeout).Handle()
}

// QuiesceDefault is like Quiesce, but always uses the default timeout.
func (m *Manager) QuiesceDefault(units []Unit) *Handle {
	return m.Quiesce(units, m.cfg.DefaultTimeout)
}

// QuiesceRequest is like Quiesce, but returns the full request.
func (m *Manager) QuiesceRequest(units []Unit, timeout time.Duration) *Request {
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}
	req := newRequest(timeout)
	m.metrics.requests.Inc()

	// Admit units that are not quiesced already.
	for _, u := range units {
		if u == nil {
			continue
		}
		if m.registry.TryAcquire(u) {
			req.units = append(req.units, u)
			continue
		}
		req.rejected = append(req.rejected, u.ID())
		m.mgr.Warn(
			"already quiescing unit",
			"request", req.id,
			"unit", u.ID(),
		)
	}
	m.metrics.unitsAdmitted.Add(len(req.units))
	m.metrics.unitsRejected.Add(len(req.rejected))
	_ = m.history.Set(req.id, req)

	// Nothing to do.
	if len(req.units) == 0 {
		req.markFinished(false)
		req.handle.resolve()
		return req
	}

	// The timeout counts from admission, also while waiting for a worker slot.
	m.inflight.Add(1)
	r := newRun(m, req)
	r.arm()

	// Coordinate in the background. Requests wait for a free worker slot.
	m.mgr.Go("quiesce request "+req.id, func(w *mgr.WorkerCtx) error {
		// Requests cannot be canceled, so waiting must not be canceled either.
		if err := m.workers.Acquire(context.Background(), 1); err != nil {
			return err
		}
		defer m.workers.Release(1)

		return r.execute(w)
	})

	return req
}

// requestFinished runs the finish hooks on a separate worker, so that the
// goroutine that resolved the request is never held up by them.
// The request counts as in flight until the hooks returned.
func (m *Manager) requestFinished(req *Request, timedOut bool) {
	m.metrics.finished(req.started, timedOut)

	m.hooksLock.RLock()
	hooks := m.hooks
	m.hooksLock.RUnlock()

	if len(hooks) == 0 {
		m.inflight.Add(-1)
		return
	}
	m.mgr.Go("quiesce finish hooks "+req.id, func(_ *mgr.WorkerCtx) error {
		defer m.inflight.Add(-1)

		for _, hook := range hooks {
			hook(req)
		}
		return nil
	})
}

// OnFinished adds a function that is called after a request that admitted at
// least one unit was resolved. Hooks of a request are called in order, on a
// worker separate from the one resolving the request.
func (m *Manager) OnFinished(fn func(*Request)) {
	m.hooksLock.Lock()
	defer m.hooksLock.Unlock()

	m.hooks = append(m.hooks[:len(m.hooks):len(m.hooks)], fn)
}

// Lookup returns a recent request by ID.
func (m *Manager) Lookup(id string) (*Request, bool) {
	v, err := m.history.Get(id)
	if err != nil {
		return nil, false
	}
	req, ok := v.(*Request)
	return req, ok
}

// Registry returns the unit registry.
func (m *Manager) Registry() *UnitRegistry {
	return m.registry
}

// Metrics returns the metrics registry of the manager.
func (m *Manager) Metrics() *metrics.Registry {
	return m.metricsRegistry
}

// DefaultTimeout returns the timeout used when none is given.
func (m *Manager) DefaultTimeout() time.Duration {
	return m.cfg.DefaultTimeout
}

// InFlight returns the number of requests that are not yet resolved.
func (m *Manager) InFlight() int {
	return int(m.inflight.Load())
}

// Drain waits until no request is in flight anymore, or until max elapsed.
// It reports whether all requests finished.
func (m *Manager) Drain(max time.Duration) bool {
	reCheckDuration := 10 * time.Millisecond
	maxWait := time.NewTimer(max)
	defer maxWait.Stop()

	for {
		if m.inflight.Load() == 0 {
			return true
		}

		select {
		case <-time.After(reCheckDuration):
			if reCheckDuration < time.Second {
				reCheckDuration *= 2
			}
		case <-maxWait.C:
			return m.inflight.Load() == 0
		}
	}
}
