package quiesce

import (
	"time"

	"github.com/safing/quiesce/service/mgr"
)

// timeoutGuard force-stops the remaining units of a request once its timeout
// elapsed, counted from admission. It fires at most once.
type timeoutGuard struct {
	wm *mgr.WorkerMgr
}

func (m *Manager) armTimeout(r *run) *timeoutGuard {
	wm := m.timeouts.Delay("quiesce timeout "+r.req.id, time.Until(r.req.started.Add(r.req.timeout)), func(w *mgr.WorkerCtx) error {
		r.expire(w)
		return nil
	})
	return &timeoutGuard{wm: wm}
}

// cancel prevents the guard from firing. It may be called any number of
// times, also concurrently with the guard firing.
func (g *timeoutGuard) cancel() {
	if g == nil {
		return
	}
	g.wm.Stop()
}
