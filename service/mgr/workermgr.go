package mgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// WorkerMgr schedules a one-shot worker.
// The worker runs at most once: either when the delay elapses or when it is
// triggered manually with Go. Stop prevents any further execution.
type WorkerMgr struct {
	mgr *Manager
	ctx *WorkerCtx

	// Definition.
	name string
	fn   func(w *WorkerCtx) error

	// Manual trigger.
	run chan struct{}

	// Actions.
	actionLock   sync.Mutex
	selectAction chan struct{}
	delay        *workerMgrDelay

	fired atomic.Bool
	ended chan struct{}
}

// Delay.
type workerMgrDelay struct {
	timer *time.Timer
}

func newDelay(duration time.Duration) *workerMgrDelay {
	return &workerMgrDelay{
		timer: time.NewTimer(duration),
	}
}

func (sd *workerMgrDelay) Wait() <-chan time.Time {
	if sd == nil {
		return nil
	}
	return sd.timer.C
}

func (sd *workerMgrDelay) Stop() {
	if sd == nil {
		return
	}
	sd.timer.Stop()
}

// NewWorkerMgr creates a new scheduler for the given worker function.
// Errors and panic will be logged.
// Nothing is executed until one of Delay() or Go() is called.
func (m *Manager) NewWorkerMgr(name string, fn func(w *WorkerCtx) error) *WorkerMgr {
	// Create task context.
	wCtx := &WorkerCtx{
		name:   name,
		logger: m.logger.With("worker", name),
	}
	wCtx.ctx, wCtx.cancelCtx = context.WithCancel(m.Ctx())

	s := &WorkerMgr{
		mgr:          m,
		ctx:          wCtx,
		name:         name,
		fn:           fn,
		run:          make(chan struct{}, 1),
		selectAction: make(chan struct{}, 1),
		ended:        make(chan struct{}),
	}

	m.workerStart()
	go s.taskMgr()
	return s
}

func (s *WorkerMgr) taskMgr() {
	defer s.mgr.workerDone()
	defer close(s.ended)

	// If the task manager ends, end all descendants too.
	defer s.ctx.cancelCtx()

	defer func() {
		s.actionLock.Lock()
		defer s.actionLock.Unlock()

		s.delay.Stop()
	}()

	for {
		s.actionLock.Lock()
		delay := s.delay
		s.actionLock.Unlock()

		// Wait for trigger or action.
		select {
		case <-delay.Wait():
			// Time-triggered execution.
		case <-s.run:
			// Manually triggered execution.
		case <-s.selectAction:
			// Re-select action.
			continue
		case <-s.ctx.Ctx().Done():
			// Abort!
			return
		}

		// Check again, Stop might have raced with the trigger.
		if s.ctx.IsDone() {
			return
		}
		s.fired.Store(true)

		// Run worker.
		// The worker gets its own context, so that stopping the scheduler
		// does not abort an execution that already began.
		_ = s.mgr.Do(s.name, s.fn)
		return
	}
}

// Go executes the worker immediately, if it has not been executed or stopped yet.
func (s *WorkerMgr) Go() {
	s.actionLock.Lock()
	defer s.actionLock.Unlock()

	// Stop delay if set.
	s.delay.Stop()
	s.delay = nil

	// Send run command
	select {
	case s.run <- struct{}{}:
	default:
	}
}

// Stop immediately stops the scheduler.
// An execution that already began is not interrupted.
// Stop may be called any number of times.
func (s *WorkerMgr) Stop() {
	s.ctx.cancelCtx()
}

// Fired returns whether the worker has been started.
func (s *WorkerMgr) Fired() bool {
	return s.fired.Load()
}

// Ended returns a channel that is closed when the scheduler is finished,
// either because the worker was executed or because it was stopped.
func (s *WorkerMgr) Ended() <-chan struct{} {
	return s.ended
}

// Delay will schedule the worker to run after the given duration.
// Calling Delay again replaces the previous delay.
func (s *WorkerMgr) Delay(duration time.Duration) *WorkerMgr {
	s.actionLock.Lock()
	defer s.actionLock.Unlock()

	s.delay.Stop()
	s.delay = newDelay(duration)

	s.check()
	return s
}

func (s *WorkerMgr) check() {
	select {
	case s.selectAction <- struct{}{}:
	default:
	}
}
