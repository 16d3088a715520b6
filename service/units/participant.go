package units

import (
	"context"
	"fmt"
	"time"

	"github.com/safing/quiesce/service/mgr"
	"github.com/safing/quiesce/service/quiesce"
)

// DefaultHookTimeout is the time a hook command may take per unit.
const DefaultHookTimeout = time.Minute

// FuncParticipant is an adapter to use a function as a participant.
type FuncParticipant struct {
	name string
	fn   func(cb quiesce.Callback, units []quiesce.Unit) error
}

var _ quiesce.Participant = &FuncParticipant{}

// NewFuncParticipant returns a participant that calls fn on quiesce.
// The function must not block.
func NewFuncParticipant(name string, fn func(cb quiesce.Callback, units []quiesce.Unit) error) *FuncParticipant {
	return &FuncParticipant{
		name: name,
		fn:   fn,
	}
}

// Name returns the participant name.
func (fp *FuncParticipant) Name() string {
	return fp.name
}

// Quiesce calls the function.
func (fp *FuncParticipant) Quiesce(cb quiesce.Callback, units []quiesce.Unit) error {
	return fp.fn(cb, units)
}

// HookParticipant runs a command for every unit that is quiesced.
// The unit ID is appended to the command as the last argument.
// A unit is released when the command exits successfully. If it fails, the
// unit is kept until the request times out.
type HookParticipant struct {
	mgr     *mgr.Manager
	name    string
	cmd     Command
	timeout time.Duration
}

var _ quiesce.Participant = &HookParticipant{}

// NewHookParticipant returns a new hook participant.
// A timeout of zero or less selects DefaultHookTimeout.
func NewHookParticipant(m *mgr.Manager, name, hookCommand string, timeout time.Duration) (*HookParticipant, error) {
	cmd, err := ParseCommand(hookCommand)
	if err != nil {
		return nil, fmt.Errorf("participant %s: %w", name, err)
	}
	if m == nil {
		m = mgr.New("Hook " + name)
	}
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}

	return &HookParticipant{
		mgr:     m,
		name:    name,
		cmd:     cmd,
		timeout: timeout,
	}, nil
}

// Name returns the participant name.
func (hp *HookParticipant) Name() string {
	return hp.name
}

// Quiesce starts the hook for every unit in the background.
func (hp *HookParticipant) Quiesce(cb quiesce.Callback, units []quiesce.Unit) error {
	for _, u := range units {
		hp.mgr.Go("quiesce hook "+hp.name+" "+u.ID(), func(w *mgr.WorkerCtx) error {
			ctx, cancel := context.WithTimeout(w.Ctx(), hp.timeout)
			defer cancel()

			if err := hp.cmd.Run(ctx, u.ID()); err != nil {
				return fmt.Errorf("hook %q for unit %s failed: %w", hp.cmd, u.ID(), err)
			}

			w.Debug("hook released unit", "participant", hp.name, "unit", u.ID())
			cb.Released(u)
			return nil
		})
	}
	return nil
}
