package units

import (
	"context"
	"fmt"
	"time"

	"github.com/safing/quiesce/service/mgr"
	"github.com/safing/quiesce/service/quiesce"
)

// DefaultStopTimeout is the time a stop command may take.
const DefaultStopTimeout = 30 * time.Second

// ModuleUnit is a unit backed by a module.
type ModuleUnit struct {
	id     string
	module mgr.Module
}

var _ quiesce.Unit = &ModuleUnit{}

// NewModuleUnit returns a unit that stops the given module.
func NewModuleUnit(id string, module mgr.Module) *ModuleUnit {
	return &ModuleUnit{
		id:     id,
		module: module,
	}
}

// ID returns the unit ID.
func (mu *ModuleUnit) ID() string {
	return mu.id
}

// Stop stops the module and cancels all remaining workers of its manager.
func (mu *ModuleUnit) Stop() error {
	m := mu.module.Manager()
	defer m.Cancel()

	return m.Do("stop module", func(_ *mgr.WorkerCtx) error {
		return mu.module.Stop()
	})
}

// CommandUnit is a unit that is stopped by running a command.
type CommandUnit struct {
	id      string
	cmd     Command
	timeout time.Duration
}

var _ quiesce.Unit = &CommandUnit{}

// NewCommandUnit returns a unit that runs the given command line to stop.
// A timeout of zero or less selects DefaultStopTimeout.
func NewCommandUnit(id, stopCommand string, timeout time.Duration) (*CommandUnit, error) {
	cmd, err := ParseCommand(stopCommand)
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", id, err)
	}
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	return &CommandUnit{
		id:      id,
		cmd:     cmd,
		timeout: timeout,
	}, nil
}

// ID returns the unit ID.
func (cu *CommandUnit) ID() string {
	return cu.id
}

// Stop runs the stop command.
func (cu *CommandUnit) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), cu.timeout)
	defer cancel()

	if err := cu.cmd.Run(ctx); err != nil {
		return fmt.Errorf("stop command %q failed: %w", cu.cmd, err)
	}
	return nil
}
