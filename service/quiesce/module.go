package quiesce

import (
	"time"

	"github.com/safing/quiesce/service/mgr"
)

// drainGrace is added to the default timeout when waiting for in-flight
// requests on stop.
const drainGrace = 5 * time.Second

// Module runs a Manager as part of a module group.
type Module struct {
	mgr *mgr.Manager
	qm  *Manager
}

// NewModule returns a new quiesce module.
func NewModule(cfg Config, directory Directory, registry *UnitRegistry) (*Module, error) {
	m := mgr.New("Quiesce")
	qm, err := NewManager(m, cfg, directory, registry)
	if err != nil {
		return nil, err
	}

	return &Module{
		mgr: m,
		qm:  qm,
	}, nil
}

// Manager returns the module manager.
func (mod *Module) Manager() *mgr.Manager {
	return mod.mgr
}

// QuiesceManager returns the quiesce manager run by the module.
func (mod *Module) QuiesceManager() *Manager {
	return mod.qm
}

// Start starts the module.
func (mod *Module) Start() error {
	return nil
}

// Stop waits for in-flight requests to finish.
// Every request is resolved by its timeout at the latest.
func (mod *Module) Stop() error {
	if mod.qm.InFlight() == 0 {
		return nil
	}

	mod.mgr.Info("waiting for in-flight quiesce requests", "requests", mod.qm.InFlight())
	if !mod.qm.Drain(mod.qm.DefaultTimeout() + drainGrace) {
		mod.mgr.Warn("quiesce requests still in flight", "requests", mod.qm.InFlight())
	}
	return nil
}
