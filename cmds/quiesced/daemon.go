package main

import (
	"fmt"

	"github.com/safing/quiesce/service/mgr"
	"github.com/safing/quiesce/service/quiesce"
	"github.com/safing/quiesce/service/units"
)

// daemon holds everything the daemon runs.
type daemon struct {
	cfg *Config

	catalog      *units.Catalog
	participants *quiesce.ParticipantRegistry
	hooks        *mgr.Manager

	quiesce *quiesce.Module
	journal *journalModule
	api     *apiServer
}

func newDaemon(cfg *Config) (*daemon, error) {
	if err := cfg.check(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &daemon{
		cfg:          cfg,
		catalog:      units.NewCatalog(),
		participants: quiesce.NewParticipantRegistry(),
		hooks:        mgr.New("Hooks"),
	}

	for _, uc := range cfg.Units {
		u, err := units.NewCommandUnit(uc.ID, uc.Stop, uc.StopTimeout)
		if err != nil {
			return nil, err
		}
		if err := d.catalog.Add(u); err != nil {
			return nil, fmt.Errorf("unit %s: %w", uc.ID, err)
		}
	}

	for _, pc := range cfg.Participants {
		p, err := units.NewHookParticipant(d.hooks, pc.Name, pc.Command, pc.Timeout)
		if err != nil {
			return nil, err
		}
		if err := d.participants.Register(p); err != nil {
			return nil, fmt.Errorf("participant %s: %w", pc.Name, err)
		}
	}

	var err error
	d.quiesce, err = quiesce.NewModule(cfg.Quiesce, d.participants, nil)
	if err != nil {
		return nil, err
	}
	qm := d.quiesce.QuiesceManager()

	if cfg.Journal.Path != "" {
		d.journal = newJournalModule(cfg.Journal, qm)
	}
	d.api = newAPIServer(cfg.Listen, qm, d.catalog, d.journal)

	return d, nil
}

// group returns the modules in start order.
func (d *daemon) group() *mgr.Group {
	return mgr.NewGroup(d.journal, d.quiesce, d.api)
}

// quiesceAll quiesces every known unit and waits for the result.
func (d *daemon) quiesceAll() {
	qm := d.quiesce.QuiesceManager()
	all := d.catalog.Units()
	if len(all) == 0 {
		return
	}

	d.quiesce.Manager().Info("quiescing all units before exit", "units", len(all))
	req := qm.QuiesceRequest(all, qm.DefaultTimeout())
	req.Handle().Wait()

	status := req.Status()
	d.quiesce.Manager().Info(
		"quiesced all units",
		"stopped", len(status.Stopped),
		"timedOut", status.TimedOut,
	)
}

// close releases resources that are not managed by the module group.
func (d *daemon) close() {
	d.hooks.Cancel()
	d.hooks.WaitForWorkers(0)
}
