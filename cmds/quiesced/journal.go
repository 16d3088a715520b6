package main

import (
	"sync"

	"github.com/safing/quiesce/service/journal"
	"github.com/safing/quiesce/service/mgr"
	"github.com/safing/quiesce/service/quiesce"
)

// journalModule records finished requests in the journal while running.
type journalModule struct {
	mgr *mgr.Manager
	cfg JournalConfig

	lock    sync.RWMutex
	journal *journal.Journal
}

func newJournalModule(cfg JournalConfig, qm *quiesce.Manager) *journalModule {
	jm := &journalModule{
		mgr: mgr.New("Journal"),
		cfg: cfg,
	}
	qm.OnFinished(jm.record)
	return jm
}

func (jm *journalModule) Manager() *mgr.Manager {
	return jm.mgr
}

func (jm *journalModule) Start() error {
	j, err := journal.Open(jm.cfg.Path, jm.cfg.MaxEntries)
	if err != nil {
		return err
	}

	jm.lock.Lock()
	defer jm.lock.Unlock()
	jm.journal = j
	return nil
}

func (jm *journalModule) Stop() error {
	jm.lock.Lock()
	defer jm.lock.Unlock()

	if jm.journal == nil {
		return nil
	}
	err := jm.journal.Close()
	jm.journal = nil
	return err
}

func (jm *journalModule) record(req *quiesce.Request) {
	jm.lock.RLock()
	defer jm.lock.RUnlock()

	if jm.journal == nil {
		jm.mgr.Warn("journal closed, dropping entry", "request", req.ID())
		return
	}
	if err := jm.journal.Record(req.Status()); err != nil {
		jm.mgr.Error("failed to record request", "request", req.ID(), "err", err)
	}
}

// list returns the newest entries.
func (jm *journalModule) list(limit int) ([]quiesce.RequestStatus, error) {
	jm.lock.RLock()
	defer jm.lock.RUnlock()

	if jm.journal == nil {
		return nil, nil
	}
	return jm.journal.List(limit)
}
