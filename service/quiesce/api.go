package quiesce

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// ErrUnknownUnit is returned when a unit ID cannot be resolved.
var ErrUnknownUnit = errors.New("unknown unit")

const defaultAPIWait = 30 * time.Second

// Catalog resolves unit IDs to units.
type Catalog interface {
	Unit(id string) (Unit, bool)
	Units() []Unit
}

// API exposes a Manager via HTTP.
type API struct {
	qm      *Manager
	catalog Catalog
	router  *mux.Router
}

// NewAPI returns a new HTTP API for the given manager.
func NewAPI(qm *Manager, catalog Catalog) *API {
	a := &API{
		qm:      qm,
		catalog: catalog,
		router:  mux.NewRouter(),
	}

	a.router.HandleFunc("/api/v1/quiesce", a.handleQuiesce).Methods(http.MethodPost)
	a.router.HandleFunc("/api/v1/quiesce/{id}", a.handleStatus).Methods(http.MethodGet)
	a.router.HandleFunc("/api/v1/quiesce/{id}/wait", a.handleWait).Methods(http.MethodGet)
	a.router.HandleFunc("/api/v1/units", a.handleUnits).Methods(http.MethodGet)
	a.router.Handle("/metrics", qm.Metrics()).Methods(http.MethodGet)

	return a
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// QuiesceCommand is the body of a quiesce API call.
type QuiesceCommand struct {
	Units     []string `json:"units"`
	TimeoutMS int64    `json:"timeout_ms,omitempty"`
}

// UnitState describes a unit in the units API call.
type UnitState struct {
	ID        string `json:"id"`
	Quiescing bool   `json:"quiescing"`
}

func (a *API) handleQuiesce(w http.ResponseWriter, r *http.Request) {
	var cmd QuiesceCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if cmd.TimeoutMS < 0 {
		writeError(w, http.StatusBadRequest, errors.New("timeout_ms must not be negative"))
		return
	}

	units := make([]Unit, 0, len(cmd.Units))
	for _, id := range cmd.Units {
		u, ok := a.catalog.Unit(id)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", ErrUnknownUnit, id))
			return
		}
		units = append(units, u)
	}

	req := a.qm.QuiesceRequest(units, time.Duration(cmd.TimeoutMS)*time.Millisecond)
	writeJSON(w, http.StatusAccepted, req.Status())
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, req.Status())
}

func (a *API) handleWait(w http.ResponseWriter, r *http.Request) {
	req, ok := a.lookup(w, r)
	if !ok {
		return
	}

	wait := defaultAPIWait
	if v := r.URL.Query().Get("timeout_ms"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid timeout_ms %q", v))
			return
		}
		wait = time.Duration(ms) * time.Millisecond
	}

	if err := req.Handle().WaitTimeout(wait); err != nil {
		writeJSON(w, http.StatusRequestTimeout, req.Status())
		return
	}
	writeJSON(w, http.StatusOK, req.Status())
}

func (a *API) handleUnits(w http.ResponseWriter, _ *http.Request) {
	units := a.catalog.Units()
	states := make([]UnitState, 0, len(units))
	for _, u := range units {
		states = append(states, UnitState{
			ID:        u.ID(),
			Quiescing: a.qm.Registry().Contains(u),
		})
	}
	writeJSON(w, http.StatusOK, states)
}

func (a *API) lookup(w http.ResponseWriter, r *http.Request) (*Request, bool) {
	id := mux.Vars(r)["id"]
	req, ok := a.qm.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("request %q not found", id))
		return nil, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
