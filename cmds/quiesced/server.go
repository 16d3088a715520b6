package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/safing/quiesce/service/mgr"
	"github.com/safing/quiesce/service/quiesce"
)

const (
	defaultJournalLimit = 100
	shutdownTimeout     = 5 * time.Second
)

// apiServer serves the HTTP API.
type apiServer struct {
	mgr     *mgr.Manager
	listen  string
	handler http.Handler

	lock     sync.Mutex
	server   *http.Server
	listener net.Listener
}

func newAPIServer(listen string, qm *quiesce.Manager, catalog quiesce.Catalog, jm *journalModule) *apiServer {
	router := mux.NewRouter()
	if jm != nil {
		router.HandleFunc("/api/v1/journal", journalHandler(jm)).Methods(http.MethodGet)
	}
	router.PathPrefix("/").Handler(quiesce.NewAPI(qm, catalog))

	return &apiServer{
		mgr:     mgr.New("API"),
		listen:  listen,
		handler: router,
	}
}

func (s *apiServer) Manager() *mgr.Manager {
	return s.mgr
}

func (s *apiServer) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.lock.Lock()
	s.server = server
	s.listener = ln
	s.lock.Unlock()

	s.mgr.Go("http server", func(w *mgr.WorkerCtx) error {
		w.Info("listening", "address", ln.Addr().String())
		err := server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	return nil
}

func (s *apiServer) Stop() error {
	s.lock.Lock()
	server := s.server
	s.lock.Unlock()

	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}

// Addr returns the address the server listens on.
func (s *apiServer) Addr() string {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func journalHandler(jm *journalModule) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultJournalLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		entries, err := jm.list(limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []quiesce.RequestStatus{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(entries)
	}
}
