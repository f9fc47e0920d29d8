// Package server hosts the retrieval coordinator and the HTTP surface in
// front of it: tier-routed orchestration, KEK transport wrapping, and
// audit emission, behind the signed-request auth gate.
package server

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dennisMeeQ/clavum/internal/approval"
	"github.com/dennisMeeQ/clavum/internal/audit"
	"github.com/dennisMeeQ/clavum/internal/authgate"
	"github.com/dennisMeeQ/clavum/internal/storage"
)

type Server struct {
	cfg    Config
	mux    *http.ServeMux
	logger *log.Logger
	now    func() time.Time

	store    storage.Backend
	gate     *authgate.Gate
	machine  *approval.Machine
	recorder *audit.Recorder
	keys     *keyCache

	rlRetrieve *identityLimiter
	rlApprove  *identityLimiter
	rlAddr     *identityLimiter
}

// New wires a server from injected collaborators. The clock, stores, and
// audit sink all arrive here so tests can pin time and storage.
func New(cfg Config, store storage.Backend, logger *log.Logger, now func() time.Time) *Server {
	cfg.setDefaults()
	if logger == nil {
		logger = log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)
	}
	if now == nil {
		now = time.Now
	}

	s := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		logger:   logger,
		now:      now,
		store:    store,
		gate:     authgate.New(store, store, now, logger),
		machine:  approval.New(store, now),
		recorder: audit.NewRecorder(store, now, logger),
		keys:     newKeyCache(store, cfg.KeyCacheTTL, now),
	}

	s.rlRetrieve = newIdentityLimiter(retrievePolicy, 10*time.Minute)
	s.rlApprove = newIdentityLimiter(approvePolicy, 10*time.Minute)
	s.rlAddr = newIdentityLimiter(addrPolicy, time.Hour)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/health", s.handleHealth)

	agent := func(h http.HandlerFunc) http.Handler { return s.gate.RequireAgent(h) }
	phone := func(h http.HandlerFunc) http.Handler { return s.gate.RequirePhone(h) }

	s.mux.Handle("/api/secrets/register", agent(s.handleRegisterSecret))
	s.mux.Handle("/api/secrets", agent(s.handleListSecrets))
	s.mux.Handle("/api/secrets/", agent(s.handleSecretSubtree))

	s.mux.Handle("/api/approvals/pending", phone(s.handlePendingApprovals))
	s.mux.Handle("/api/approvals/", phone(s.handleApprovalSubtree))

	s.mux.Handle("/api/audit", agent(s.handleAudit))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Printf("panic: %v", rec)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	if strings.HasPrefix(r.URL.Path, "/api/") {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if !s.rlAddr.allow(s.now(), callerAddr(r)) {
			tooMany(w, 60)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler { return s }

// Close releases cached key material.
func (s *Server) Close() {
	s.keys.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
