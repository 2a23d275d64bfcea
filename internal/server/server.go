// Package server exposes the collaboration engine over two demo transports:
// an HTTP + websocket endpoint for live editing and a QUIC endpoint serving
// full-state sync snapshots to reconnecting replicas. Neither is a
// replication protocol; they seed clients and relay engine notifications.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coedit/coedit/internal/config"
	"github.com/coedit/coedit/internal/core/collab"
	"github.com/coedit/coedit/internal/core/document"
	"github.com/coedit/coedit/internal/core/events/bus"
	"github.com/coedit/coedit/internal/core/observability/log"
)

type Server struct {
	cfg     config.Config
	logger  log.Log
	manager *collab.Manager

	httpServer *http.Server
	quicServer *QuicSyncServer
	rooms      *roomSet

	subs     []bus.Subscription
	stopChan chan struct{}
	workers  sync.WaitGroup
}

func NewServer(cfg config.Config, logger log.Log, manager *collab.Manager) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		manager:  manager,
		rooms:    newRoomSet(logger),
		stopChan: make(chan struct{}),
	}

	// engine notifications fan out to the session's websocket room
	s.subs = append(s.subs,
		manager.OnChange(func(ev collab.ChangeEvent) {
			s.rooms.broadcast(ev.SessionID, serverMessage{
				Type:      "change",
				SessionID: ev.SessionID,
				Operation: ev.Operation,
			})
		}),
		manager.OnPresence(func(ev collab.PresenceEvent) {
			s.rooms.broadcast(ev.SessionID, serverMessage{
				Type:        "presence",
				SessionID:   ev.SessionID,
				Participant: &ev.Participant,
			})
		}),
	)
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSession)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start launches the HTTP/websocket listener, the QUIC sync listener and the
// idle sweep. It returns once the listeners are set up.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{Addr: s.cfg.HTTPAddr, Handler: s.routes()}

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", log.Error(err))
		}
	}()

	if s.cfg.QUICAddr != "" {
		quicServer, err := NewQuicSyncServer(s.cfg.QUICAddr, s.manager, s.logger)
		if err != nil {
			return err
		}
		s.quicServer = quicServer
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			quicServer.Serve(ctx)
		}()
	}

	if s.cfg.Presence.IdleAfter > 0 {
		s.workers.Add(1)
		go s.sweepIdle()
	}

	s.logger.Info("server started",
		log.String("http_addr", s.cfg.HTTPAddr),
		log.String("quic_addr", s.cfg.QUICAddr),
	)
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	close(s.stopChan)
	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.rooms.closeAll()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.quicServer != nil {
		s.quicServer.Close()
	}
	s.workers.Wait()
	return err
}

func (s *Server) sweepIdle() {
	defer s.workers.Done()

	every := s.cfg.Presence.SweepEvery
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if n := s.manager.SweepIdle(s.cfg.Presence.IdleAfter); n > 0 {
				s.logger.Debug("idle sweep", log.Int("transitioned", n))
			}
		}
	}
}

// handleSessions serves POST /sessions (create) and GET /sessions (list).
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CreatorID == "" {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		session := s.manager.CreateSession(req.CreatorID, req.DisplayName, req.Document)
		env, err := s.manager.SyncState(session.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, env)
	case http.MethodGet:
		sessions := s.manager.Sessions()
		ids := make([]string, len(sessions))
		for i, session := range sessions {
			ids[i] = session.ID
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSession serves GET /sessions/{id}/sync and DELETE /sessions/{id}.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(rest, "/sync"):
		id := strings.TrimSuffix(rest, "/sync")
		env, err := s.manager.SyncState(id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, env)
	case r.Method == http.MethodDelete:
		if err := s.manager.DeleteSession(rest); err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, collab.ErrSessionNotFound), errors.Is(err, collab.ErrParticipantNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, collab.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		var pathErr *document.PathError
		if errors.As(err, &pathErr) || errors.Is(err, collab.ErrNotNumeric) || errors.Is(err, collab.ErrInvalidOperation) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type createSessionRequest struct {
	CreatorID   string       `json:"creatorId"`
	DisplayName string       `json:"displayName"`
	Document    document.Doc `json:"document"`
}
