// Package server wires routes, middleware, and handler dependencies.
package server

import (
	"log/slog"
	"net/http"

	"github.com/autocally/autocally/pkg/call"
	"github.com/autocally/autocally/pkg/gateway/config"
	"github.com/autocally/autocally/pkg/gateway/handlers"
	"github.com/autocally/autocally/pkg/gateway/mw"
	"github.com/autocally/autocally/pkg/gateway/sessions"
	"github.com/autocally/autocally/pkg/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	orchestrator *call.Orchestrator
	store        store.Store
	liveConns    *sessions.Tracker
}

func New(cfg config.Config, logger *slog.Logger, orchestrator *call.Orchestrator, st store.Store, liveConns *sessions.Tracker) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		orchestrator: orchestrator,
		store:        st,
		liveConns:    liveConns,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:      s.cfg,
		ActiveCalls: s.orchestrator.Registry().Len,
	})

	// Websocket auth happens inside the handler so browser clients can pass
	// the key as a query parameter.
	s.mux.Handle("/v1/calls/stream", handlers.LiveCallHandler{
		Config:       s.cfg,
		Orchestrator: s.orchestrator,
		Logger:       s.logger,
		LiveConns:    s.liveConns,
	})

	s.mux.Handle("GET /v1/calls/{id}/transcripts", mw.Auth(s.cfg, handlers.TranscriptsHandler{
		Store:  s.store,
		Logger: s.logger,
	}))

	// Telephony webhooks are called by the provider, not by api-key holders.
	s.mux.Handle("/webhooks/telephony/incoming-call", handlers.IncomingCallHandler{
		Config: s.cfg,
		Store:  s.store,
		Logger: s.logger,
	})
	s.mux.Handle("/webhooks/telephony/call-status", handlers.CallStatusHandler{
		Orchestrator: s.orchestrator,
		Logger:       s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
