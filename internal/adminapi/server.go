// Copyright 2025 James Ross
package adminapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/flyingrobots/go-model-router/internal/rbac"
)

// Server hosts the §6 admin HTTP surface.
type Server struct {
	cfg     Config
	handler *Handler
	keys    *rbac.KeyStore
	logger  *zap.Logger
	http    *http.Server
}

// NewServer builds the admin server; Handler and KeyStore are constructed by
// the caller so they can be shared (e.g. the same KeyStore instance backs the
// RBAC middleware and the Handler's key-management endpoints).
func NewServer(cfg Config, handler *Handler, keys *rbac.KeyStore, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, handler: handler, keys: keys, logger: logger}
}

// Routes builds the mux, applying per-route role requirements per §6.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	read := rbac.Require(s.keys, rbac.RoleRead, s.logger)
	write := rbac.Require(s.keys, rbac.RoleWrite, s.logger)

	r.Handle("/admin/fair/weight", write(http.HandlerFunc(s.handler.SetWeight))).Methods(http.MethodPost)
	r.Handle("/admin/fair/served", read(http.HandlerFunc(s.handler.Served))).Methods(http.MethodGet)
	r.Handle("/admin/version", read(http.HandlerFunc(s.handler.VersionInfo))).Methods(http.MethodGet)
	r.Handle("/admin/state_health", read(http.HandlerFunc(s.handler.StateHealth))).Methods(http.MethodGet)
	r.Handle("/admin/audit", read(http.HandlerFunc(s.handler.Audit))).Methods(http.MethodGet)
	r.Handle("/admin/keys", write(http.HandlerFunc(s.handler.AddKey))).Methods(http.MethodPost)
	r.Handle("/admin/keys/{hash}", write(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.handler.RemoveKey(w, req, mux.Vars(req)["hash"])
	}))).Methods(http.MethodDelete)

	var handler http.Handler = r
	handler = AuditMiddleware(s.handler.AuditLog, s.logger)(handler)
	handler = CORSMiddleware(s.cfg.CORSAllowOrigins)(handler)
	handler = RateLimitMiddleware(s.cfg.RPS, s.cfg.RPSBurst)(handler)
	handler = RequestIDMiddleware()(handler)
	handler = RecoveryMiddleware(s.logger)(handler)
	return handler
}

// Start runs the admin HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{Addr: s.cfg.ListenAddr, Handler: s.Routes(), ReadTimeout: s.cfg.ReadTimeout, WriteTimeout: s.cfg.WriteTimeout}
	s.logger.Info("starting admin API", zap.String("addr", s.cfg.ListenAddr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the admin server and closes the audit log.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.handler.AuditLog != nil {
		s.handler.AuditLog.Close()
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
