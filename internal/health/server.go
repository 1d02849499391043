// Package health exposes a lightweight HTTP health endpoint for container probes.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"wa_group_ledger_bot/internal/logging"
)

const (
	probeTimeout       = 2 * time.Second
	readHeaderTimeout  = 2 * time.Second
	healthListenPrefix = ":"
)

// Checker is a connectivity probe for one dependency.
type Checker interface {
	Ping(ctx context.Context) error
}

// Server hosts the health endpoint and owns the underlying HTTP server.
type Server struct {
	server  *http.Server
	mux     *http.ServeMux
	logger  *logrus.Entry
	mongo   Checker
	gateway Checker
}

type response struct {
	Status  string `json:"status"`
	Mongo   string `json:"mongo,omitempty"`
	Gateway string `json:"gateway,omitempty"`
}

// NewServer constructs a health server that exposes GET /healthz on the
// provided port, probing mongo and the gateway sidecar.
func NewServer(port int, mongo, gateway Checker, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger:  logger,
		mongo:   mongo,
		gateway: gateway,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)

	srv.mux = mux
	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", healthListenPrefix, port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// Register mounts an additional handler on the server's mux. Must be called
// before ListenAndServe.
func (s *Server) Register(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// ListenAndServe starts the health server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("event", "health_stopped").Info("health server stopped")
			return nil
		}

		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resp := response{Status: "ok"}

	if !s.probe(ctx, "mongo", s.mongo) {
		resp.Status = "degraded"
		resp.Mongo = "error"
	}
	if !s.probe(ctx, "gateway", s.gateway) {
		resp.Status = "degraded"
		resp.Gateway = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}

func (s *Server) probe(ctx context.Context, name string, checker Checker) bool {
	if checker == nil {
		s.logger.WithFields(logging.Fields{
			"event": "health_checker_missing",
			"probe": name,
		}).Warn("checker is not configured for health endpoint")
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := checker.Ping(probeCtx); err != nil {
		s.logger.WithFields(logging.Fields{
			"event": "health_probe_error",
			"probe": name,
		}).WithError(err).Warn("dependency ping failed during health check")
		return false
	}

	return true
}
