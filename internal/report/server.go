package report

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/wflatency/internal/logging"
)

// NewRouter exposes /metrics, /healthz and /anomalies. /healthz answers 503
// while the probe is unhealthy.
func NewRouter(m *Metrics) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report := m.Health().Report()
		code := http.StatusOK
		if report["status"] == HealthStatusUnhealthy.String() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(report)
	}).Methods(http.MethodGet)
	router.HandleFunc("/anomalies", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Anomalies().Recent())
	}).Methods(http.MethodGet)
	return router
}

// Server serves metrics over HTTP on its own goroutine
type Server struct {
	srv    *http.Server
	logger *logging.Logger
	addr   net.Addr
}

// NewServer creates a metrics server listening on addr
func NewServer(addr string, m *Metrics, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(m),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr()
	if s.srv.TLSConfig != nil {
		ln = tls.NewListener(ln, s.srv.TLSConfig)
	}
	s.logger.Info("Metrics server listening", logging.Fields{"addr": s.addr.String(), "tls": s.srv.TLSConfig != nil})
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server error", logging.Fields{"error": err})
		}
	}()
	return nil
}

// UseTLS serves HTTPS with cfg. Call before Start.
func (s *Server) UseTLS(cfg *tls.Config) {
	s.srv.TLSConfig = cfg
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.addr == nil {
		return s.srv.Addr
	}
	return s.addr.String()
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
