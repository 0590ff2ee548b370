// Package rest implements the HTTP half of the API surface (K):
// health/metrics, hub status, the register snapshot, the two history
// query endpoints, and JWT login.
package rest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/commatea/modbus-sniffer/pkg/anomaly"
	"github.com/commatea/modbus-sniffer/pkg/api/middleware"
	"github.com/commatea/modbus-sniffer/pkg/config"
	"github.com/commatea/modbus-sniffer/pkg/eventbus"
	"github.com/commatea/modbus-sniffer/pkg/hub"
	"github.com/commatea/modbus-sniffer/pkg/logger"
	"github.com/commatea/modbus-sniffer/pkg/register"
)

// Server is the REST API server. It only ever reads from the shared
// register store, packet log path and anomaly ledger; it owns no
// capture state of its own.
type Server struct {
	hubs          []*hub.Hub
	store         *register.Store
	bus           *eventbus.Bus
	ledger        *anomaly.Ledger
	packetLogPath string
	cfg           config.APIConfig
	jwtSecret     string
	logger        *logger.Logger

	srv *http.Server
}

// NewServer builds a Server. hubs and bus are used only for
// /api/v1/status (hub states and subscriber count).
func NewServer(hubs []*hub.Hub, store *register.Store, bus *eventbus.Bus, ledger *anomaly.Ledger, packetLogPath string, cfg config.APIConfig, jwtSecret string, lg *logger.Logger) *Server {
	return &Server{
		hubs:          hubs,
		store:         store,
		bus:           bus,
		ledger:        ledger,
		packetLogPath: packetLogPath,
		cfg:           cfg,
		jwtSecret:     jwtSecret,
		logger:        lg,
	}
}

// Start registers routes and begins serving in a background goroutine.
func (s *Server) Start() error {
	r := mux.NewRouter()
	s.registerRoutes(r)

	if len(s.cfg.Users) > 0 {
		auth := middleware.NewAPIKeyAuth(s.cfg.Users, s.jwtSecret)
		r.Use(auth.Handler)
	}

	addr := s.cfg.RESTAddr
	if addr == "" {
		addr = ":8080"
	}
	s.srv = &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("rest: server error", "err", err)
		}
	}()
	s.logger.Info("rest: listening", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/api/v1").Subrouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	v1.HandleFunc("/login", s.handleLogin).Methods("POST")
	v1.HandleFunc("/status", s.handleStatus).Methods("GET")
	v1.HandleFunc("/registers", s.handleRegisters).Methods("GET")
	v1.HandleFunc("/history/fc03", s.handleHistoryReads).Methods("GET")
	v1.HandleFunc("/history/fc06", s.handleHistoryWrites).Methods("GET")
	v1.HandleFunc("/anomalies", s.handleAnomalies).Methods("GET")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
