package rest

import (
	"net/http"
	"strconv"

	"github.com/commatea/modbus-sniffer/pkg/anomaly"
	"github.com/commatea/modbus-sniffer/pkg/api/middleware"
	"github.com/commatea/modbus-sniffer/pkg/history"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type hubStatus struct {
	Name  string `json:"name"`
	Mode  string `json:"mode"`
	State string `json:"state"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses := make([]hubStatus, 0, len(s.hubs))
	for _, h := range s.hubs {
		info := h.Info()
		statuses = append(statuses, hubStatus{Name: info.ID, Mode: info.Type, State: h.State().String()})
	}
	subscribers := 0
	if s.bus != nil {
		subscribers = s.bus.SubscriberCount()
	}
	respondJSON(w, http.StatusOK, map[string]any{"hubs": statuses, "subscribers": subscribers})
}

// handleRegisters returns a register-store snapshot, optionally
// filtered by ?unit= and ?register=. When only ?register= is given it
// uses the by-register-only fallback lookup.
func (s *Server) handleRegisters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	registerRaw := q.Get("register")
	unitRaw := q.Get("unit")

	if registerRaw == "" {
		respondJSON(w, http.StatusOK, s.store.Snapshot())
		return
	}

	reg, err := strconv.ParseUint(registerRaw, 10, 16)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid register")
		return
	}

	if unitRaw == "" {
		sample, ok := s.store.GetByRegister(uint16(reg))
		if !ok {
			respondError(w, http.StatusNotFound, "no sample for register")
			return
		}
		respondJSON(w, http.StatusOK, sample)
		return
	}

	unit, err := strconv.ParseUint(unitRaw, 10, 8)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid unit")
		return
	}
	sample, ok := s.store.Get(byte(unit), uint16(reg))
	if !ok {
		respondError(w, http.StatusNotFound, "no sample for unit/register")
		return
	}
	respondJSON(w, http.StatusOK, sample)
}

func (s *Server) parseHistoryFilters(r *http.Request) history.Filters {
	q := r.URL.Query()
	f, notes := history.ParseFilters(q.Get("start_addr"), q.Get("end_addr"), q.Get("start_time"), q.Get("end_time"))
	for _, n := range notes {
		s.logger.Info("rest: history filter notice", "notice", n)
	}
	if op, ok := middleware.OperatorFromContext(r.Context()); ok {
		s.logger.Info("rest: history query", "operator", op.Subject, "role", op.Role)
	}
	return f
}

func (s *Server) handleHistoryReads(w http.ResponseWriter, r *http.Request) {
	result, err := history.QueryReads(s.packetLogPath, s.parseHistoryFilters(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistoryWrites(w http.ResponseWriter, r *http.Request) {
	result, err := history.QueryWrites(s.packetLogPath, s.parseHistoryFilters(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleAnomalies surfaces the Anomaly Ledger over HTTP so an operator
// doesn't need direct sqlite access, optionally filtered by ?kind= and
// capped by ?limit= (default 100).
func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		respondJSON(w, http.StatusOK, map[string]any{"anomalies": []anomaly.Record{}})
		return
	}

	q := r.URL.Query()
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.ledger.Recent(anomaly.Kind(q.Get("kind")), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"anomalies": records})
}
