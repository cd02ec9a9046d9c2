package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/helmsman/internal/rebalancer"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealth reports process health and host resource usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "helmsman",
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		response["memory_used_pct"] = vm.UsedPercent
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		response["cpu_pct"] = pcts[0]
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleRebalancePreview runs the pipeline without committing state.
// Accepts an optional ?date=YYYY-MM-DD, defaulting to today.
func (s *Server) handleRebalancePreview(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.cfg.Engine.Preview(date, s.cfg.Portfolio.Holdings())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rebalancer.BuildReport(result))
}

// handleRebalanceExecute runs a committing rebalance and applies the targets
// to the tracked portfolio.
func (s *Server) handleRebalanceExecute(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.cfg.Engine.Rebalance(date, s.cfg.Portfolio.Holdings())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.cfg.Portfolio.ApplyTargets(result.Targets)

	if s.cfg.Persist != nil {
		if err := s.cfg.Persist(result); err != nil {
			s.log.Error().Err(err).Msg("Failed to persist state after rebalance")
		}
	}
	s.writeJSON(w, http.StatusOK, rebalancer.BuildReport(result))
}

// handlePortfolio returns the current holdings.
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"holdings": s.cfg.Portfolio.Holdings(),
	})
}

// handleConfig exports the active engine configuration as YAML.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	data, err := s.cfg.EngineCfg.Export()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleState exposes the lifecycle state of all protection managers.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ages, overrides := s.cfg.Holding.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"grace_positions":  s.cfg.Grace.Snapshot(),
		"holding_ages":     ages,
		"regime_overrides": overrides,
		"core_assets":      s.cfg.Core.Snapshot(),
	})
}

// handleRecentEvents returns the newest entries from the event log.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.EventLog == nil {
		s.writeError(w, http.StatusNotFound, "event log not configured")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	recent, err := s.cfg.EventLog.Recent(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"events": recent})
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	return time.Parse("2006-01-02", raw)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
