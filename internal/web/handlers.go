package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"github.com/vitos/crypto_rebalancer/internal/usecase"
	"go.uber.org/zap"
)

const defaultCycleLimit = 50

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

type statusResponse struct {
	Running   bool                 `json:"running"`
	LastCycle *usecase.CycleReport `json:"last_cycle,omitempty"`
	LastError string               `json:"last_error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Running: s.rebalancer.Running()}
	if last, ok := s.rebalancer.LastReport(); ok {
		resp.LastCycle = &last
		if last.Err != nil {
			resp.LastError = last.Err.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTriggerRebalance(w http.ResponseWriter, r *http.Request) {
	if s.rebalancer.Running() {
		http.Error(w, domain.ErrCycleInProgress.Error(), http.StatusConflict)
		return
	}

	go func() {
		report, err := s.rebalancer.Run(s.runCtx)
		if err != nil {
			s.logger.Error("Triggered rebalance failed", zap.String("cycle_id", report.CycleID), zap.Error(err))
			return
		}
		s.logger.Info("Triggered rebalance finished", zap.String("cycle_id", report.CycleID), zap.String("status", string(report.Status)))
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	limit := defaultCycleLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	cycles, err := s.journal.ListCycles(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list cycles", zap.Error(err))
		http.Error(w, "Failed to list cycles", http.StatusInternalServerError)
		return
	}
	if cycles == nil {
		cycles = []domain.CycleRecord{}
	}
	s.writeJSON(w, http.StatusOK, cycles)
}

func (s *Server) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cycle, err := s.journal.GetCycle(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to get cycle", zap.String("cycle_id", id), zap.Error(err))
		http.Error(w, "Failed to get cycle", http.StatusInternalServerError)
		return
	}
	if cycle == nil {
		http.Error(w, domain.ErrCycleNotFound.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, cycle)
}

func (s *Server) handleCycleTrades(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trades, err := s.journal.ListTrades(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to list trades", zap.String("cycle_id", id), zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleCycleUpdates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	updates, err := s.journal.ListOrderUpdates(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to list order updates", zap.String("cycle_id", id), zap.Error(err))
		http.Error(w, "Failed to list order updates", http.StatusInternalServerError)
		return
	}
	if updates == nil {
		updates = []domain.OrderUpdateRecord{}
	}
	s.writeJSON(w, http.StatusOK, updates)
}

func (s *Server) handleCycleSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	summary, err := s.analyzer.Analyze(r.Context(), id)
	if errors.Is(err, domain.ErrCycleNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Failed to analyze cycle", zap.String("cycle_id", id), zap.Error(err))
		http.Error(w, "Failed to analyze cycle", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}
