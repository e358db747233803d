package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autopost/internal/moderation"
	"autopost/internal/types"
)

// Admin is the operational HTTP surface: metrics scraping, health, and the
// reviewer decision endpoint backing the moderation gate.
type Admin struct {
	addr   string
	gate   *moderation.Gate
	logger *slog.Logger
	server *http.Server
}

func NewAdmin(addr string, gate *moderation.Gate, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{addr: addr, gate: gate, logger: logger}
}

func (a *Admin) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("POST /moderation/{id}/decision", a.handleDecision)

	a.server = &http.Server{
		Addr:    a.addr,
		Handler: mux,
	}

	go func() {
		a.logger.Info("Admin server listening", "addr", a.addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Admin server failed", "error", err)
		}
	}()
	return nil
}

func (a *Admin) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return a.server.Shutdown(shutdownCtx)
}

func (a *Admin) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type decisionRequest struct {
	Approver string `json:"approver"`
	Verdict  string `json:"verdict"`
	Comment  string `json:"comment"`
}

func (a *Admin) handleDecision(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("id")

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	verdict := types.Verdict(req.Verdict)
	if verdict != types.VerdictApprove && verdict != types.VerdictReject {
		http.Error(w, "verdict must be approve or reject", http.StatusBadRequest)
		return
	}
	if req.Approver == "" {
		http.Error(w, "approver is required", http.StatusBadRequest)
		return
	}

	err := a.gate.Decide(r.Context(), itemID, req.Approver, verdict, req.Comment)
	switch {
	case errors.Is(err, types.ErrAlreadyDecided):
		http.Error(w, "item already decided", http.StatusConflict)
	case err != nil:
		a.logger.Error("Decision endpoint failed", "item", itemID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
