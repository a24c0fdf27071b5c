// Package admin exposes the local HTTP API the CLI and operators use to
// inspect and control a running daemon. It binds to loopback by default.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/finchwork/finch/internal/approval"
	"github.com/finchwork/finch/internal/capability"
	"github.com/finchwork/finch/internal/config"
	"github.com/finchwork/finch/internal/orchestrator"
)

// Server is the admin HTTP server.
type Server struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
	srv    *http.Server
}

// New creates an admin server for a running orchestrator.
func New(cfg config.AdminConfig, orch *orchestrator.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{orch: orch, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/approvals", s.handleListApprovals)
	mux.HandleFunc("GET /api/v1/approvals/{id}", s.handleGetApproval)
	mux.HandleFunc("POST /api/v1/approvals/{id}/approve", s.resolveHandler(true))
	mux.HandleFunc("POST /api/v1/approvals/{id}/reject", s.resolveHandler(false))
	mux.HandleFunc("POST /api/v1/tasks/run", s.handleRunTask)
	mux.HandleFunc("POST /api/v1/modules/{name}/enable", s.handleEnableModule)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("admin api listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin api failed", "error", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.HealthCheck(r.Context()))
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	q := s.orch.Approvals()
	if _, err := q.CleanupExpired(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	pending, err := q.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	req, err := s.orch.Approvals().Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, approval.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) resolveHandler(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Note string `json:"note"`
			By   string `json:"by"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.By == "" {
			body.By = "admin-api"
		}

		id := r.PathValue("id")
		var err error
		if approve {
			err = s.orch.Approvals().Approve(r.Context(), id, body.Note, body.By)
		} else {
			err = s.orch.Approvals().Reject(r.Context(), id, body.Note, body.By)
		}

		var statusErr *approval.StatusError
		switch {
		case err == nil:
			status := "approved"
			if !approve {
				status = "rejected"
			}
			writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": status})
		case errors.Is(err, approval.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, approval.ErrExpired):
			writeError(w, http.StatusConflict, err)
		case errors.As(err, &statusErr):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
	}
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Module string `json:"module"`
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Module == "" || body.Action == "" {
		writeError(w, http.StatusBadRequest, errors.New("module and action are required"))
		return
	}

	result, err := s.orch.RunTask(r.Context(), body.Module, body.Action)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "result": result})
	case errors.Is(err, capability.ErrModuleDisabled):
		writeJSON(w, http.StatusConflict, map[string]string{"status": "skipped", "reason": err.Error()})
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleEnableModule(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.orch.EnableModule(name); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"module": name, "status": "enabled"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
