// Package server exposes the health checks and the gated operator routes over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/DefiantLabs/ledger-sync/db/models"
	"github.com/DefiantLabs/ledger-sync/dlq"
	"github.com/DefiantLabs/ledger-sync/pkg/service"
	"github.com/DefiantLabs/ledger-sync/reconcile"
	"github.com/gorilla/mux"
)

const (
	AdminTokenHeader    = "X-Admin-Token"
	CorrelationIDHeader = "X-Correlation-ID"
	defaultListLimit    = 100
)

type Reconciler interface {
	Run(ctx context.Context, scope string) (*models.ReconciliationRun, error)
}

type DeadLetters interface {
	List(ctx context.Context, limit int) ([]models.FailedWrite, error)
	Resolve(ctx context.Context, signature string, status models.ResolutionStatus) error
}

type Server struct {
	health     service.Health
	reconciler Reconciler
	dlq        DeadLetters
	adminToken string
}

// New builds the router owner. reconciler and deadLetters may be nil, in which case their routes answer 503.
func New(health service.Health, reconciler Reconciler, deadLetters DeadLetters, adminToken string) *Server {
	return &Server{health: health, reconciler: reconciler, dlq: deadLetters, adminToken: adminToken}
}

func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(WithCorrelationID)

	r.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.HandleReady).Methods(http.MethodGet)

	r.Handle("/diagnostics", s.RequireAdmin(http.HandlerFunc(s.HandleDiagnostics))).Methods(http.MethodGet)
	r.Handle("/admin/reconcile", s.RequireAdmin(http.HandlerFunc(s.HandleReconcile))).Methods(http.MethodPost)
	r.Handle("/admin/dlq", s.RequireAdmin(http.HandlerFunc(s.HandleDLQList))).Methods(http.MethodGet)
	r.Handle("/admin/dlq/{signature}/resolve", s.RequireAdmin(http.HandlerFunc(s.HandleDLQResolve))).Methods(http.MethodPost)

	return r
}

// HTTPServer wraps the router for the sync command.
func (s *Server) HTTPServer(port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// WithCorrelationID attaches a request logger carrying the caller's correlation id. Requests
// without one pass through untouched.
func WithCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(config.WithCorrelationID(r.Context(), id)))
	})
}

// RequireAdmin rejects requests without the admin token. An unset token disables the route.
func (s *Server) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusForbidden, "admin routes are disabled")
			return
		}
		token := r.Header.Get(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			config.Log.Ctx(r.Context()).Warn().Str("path", r.URL.Path).Msg("rejected admin request")
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Health(r.Context()))
}

func (s *Server) HandleReady(w http.ResponseWriter, _ *http.Request) {
	if s.health.Ready() {
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
}

func (s *Server) HandleDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Diagnostics(r.Context()))
}

func (s *Server) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, "reconciliation is not configured")
		return
	}
	scope := r.URL.Query().Get("scope")
	logger := config.Log.Ctx(r.Context())
	logger.Info().Str("scope", scope).Msg("reconciliation triggered over http")

	// the run outlives a dropped client connection
	run, err := s.reconciler.Run(context.WithoutCancel(r.Context()), scope)
	switch {
	case errors.Is(err, reconcile.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil && run == nil:
		logger.Error().Err(err).Msg("reconciliation could not start")
		writeError(w, http.StatusInternalServerError, err.Error())
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, run)
	default:
		writeJSON(w, http.StatusOK, run)
	}
}

func (s *Server) HandleDLQList(w http.ResponseWriter, r *http.Request) {
	if s.dlq == nil {
		writeError(w, http.StatusServiceUnavailable, "dead-letter queue is not configured")
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	rows, err := s.dlq.List(r.Context(), limit)
	if err != nil {
		config.Log.Ctx(r.Context()).Error().Err(err).Msg("failed to list dead letters")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type resolveRequest struct {
	Status string `json:"status"`
}

func (s *Server) HandleDLQResolve(w http.ResponseWriter, r *http.Request) {
	if s.dlq == nil {
		writeError(w, http.StatusServiceUnavailable, "dead-letter queue is not configured")
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	signature := mux.Vars(r)["signature"]
	err := s.dlq.Resolve(r.Context(), signature, models.ResolutionStatus(req.Status))
	switch {
	case errors.Is(err, dlq.ErrInvalidResolution):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dlq.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		config.Log.Error("failed to encode response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
