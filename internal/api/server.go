// Package api exposes the coordinator and the accounts repository over a
// JSON HTTP API, with notifications streamed as Server-Sent Events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Dicklesworthstone/boostd/internal/coordinator"
	"github.com/Dicklesworthstone/boostd/internal/db"
	"github.com/Dicklesworthstone/boostd/internal/events"
)

// Controller is the coordinator surface the API drives.
type Controller interface {
	StartLogin(ctx context.Context, accountID string, creds coordinator.Credentials) (string, error)
	SubmitChallengeResponse(ctx context.Context, accountID, code string) error
	SetActivity(ctx context.Context, accountID string, items []string) ([]int, error)
	ClearActivity(ctx context.Context, accountID string) ([]int, error)
	Stop(ctx context.Context, accountID string) error
	GetStatus(accountID string) (coordinator.Snapshot, bool)
	ListActive() []coordinator.Snapshot
	RunID() string
}

// Accounts is the accounts repository surface the API uses.
type Accounts interface {
	CreateAccount(ctx context.Context, in db.NewAccount) (*db.Account, error)
	FindAccount(ctx context.Context, id string) (*db.Account, error)
	ResolveAccount(ctx context.Context, ref string) (*db.Account, error)
	ListAccounts(ctx context.Context) ([]*db.Account, error)
	UpdateAccount(ctx context.Context, id string, u db.AccountUpdate) (*db.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	AccountStatistics(ctx context.Context, id string) (*db.AccountStats, error)
	RecentSessions(ctx context.Context, accountID string, limit int) ([]db.SessionRecord, error)
}

var (
	_ Controller = (*coordinator.Coordinator)(nil)
	_ Accounts   = (*db.DB)(nil)
)

// Server is the daemon's HTTP API.
type Server struct {
	coord    Controller
	accounts Accounts
	hub      *events.Hub
	server   *http.Server
	logger   *slog.Logger
	started  time.Time

	// KeepAlive is the SSE comment interval.
	KeepAlive time.Duration
}

// NewServer wires the routes. hub may be nil, in which case /events is not
// served.
func NewServer(coord Controller, accounts Accounts, hub *events.Hub, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		coord:     coord,
		accounts:  accounts,
		hub:       hub,
		logger:    logger.With("component", "api"),
		started:   time.Now(),
		KeepAlive: 15 * time.Second,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	if hub != nil {
		mux.HandleFunc("GET /events", s.handleEvents)
	}

	mux.HandleFunc("POST /sessions", s.handleStartLogin)
	mux.HandleFunc("GET /sessions/{account}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{account}", s.handleStopSession)
	mux.HandleFunc("POST /sessions/{account}/challenge", s.handleChallenge)
	mux.HandleFunc("PUT /sessions/{account}/activity", s.handleSetActivity)
	mux.HandleFunc("DELETE /sessions/{account}/activity", s.handleClearActivity)

	mux.HandleFunc("GET /accounts", s.handleListAccounts)
	mux.HandleFunc("POST /accounts", s.handleCreateAccount)
	mux.HandleFunc("GET /accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("PUT /accounts/{id}", s.handleUpdateAccount)
	mux.HandleFunc("DELETE /accounts/{id}", s.handleDeleteAccount)
	mux.HandleFunc("GET /accounts/{id}/stats", s.handleAccountStats)
	mux.HandleFunc("GET /accounts/{id}/sessions", s.handleAccountSessions)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.withLogging(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting API server", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach Flush and SetWriteDeadline.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

// HealthResponse is the response from /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	Uptime    string    `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		RunID:     s.coord.RunID(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	})
}

// StatusResponse is the response from /status.
type StatusResponse struct {
	Sessions    []coordinator.Snapshot `json:"sessions"`
	TotalActive int                    `json:"total_active"`
	Timestamp   time.Time              `json:"timestamp"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessions := s.coord.ListActive()
	writeJSON(w, http.StatusOK, StatusResponse{
		Sessions:    sessions,
		TotalActive: len(sessions),
		Timestamp:   time.Now().UTC(),
	})
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

const (
	kindBadRequest        = "invalid_argument"
	kindDuplicateUsername = "duplicate_username"
)

// errorStatus maps an error to its HTTP status and kind.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, db.ErrAccountNotFound):
		return http.StatusNotFound, string(coordinator.KindNotFound)
	case errors.Is(err, db.ErrDuplicateUsername):
		return http.StatusConflict, kindDuplicateUsername
	case errors.Is(err, db.ErrInvalidAccount):
		return http.StatusBadRequest, kindBadRequest
	}

	kind := coordinator.KindOf(err)
	switch kind {
	case coordinator.KindAlreadyActive, coordinator.KindNotActive, coordinator.KindStaleChallenge:
		return http.StatusConflict, string(kind)
	case coordinator.KindNotFound:
		return http.StatusNotFound, string(kind)
	case coordinator.KindNoValidItems, coordinator.KindInvalid:
		return http.StatusBadRequest, string(kind)
	case coordinator.KindShuttingDown:
		return http.StatusServiceUnavailable, string(kind)
	case coordinator.KindRemote:
		return http.StatusBadGateway, string(kind)
	default:
		return http.StatusInternalServerError, string(kind)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Kind: kindBadRequest})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a JSON body of at most 1 MiB. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
