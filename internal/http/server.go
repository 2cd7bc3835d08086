// Package http exposes the ledger as a JSON API.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hisob/internal/core"
	"hisob/internal/log"
	"hisob/internal/services"
)

// Store is the persistence the API reads and writes directly. Satisfied by
// storage.SQLiteRepository.
type Store interface {
	EnsureGroup(ctx context.Context, externalID int64, title string) (core.Group, error)
	GetGroup(ctx context.Context, id int64) (core.Group, error)
	EnsureMember(ctx context.Context, m core.Member) (core.Member, error)
	GetMember(ctx context.Context, id int64) (core.Member, error)
	ToggleResident(ctx context.Context, memberID int64) (core.Member, error)
	ListMembers(ctx context.Context, groupID int64) ([]core.Member, error)
	ListTransactions(ctx context.Context, groupID int64) ([]core.Transaction, error)
	Ping(ctx context.Context) error
}

// Recorder appends transactions. Satisfied by services.Recorder.
type Recorder interface {
	Append(ctx context.Context, req services.AppendRequest) (core.Transaction, error)
	FixedShared(ctx context.Context, groupID, payerID, amount int64, note string) (core.Transaction, error)
	ListRecent(ctx context.Context, groupID int64, limit int) ([]core.Transaction, error)
}

// RosterNotifier is implemented by notifiers that report roster changes
// apart from ledger changes.
type RosterNotifier interface {
	MembersChanged(ctx context.Context, groupID int64) error
}

// DashboardUpdater forces a dashboard refresh.
type DashboardUpdater interface {
	UpdateNow(ctx context.Context, groupID int64) error
}

type Deps struct {
	Store     Store
	Recorder  Recorder
	Dashboard DashboardUpdater
	// Notifier is told about roster changes that affect the dashboard.
	Notifier services.Notifier
	Logger   *log.Logger
	// Metrics serves /metrics; promhttp.Handler() when nil.
	Metrics http.Handler
	// WriteLimit caps write requests per client IP per minute; 0 uses 60.
	WriteLimit int
}

type Server struct {
	http.Server
	deps         Deps
	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentHTTP)
	}
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}
	if deps.WriteLimit <= 0 {
		deps.WriteLimit = 60
	}

	s := &Server{
		deps:        deps,
		rateLimiter: newRateLimiter(deps.WriteLimit, time.Minute),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", deps.Metrics)

	mux.HandleFunc("PUT /api/groups/{externalID}", s.withSecurity(s.handleEnsureGroup))
	mux.HandleFunc("POST /api/groups/{groupID}/members", s.withSecurity(s.handleEnsureMember))
	mux.HandleFunc("POST /api/groups/{groupID}/members/{memberID}/resident", s.withSecurity(s.handleToggleResident))
	mux.HandleFunc("POST /api/groups/{groupID}/transactions", s.withSecurity(s.handleAppendTransaction))
	mux.HandleFunc("GET /api/groups/{groupID}/transactions", s.withSecurity(s.handleListTransactions))
	mux.HandleFunc("GET /api/groups/{groupID}/balances", s.withSecurity(s.handleBalances))
	mux.HandleFunc("POST /api/groups/{groupID}/dashboard", s.withSecurity(s.handleUpdateDashboard))

	s.Server = http.Server{
		Addr:              addr,
		Handler:           log.Middleware(deps.Logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// withSecurity sets response hardening headers and rate limits writes.
func (s *Server) withSecurity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)

		if r.Method != http.MethodGet {
			clientIP := extractClientIP(r)
			if !s.rateLimiter.allow(clientIP) {
				slog.WarnContext(r.Context(), "Rate limit exceeded",
					log.FieldComponent, log.ComponentHTTP,
					"client_ip", clientIP,
					log.FieldMethod, r.Method,
					log.FieldPath, r.URL.Path)
				w.Header().Set("Retry-After", "60")
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		slog.WarnContext(ctx, "Readiness check failed", log.FieldComponent, log.ComponentHTTP, log.FieldError, err)
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
