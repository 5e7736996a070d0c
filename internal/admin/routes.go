package admin

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "jobsched/pkg/logx"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 1000
)

// Handler builds the chi router with every admin route wired.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Liveness stays public so service managers can probe it.
	r.Get("/healthz", s.handleHealth())

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(cfg.Token))
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
		r.Get("/snapshot", s.handleSnapshot())
		r.Get("/runs", s.handleRuns())
		r.Get("/goroutines", s.handleGoroutines())
		if cfg.Pprof {
			r.Route("/debug/pprof", func(r chi.Router) {
				r.Get("/", hpprof.Index)
				r.Get("/cmdline", hpprof.Cmdline)
				r.Get("/profile", hpprof.Profile)
				r.Get("/symbol", hpprof.Symbol)
				r.Get("/trace", hpprof.Trace)
				r.Get("/{profile}", hpprof.Index)
			})
		}
	})
	return r
}

// handleHealth answers 200 while the scheduler worker is running.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if s.deps.Scheduler != nil && !s.deps.Scheduler.Snapshot().Running {
			http.Error(w, "scheduler stopped", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}
}

func (s *Server) handleSnapshot() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if s.deps.Scheduler == nil {
			http.Error(w, "no scheduler", http.StatusNotFound)
			return
		}
		s.writeJSON(w, s.deps.Scheduler.Snapshot())
	}
}

// handleRuns returns the newest journal records; ?limit= caps the count.
func (s *Server) handleRuns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Runs == nil {
			http.Error(w, "storage disabled", http.StatusNotFound)
			return
		}
		limit := defaultRunsLimit
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(n, maxRunsLimit)
		}
		runs, err := s.deps.Runs.RecentRuns(r.Context(), limit)
		if err != nil {
			s.log.Warn("admin.runs_failed", logx.Err(err))
			http.Error(w, "storage error", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, runs)
	}
}

func (s *Server) handleGoroutines() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if s.deps.Goroutines == nil {
			http.Error(w, "not available", http.StatusNotFound)
			return
		}
		s.writeJSON(w, s.deps.Goroutines())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("admin.write_failed", logx.Err(err))
	}
}

// authMiddleware accepts "Authorization: Bearer <token>". An empty token
// disables the check.
func authMiddleware(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bearerMatches(r.Header.Get("Authorization"), tok) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

// bearerMatches reports whether header carries "Bearer <token>". The token
// is compared in constant time.
func bearerMatches(header, token string) bool {
	const p = "Bearer "
	if !strings.HasPrefix(header, p) {
		return false
	}
	got := strings.TrimSpace(header[len(p):])
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
