// Package diag serves operator diagnostics over HTTP: net/http/pprof and a
// JSON health snapshot of running batches and logins. Off by default.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "groupbot/internal/runtime/supervisor"
	logx "groupbot/pkg/logx"
)

const defaultAddr = "127.0.0.1:6060"

type Config struct {
	Enabled bool
	Addr    string
	// Token is required as "Authorization: Bearer <token>" or ?token= when set.
	Token string
}

// HealthFunc returns a JSON-encodable snapshot for /healthz.
type HealthFunc func() any

// RunFunc runs the named housekeeping job now; false means no such job.
type RunFunc func(name string) bool

type Service struct {
	log    logx.Logger
	health HealthFunc
	run    RunFunc

	mu  sync.Mutex
	cfg Config
	sup *rtsup.Supervisor
	srv *http.Server
	ln  net.Listener
}

func New(log logx.Logger, health HealthFunc) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if health == nil {
		health = func() any { return map[string]string{"status": "ok"} }
	}
	return &Service{log: log.With(logx.String("comp", "diag")), health: health}
}

// SetRunner enables POST /jobs/run?name=<job>.
func (s *Service) SetRunner(fn RunFunc) { s.run = fn }

// Reconfigure starts, stops or restarts the server to match cfg. Safe during hot reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.start(ctx)
	}
}

func (s *Service) start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Diagnostics never take the bot down.
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("diag.http", s.serveOnce, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

// Addr returns the bound listen address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv, s.ln = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("diagnostics stopped")
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if cfg.Token == "" && !IsLoopbackAddr(addr) {
		return errors.New("diag refused to start: non-loopback addr requires a token")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(cfg.Token), ReadHeaderTimeout: 5 * time.Second}

	s.mu.Lock()
	s.srv, s.ln = srv, ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}()

	s.log.Info("diagnostics serving", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cfg.Token != ""))
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv, s.ln = nil, nil
	}
	s.mu.Unlock()
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler returns the diagnostics mux, guarded by token when it is set.
func (s *Service) Handler(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.health())
	})
	mux.HandleFunc("/jobs/run", s.runJob)
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	return withAuth(token, mux)
}

func (s *Service) runJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if s.run == nil || name == "" || !s.run(name) {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	s.log.Info("job run by operator", logx.String("job", name))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"ran": name})
}

func withAuth(token string, next http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IsLoopbackAddr reports whether a host:port binds to loopback only.
// An empty host means every interface.
func IsLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
