package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/qbicsoftware/data-scanner/internal/ledger"
	"github.com/qbicsoftware/data-scanner/internal/logging"
)

// httpServer serves /metrics plus read-only JSON views of the daemon. A nil
// server is valid and does nothing.
type httpServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newHTTPServer(bind string, d *Daemon, logger *slog.Logger) *httpServer {
	bind = strings.TrimSpace(bind)
	if bind == "" || d == nil {
		return nil
	}
	srv := &httpServer{bind: bind, logger: logger, daemon: d}

	mux := http.NewServeMux()
	if d.metrics != nil {
		mux.Handle("/metrics", d.metrics.Handler())
	}
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/events", srv.handleEvents)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *httpServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "http server error", "http_serve_failed", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("http server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *httpServer) stop() {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()
}

// address reports the bound listener address, which differs from the
// configured bind when port 0 was requested.
func (s *httpServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

func (s *httpServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	code := http.StatusOK
	for _, health := range status.Workflow.StageHealth {
		if !health.Ready {
			code = http.StatusServiceUnavailable
		}
	}
	if !status.Running {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status.Workflow.StageHealth)
}

func (s *httpServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *httpServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query()
	filter := ledger.Filter{
		Stage:   strings.TrimSpace(query.Get("stage")),
		Outcome: ledger.Outcome(strings.TrimSpace(query.Get("outcome"))),
		TaskID:  strings.TrimSpace(query.Get("task")),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	events, err := s.daemon.Events(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if events == nil {
		events = []ledger.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *httpServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("encode response failed", logging.Error(err))
	}
}

func (s *httpServer) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}
