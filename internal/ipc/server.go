package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/qbicsoftware/data-scanner/internal/daemon"
	"github.com/qbicsoftware/data-scanner/internal/ledger"
	"github.com/qbicsoftware/data-scanner/internal/logging"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may confuse clients"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

// Stop returns immediately; the daemon finishes in-flight work in the
// background and the run loop exits once the workflow is done.
func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Info("daemon stop requested via IPC",
		logging.String(logging.FieldEventType, "daemon_stop_requested"))
	go s.daemon.Stop()
	resp.Stopping = true
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	wf := status.Workflow
	resp.Running = status.Running
	resp.PID = status.PID
	resp.StartedAt = status.StartedAt
	resp.LastError = wf.LastError
	resp.LockPath = status.LockFilePath
	resp.LedgerPath = status.LedgerPath
	resp.MetricsListen = status.MetricsListen
	resp.QueueDepth = wf.QueueDepth
	resp.QueueCapacity = wf.QueueCapacity
	resp.TrackedDirectories = wf.TrackedDirectories
	resp.Workers = wf.Workers

	names := make([]string, 0, len(wf.StageHealth))
	for name := range wf.StageHealth {
		names = append(names, name)
	}
	sort.Strings(names)
	resp.StageHealth = make([]StageHealth, 0, len(names))
	for _, name := range names {
		health := wf.StageHealth[name]
		resp.StageHealth = append(resp.StageHealth, StageHealth{
			Name:   name,
			Ready:  health.Ready,
			Detail: health.Detail,
			Claims: wf.Claims[name],
		})
	}
	return nil
}

func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	outcome := ledger.Outcome(strings.TrimSpace(req.Outcome))
	if outcome != "" && !validOutcome(outcome) {
		return fmt.Errorf("unknown outcome %q", req.Outcome)
	}
	events, err := s.daemon.Events(s.ctx, ledger.Filter{
		Stage:   strings.TrimSpace(req.Stage),
		Outcome: outcome,
		TaskID:  strings.TrimSpace(req.TaskID),
		Limit:   req.Limit,
	})
	if err != nil {
		return err
	}
	resp.Events = events
	return nil
}

func (s *service) Stats(_ StatsRequest, resp *StatsResponse) error {
	stats, err := s.daemon.Stats(s.ctx)
	if err != nil {
		return err
	}
	resp.Stages = stats
	return nil
}

func (s *service) Interventions(_ InterventionsRequest, resp *InterventionsResponse) error {
	stages, err := s.daemon.Interventions()
	resp.Stages = stages
	return err
}

func validOutcome(outcome ledger.Outcome) bool {
	for _, known := range ledger.Outcomes {
		if outcome == known {
			return true
		}
	}
	return false
}
