// Package daemonctl holds the process control helpers behind the CLI's
// start, stop and status commands.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/qbicsoftware/data-scanner/internal/config"
	"github.com/qbicsoftware/data-scanner/internal/ipc"
	"github.com/qbicsoftware/data-scanner/internal/ledger"
	"github.com/qbicsoftware/data-scanner/internal/preflight"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
}

// StartResult captures daemon start orchestration state.
type StartResult struct {
	AlreadyRunning bool
	PID            int
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Launch starts a detached "run" process of the given executable.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"run"}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless its socket already answers.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := ipc.Dial(socketPath)
	result := StartResult{AlreadyRunning: err == nil}
	if err != nil {
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		return StartResult{}, fmt.Errorf("query daemon status: %w", err)
	}
	if !status.Running {
		msg := "daemon is up but the workflow is not running"
		if status.LastError != "" {
			msg += ": " + status.LastError
		}
		return StartResult{}, errors.New(msg)
	}
	result.PID = status.PID
	return result, nil
}

// WaitForShutdown waits until the daemon socket disappears.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			if isDaemonUnavailable(err) {
				return nil
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}
		_ = client.Close()
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within %s", timeout)
}

// ReadPID returns the pid recorded in path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", path)
	}
	return pid, nil
}

// ForceKillProcess sends SIGKILL to the daemon process and removes its pid
// file.
func ForceKillProcess(pidPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	if recorded, err := ReadPID(pidPath); err == nil {
		pid = recorded
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	return pid, nil
}

// StopResult captures daemon stop outcome.
type StopResult struct {
	ForcedKill bool
	PID        int
}

// StopAndTerminate requests a graceful stop and kills the process if it is
// still alive after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	result := StopResult{}
	if status, statusErr := client.Status(); statusErr == nil {
		result.PID = status.PID
	}
	_, err = client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}

	if WaitForShutdown(socketPath, gracePeriod) == nil {
		return result, nil
	}
	if cfg == nil {
		return result, fmt.Errorf("daemon did not stop and no configuration is available to locate its pid file")
	}
	killed, err := ForceKillProcess(cfg.PIDPath(), result.PID)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killed
	return result, nil
}

// Snapshot is the status view rendered by the CLI. Daemon is nil when no
// daemon answers on the socket.
type Snapshot struct {
	Daemon *ipc.StatusResponse `json:"daemon,omitempty"`
	Checks []preflight.Result  `json:"checks"`
	Stats  []ledger.StageStats `json:"stats,omitempty"`
}

// BuildStatusSnapshot collects daemon status and falls back to reading the
// ledger file directly when the daemon is offline.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snapshot := &Snapshot{Checks: preflight.RunAll(cfg)}

	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		if status, statusErr := client.Status(); statusErr == nil {
			snapshot.Daemon = status
		}
		if stats, statsErr := client.Stats(); statsErr == nil {
			snapshot.Stats = stats.Stages
		}
		if snapshot.Daemon != nil {
			return snapshot, nil
		}
	}

	if !cfg.Ledger.Enabled {
		return snapshot, nil
	}
	if _, err := os.Stat(cfg.LedgerPath()); err != nil {
		return snapshot, nil
	}
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	store, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		return snapshot, nil
	}
	defer store.Close()
	if stats, err := store.Stats(queryCtx); err == nil {
		snapshot.Stats = stats
	}
	return snapshot, nil
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
