// Package procsup supervises the single long-lived agentic coding
// subprocess turnbridge bridges chat traffic to: spawning it, wiring its
// stdin/stdout to the caller, restarting it on an unexpected exit, and
// escalating signals on intentional shutdown (spec §5 "Cancellation &
// timeouts" / "Shutdown"). Modelled on the teacher's
// core/internal/host/orchestrator.go CommandOrchestrator (mutex-guarded
// state struct, exec.CommandContext, one state machine per process) but
// generalised from "one state per ad-hoc shell command" to "one state for
// the single persistent subprocess, with a restart policy".
package procsup

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/igoryan-dao/turnbridge/internal/metrics"
)

// Shutdown escalation cadence (spec §5): 2s graceful, 2s SIGTERM, 2s
// SIGKILL, with an overall 6s hard-exit watchdog.
const (
	GracePeriod     = 2 * time.Second
	TermPeriod      = 2 * time.Second
	KillPeriod      = 2 * time.Second
	WatchdogTimeout = 6 * time.Second
)

// RestartBackoff is the delay before respawning after an unexpected exit.
const RestartBackoff = 1 * time.Second

// OnSpawn is invoked after each successful spawn (the initial one and
// every restart) with the subprocess's stdin writer and stdout reader, so
// the caller can bind a fresh jsonrpc.Transport/subprocess.Client to it.
type OnSpawn func(stdin io.WriteCloser, stdout io.ReadCloser)

// Supervisor owns the subprocess's lifecycle.
type Supervisor struct {
	command string
	args    []string
	workDir string
	log     *logrus.Entry
	onSpawn OnSpawn

	mu             sync.Mutex
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	isShuttingDown bool
	restartCount   int
	exited         chan struct{}
}

// New constructs a Supervisor for command (with args), run in workDir.
func New(command string, args []string, workDir string, log *logrus.Entry, onSpawn OnSpawn) *Supervisor {
	return &Supervisor{
		command: command,
		args:    args,
		workDir: workDir,
		log:     log,
		onSpawn: onSpawn,
	}
}

// Start spawns the subprocess and begins watching it for unexpected exit.
func (s *Supervisor) Start(ctx context.Context) error {
	return s.spawn(ctx)
}

func (s *Supervisor) spawn(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.command, s.args...)
	cmd.Dir = s.workDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("procsup: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("procsup: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("procsup: start: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	exited := make(chan struct{})
	s.exited = exited
	s.mu.Unlock()

	s.log.WithField("pid", cmd.Process.Pid).Info("procsup: subprocess started")
	s.onSpawn(stdin, stdout)

	go s.watch(ctx, cmd, exited)
	return nil
}

// watch blocks on cmd.Wait and applies the restart policy on an
// unexpected exit (spec §5 "isShuttingDown flag MUST suppress the
// 'process exited → auto-restart' policy").
func (s *Supervisor) watch(ctx context.Context, cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	close(exited)

	s.mu.Lock()
	shuttingDown := s.isShuttingDown
	s.mu.Unlock()

	if shuttingDown {
		return
	}

	s.log.WithError(err).Warn("procsup: subprocess exited unexpectedly, restarting")
	metrics.SubprocessRestartsTotal.WithLabelValues("crash").Inc()

	s.mu.Lock()
	s.restartCount++
	s.mu.Unlock()

	time.Sleep(RestartBackoff)
	if respawnErr := s.spawn(ctx); respawnErr != nil {
		s.log.WithError(respawnErr).Error("procsup: failed to respawn subprocess")
	}
}

// Stop escalates graceful→SIGTERM→SIGKILL (spec §5), returning once the
// process has exited or the overall watchdog elapses.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	s.isShuttingDown = true
	cmd := s.cmd
	stdin := s.stdin
	exited := s.exited
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	deadline := time.Now().Add(WatchdogTimeout)

	// Graceful: close stdin, the subprocess is expected to treat EOF as a
	// shutdown request.
	if stdin != nil {
		_ = stdin.Close()
	}
	if waitUntil(exited, GracePeriod) {
		metrics.SubprocessRestartsTotal.WithLabelValues("graceful").Inc()
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.log.WithError(err).Warn("procsup: SIGTERM failed")
	}
	if waitUntil(exited, capToDeadline(TermPeriod, deadline)) {
		metrics.SubprocessRestartsTotal.WithLabelValues("sigterm").Inc()
		return nil
	}

	if err := cmd.Process.Kill(); err != nil {
		s.log.WithError(err).Warn("procsup: SIGKILL failed")
	}
	if waitUntil(exited, capToDeadline(KillPeriod, deadline)) {
		metrics.SubprocessRestartsTotal.WithLabelValues("sigkill").Inc()
		return nil
	}

	return fmt.Errorf("procsup: subprocess did not exit within the %s shutdown watchdog", WatchdogTimeout)
}

func waitUntil(exited chan struct{}, timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-exited:
			return true
		default:
			return false
		}
	}
	select {
	case <-exited:
		return true
	case <-time.After(timeout):
		return false
	}
}

func capToDeadline(step time.Duration, deadline time.Time) time.Duration {
	remaining := time.Until(deadline)
	if remaining < step {
		return remaining
	}
	return step
}

// RestartCount returns how many times the subprocess has been restarted
// after an unexpected exit.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount
}
