// Package proc spawns child processes in their own process group, forwards
// termination signals, and decodes exit status.
package proc

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Spec describes a single child process run.
type Spec struct {
	Name string
	Argv []string
	Dir  string
	Env  []string // full environment; nil means inherit os.Environ()

	Stdout io.Writer // default os.Stdout
	Stderr io.Writer // default os.Stderr

	// StderrTee also appends the child's stderr to this file so diagnostics
	// can be tailed after a failure. Console output is unaffected.
	StderrTee string

	// ForwardSignals relays SIGINT/SIGTERM/SIGHUP received by this process
	// to the child's process group while the child runs.
	ForwardSignals bool

	// GracefulTimeout bounds the SIGTERM-then-SIGKILL teardown triggered by
	// context cancellation.
	GracefulTimeout time.Duration
}

// Result is the decoded outcome of a completed child process.
type Result struct {
	PID       int
	ExitCode  int
	Signal    string
	StartedAt time.Time
	ExitedAt  time.Time
}

// Runner runs a child process to completion. An error means the child could
// not be spawned or supervised; a non-zero exit is reported via Result, not
// as an error.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

type ExecRunner struct{}

var _ Runner = (*ExecRunner)(nil)

func (r *ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	if len(spec.Argv) == 0 {
		return Result{}, errors.Errorf("process %q missing argv", spec.Name)
	}

	stdout := spec.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := spec.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	var teeFile *os.File
	if spec.StderrTee != "" {
		if err := os.MkdirAll(filepath.Dir(spec.StderrTee), 0o755); err != nil {
			return Result{}, errors.Wrap(err, "mkdir stderr tee dir")
		}
		f, err := os.OpenFile(spec.StderrTee, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return Result{}, errors.Wrap(err, "open stderr tee")
		}
		teeFile = f
		defer func() { _ = teeFile.Close() }()
		stderr = io.MultiWriter(stderr, teeFile)
	}

	env := spec.Env
	if env == nil {
		env = os.Environ()
	}

	// #nosec G204 -- argv comes from the launch configuration.
	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, errors.Wrapf(err, "start %s", spec.Name)
	}
	pid := cmd.Process.Pid
	log.Debug().Str("process", spec.Name).Int("pid", pid).Strs("argv", spec.Argv).Msg("process started")

	var sigCh chan os.Signal
	if spec.ForwardSignals {
		sigCh = make(chan os.Signal, 8)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		go func() {
			for s := range sigCh {
				sig, ok := s.(syscall.Signal)
				if !ok {
					continue
				}
				log.Debug().Str("process", spec.Name).Str("signal", sig.String()).Msg("forwarding signal")
				_ = syscall.Kill(-pid, sig)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			timeout := spec.GracefulTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			_ = TerminateGroup(pid, timeout)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	if sigCh != nil {
		signal.Stop(sigCh)
		close(sigCh)
	}

	res := Result{
		PID:       pid,
		StartedAt: startedAt,
		ExitedAt:  time.Now(),
	}

	if waitErr == nil {
		return res, nil
	}

	var ee *exec.ExitError
	if !stderrors.As(waitErr, &ee) {
		return res, errors.Wrapf(waitErr, "wait %s", spec.Name)
	}
	if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			res.Signal = ws.Signal().String()
			res.ExitCode = 128 + int(ws.Signal())
			return res, nil
		}
		if ws.Exited() {
			res.ExitCode = ws.ExitStatus()
			return res, nil
		}
	}
	res.ExitCode = ee.ExitCode()
	return res, nil
}

// TerminateGroup sends SIGTERM to the process group of pid, waits up to
// timeout for it to die, then escalates to SIGKILL.
func TerminateGroup(pid int, timeout time.Duration) error {
	if pid <= 0 {
		return nil
	}
	pgid, err := syscall.Getpgid(pid)
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}

	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()

	deadline := time.Now().Add(timeout)
	for ProcessAlive(pid) && time.Now().Before(deadline) {
		<-t.C
	}
	if !ProcessAlive(pid) {
		return nil
	}

	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}

	killDeadline := time.Now().Add(2 * time.Second)
	for ProcessAlive(pid) && time.Now().Before(killDeadline) {
		<-t.C
	}
	if ProcessAlive(pid) {
		return errors.Errorf("process %d did not terminate", pid)
	}
	return nil
}
