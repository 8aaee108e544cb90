// Package launcher sequences the backend launch: resolve the optional
// virtualenv, run database initialization to completion, then run the server
// in the foreground with signal forwarding. Phases are strictly linear; a
// failed prerequisite short-circuits the rest.
package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/backendctl/pkg/config"
	"github.com/go-go-golems/backendctl/pkg/events"
	"github.com/go-go-golems/backendctl/pkg/proc"
	"github.com/go-go-golems/backendctl/pkg/state"
	"github.com/go-go-golems/backendctl/pkg/venv"
)

type Phase string

const (
	PhaseInit  Phase = "init"
	PhaseServe Phase = "serve"
)

// ExitError reports a child process that finished with a non-zero status.
// The launcher's own exit status must mirror Code.
type ExitError struct {
	Phase  Phase
	Code   int
	Signal string
}

func (e *ExitError) Error() string {
	switch e.Phase {
	case PhaseInit:
		return fmt.Sprintf("database initialization failed with status %d", e.Code)
	default:
		if e.Signal != "" {
			return fmt.Sprintf("server exited with status %d (signal %s)", e.Code, e.Signal)
		}
		return fmt.Sprintf("server exited with status %d", e.Code)
	}
}

type Options struct {
	Config config.Config
	Runner proc.Runner

	// Publisher receives lifecycle events; nil disables them.
	Publisher message.Publisher

	// Out receives the human-readable progress lines; default os.Stdout.
	Out io.Writer

	ShutdownTimeout time.Duration

	// WaitReady probes the server's listen address after start and logs when
	// it accepts connections. Informational only: a failed probe never stops
	// the server.
	WaitReady    bool
	ReadyTimeout time.Duration

	// RecordRun persists a run record under the application root.
	RecordRun bool

	// SkipInit goes straight from environment resolution to serving. Meant
	// for restarts against an already-initialized database.
	SkipInit bool
}

type Launcher struct {
	opts Options

	env         *venv.Env
	envResolved bool
	childEnv    []string

	lastInit    *proc.Result
	lastInitTee string
	lastServe   *proc.Result
}

func New(opts Options) *Launcher {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Runner == nil {
		opts.Runner = &proc.ExecRunner{}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 30 * time.Second
	}
	return &Launcher{opts: opts}
}

// ResolveEnvironment resolves the configured virtualenv once and builds the
// environment slice both child processes inherit. An absent venv is the
// permitted ambient fallback; a malformed one is fatal.
func (l *Launcher) ResolveEnvironment() (*venv.Env, error) {
	if l.envResolved {
		return l.env, nil
	}

	env, err := venv.Resolve(l.opts.Config.VenvPath)
	if err != nil {
		return nil, err
	}
	l.env = env
	l.envResolved = true

	if env == nil {
		l.childEnv = os.Environ()
		log.Info().Str("path", l.opts.Config.VenvPath).Msg("virtualenv absent, using ambient environment")
		l.publish(events.TypeEnvAbsent, events.EnvAbsent{Path: l.opts.Config.VenvPath})
		return nil, nil
	}

	l.childEnv = env.Environ(os.Environ())
	log.Info().Str("path", env.Root).Msg("virtualenv activated")
	l.publish(events.TypeEnvResolved, events.EnvResolved{Path: env.Root, BinDir: env.BinDir})
	return env, nil
}

// publish emits a lifecycle event best-effort: observers never alter the
// launch outcome.
func (l *Launcher) publish(typ string, payload any) {
	if err := events.Publish(l.opts.Publisher, typ, payload); err != nil {
		log.Warn().Str("event", typ).Err(err).Msg("could not publish lifecycle event")
	}
}

// Initialize runs the database initialization step to completion. A non-zero
// exit aborts the launch with that status; the server must never start after
// a failed init.
func (l *Launcher) Initialize(ctx context.Context) error {
	if _, err := l.ResolveEnvironment(); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(l.opts.Out, "Initializing database...")

	argv := l.opts.Config.InitArgv()
	l.publish(events.TypeInitStarted, events.InitStarted{Command: argv})

	ts := time.Now().Format("20060102-150405")
	teePath := filepath.Join(state.LogsDir(l.opts.Config.Root), "init-"+ts+".stderr.log")

	res, err := l.opts.Runner.Run(ctx, proc.Spec{
		Name:            "init-db",
		Argv:            argv,
		Dir:             l.opts.Config.Root,
		Env:             l.childEnv,
		StderrTee:       teePath,
		ForwardSignals:  true,
		GracefulTimeout: l.opts.ShutdownTimeout,
	})
	if err != nil {
		return err
	}
	l.lastInit = &res
	l.lastInitTee = teePath

	l.publish(events.TypeInitFinished, events.InitFinished{
		ExitCode: res.ExitCode,
		Duration: res.ExitedAt.Sub(res.StartedAt),
	})

	if res.ExitCode != 0 {
		return &ExitError{Phase: PhaseInit, Code: res.ExitCode, Signal: res.Signal}
	}
	log.Info().Dur("took", res.ExitedAt.Sub(res.StartedAt)).Msg("database initialized")
	return nil
}

// Serve runs the server process in the foreground, forwarding termination
// signals to it, and returns once it exits. The launcher's status mirrors
// the server's.
func (l *Launcher) Serve(ctx context.Context) error {
	if _, err := l.ResolveEnvironment(); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(l.opts.Out, "Starting FastAPI server...")

	argv := l.opts.Config.ServerArgv()
	addr := l.opts.Config.ListenAddr()

	l.publish(events.TypeServerStart, events.ServerStarted{
		Command: argv,
		Addr:    addr,
	})

	if l.opts.WaitReady {
		probeCtx, cancel := context.WithTimeout(ctx, l.opts.ReadyTimeout)
		defer cancel()
		go l.probeReady(probeCtx, addr)
	}

	res, err := l.opts.Runner.Run(ctx, proc.Spec{
		Name:            "server",
		Argv:            argv,
		Dir:             l.opts.Config.Root,
		Env:             l.childEnv,
		ForwardSignals:  true,
		GracefulTimeout: l.opts.ShutdownTimeout,
	})
	if err != nil {
		return err
	}
	l.lastServe = &res

	l.publish(events.TypeServerExited, events.ServerExited{
		ExitCode: res.ExitCode,
		Signal:   res.Signal,
	})

	if res.ExitCode != 0 {
		return &ExitError{Phase: PhaseServe, Code: res.ExitCode, Signal: res.Signal}
	}
	log.Info().Msg("server stopped cleanly")
	return nil
}

// Run performs the full launch sequence.
func (l *Launcher) Run(ctx context.Context) error {
	_, _ = fmt.Fprintln(l.opts.Out, "Starting backend...")

	startedAt := time.Now()
	l.publish(events.TypeRunStarted, events.RunStarted{
		Root: l.opts.Config.Root,
		At:   startedAt,
	})

	runErr := func() error {
		if _, err := l.ResolveEnvironment(); err != nil {
			return err
		}
		if !l.opts.SkipInit {
			if err := l.Initialize(ctx); err != nil {
				return err
			}
		}
		return l.Serve(ctx)
	}()

	if l.opts.RecordRun {
		l.writeRunRecord(startedAt, runErr)
	}
	return runErr
}

func (l *Launcher) writeRunRecord(startedAt time.Time, runErr error) {
	rec := &state.RunRecord{
		Root:       l.opts.Config.Root,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	if l.env != nil {
		rec.VenvPath = l.env.Root
	}
	if l.lastInit != nil {
		code := l.lastInit.ExitCode
		rec.InitExitCode = &code
		if code != 0 && l.lastInitTee != "" {
			if lines, err := proc.TailLines(l.lastInitTee, proc.DefaultTailLines, proc.DefaultTailBytes); err == nil {
				rec.InitStderrTail = lines
			}
		}
	}
	if l.lastServe != nil {
		code := l.lastServe.ExitCode
		rec.ServerPID = l.lastServe.PID
		rec.ServerExitCode = &code
		rec.ServerSignal = l.lastServe.Signal
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := state.WriteRunRecord(l.opts.Config.Root, rec); err != nil {
		log.Warn().Err(err).Msg("could not write run record")
	}
}
