package cmds

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/backendctl/pkg/events"
	"github.com/go-go-golems/backendctl/pkg/launcher"
	"github.com/go-go-golems/backendctl/pkg/proc"
)

func newRunCmd() *cobra.Command {
	var waitReady bool
	var readyTimeout time.Duration
	var skipInit bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch the backend (venv activation + init-db + uvicorn, foreground)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			cfg, err := resolveConfig(opts)
			if err != nil {
				return err
			}

			bus, err := events.NewInMemoryBus()
			if err != nil {
				return err
			}
			bus.AddHandler("lifecycle-log", events.TopicLifecycle, events.LogHandler(log.Logger))

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			g := new(errgroup.Group)
			g.Go(func() error { return bus.Run(ctx) })
			if err := bus.WaitRunning(5 * time.Second); err != nil {
				cancel()
				_ = g.Wait()
				return err
			}

			l := launcher.New(launcher.Options{
				Config:          cfg,
				Runner:          &proc.ExecRunner{},
				Publisher:       bus.Publisher,
				Out:             cmd.OutOrStdout(),
				ShutdownTimeout: opts.ShutdownTimeout,
				WaitReady:       waitReady,
				ReadyTimeout:    readyTimeout,
				RecordRun:       true,
				SkipInit:        skipInit,
			})

			runErr := l.Run(ctx)

			cancel()
			if err := g.Wait(); err != nil {
				log.Warn().Err(err).Msg("event bus stopped with error")
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&waitReady, "wait-ready", false, "Probe the server port after start and log readiness")
	cmd.Flags().DurationVar(&readyTimeout, "ready-timeout", 30*time.Second, "How long to probe for readiness")
	cmd.Flags().BoolVar(&skipInit, "skip-init", false, "Skip the database initialization step")
	return cmd
}
