package cmds

import (
	"github.com/spf13/cobra"

	"github.com/go-go-golems/backendctl/pkg/launcher"
	"github.com/go-go-golems/backendctl/pkg/proc"
)

func newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Run only the database initialization step under the resolved environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			cfg, err := resolveConfig(opts)
			if err != nil {
				return err
			}

			l := launcher.New(launcher.Options{
				Config:          cfg,
				Runner:          &proc.ExecRunner{},
				Out:             cmd.OutOrStdout(),
				ShutdownTimeout: opts.ShutdownTimeout,
			})
			return l.Initialize(cmd.Context())
		},
	}
}
