package cmds

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/backendctl/pkg/venv"
)

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Report how the virtual environment resolves",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			cfg, err := resolveConfig(opts)
			if err != nil {
				return err
			}

			env, err := venv.Resolve(cfg.VenvPath)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if env == nil {
				_, _ = fmt.Fprintf(w, "venv: absent (%s)\nusing ambient environment\n", cfg.VenvPath)
				return nil
			}
			_, _ = fmt.Fprintf(w, "venv: %s\nbin dir: %s\n", env.Root, env.BinDir)
			return nil
		},
	}
}
