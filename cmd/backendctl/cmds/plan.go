package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/backendctl/pkg/venv"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the resolved launch plan without spawning anything",
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
			venvInfo := map[string]any{
				"path":    cfg.VenvPath,
				"present": env != nil,
			}
			if env != nil {
				venvInfo["bin_dir"] = env.BinDir
			}

			out := map[string]any{
				"root":           cfg.Root,
				"venv":           venvInfo,
				"init_command":   cfg.InitArgv(),
				"server_command": cfg.ServerArgv(),
				"listen_addr":    cfg.ListenAddr(),
				"reload":         cfg.Reload,
			}
			b, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			log.Info().Bool("venv", env != nil).Msg("plan computed")
			return nil
		},
	}
}
