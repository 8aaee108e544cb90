package main

import (
	stderrors "errors"
	"os"

	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/backendctl/cmd/backendctl/cmds"
	"github.com/go-go-golems/backendctl/pkg/launcher"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "backendctl",
	Short:   "backendctl launches the backend: venv activation, db init, uvicorn",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLoggerFromCobra(cmd)
	},
	SilenceUsage: true,
}

func main() {
	cobra.CheckErr(logging.AddLoggingLayerToRootCommand(rootCmd, "backendctl"))
	cmds.AddRootFlags(rootCmd.PersistentFlags())
	cobra.CheckErr(cmds.AddCommands(rootCmd))

	if err := rootCmd.Execute(); err != nil {
		// Mirror the failed child's status so service managers see it.
		var ee *launcher.ExitError
		if stderrors.As(err, &ee) && ee.Code != 0 {
			os.Exit(ee.Code)
		}
		os.Exit(1)
	}
}
