package cmds

import (
	"github.com/spf13/cobra"
)

func AddCommands(root *cobra.Command) error {
	root.AddCommand(newRunCmd())
	root.AddCommand(newInitDBCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newEnvCmd())
	return nil
}
