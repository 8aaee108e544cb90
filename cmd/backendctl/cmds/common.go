package cmds

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-go-golems/backendctl/pkg/config"
)

type rootOptions struct {
	Root            string
	Config          string
	ShutdownTimeout time.Duration
}

func AddRootFlags(flags *pflag.FlagSet) {
	flags.String("root", "", "Application root (defaults to current directory)")
	flags.String("config", "", "Path to config file (defaults to .backendctl.yaml under root)")
	flags.Duration("shutdown-timeout", 10*time.Second, "Graceful termination window for child processes")
}

func getRootOptions(cmd *cobra.Command) (rootOptions, error) {
	root, err := cmd.Root().PersistentFlags().GetString("root")
	if err != nil {
		return rootOptions{}, err
	}
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			return rootOptions{}, err
		}
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return rootOptions{}, err
	}

	cfgPath, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return rootOptions{}, err
	}
	if cfgPath == "" {
		cfgPath = config.DefaultPath(root)
	} else if !filepath.IsAbs(cfgPath) {
		cfgPath = filepath.Join(root, cfgPath)
	}

	shutdownTimeout, err := cmd.Root().PersistentFlags().GetDuration("shutdown-timeout")
	if err != nil {
		return rootOptions{}, err
	}
	if shutdownTimeout <= 0 {
		return rootOptions{}, errors.New("shutdown-timeout must be > 0")
	}

	return rootOptions{
		Root:            root,
		Config:          cfgPath,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func resolveConfig(opts rootOptions) (config.Config, error) {
	f, err := config.LoadOptional(opts.Config)
	if err != nil {
		return config.Config{}, err
	}
	return f.Resolve(opts.Root)
}
