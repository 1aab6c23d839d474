package main

import (
	"go-relayer/internal/app"
	"go-relayer/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootOptions flags shared by every command
type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "relayer",
		Short:         "Delegated transaction relayer",
		Long:          "Publishes pre-authorized contract calls from a single relayer wallet and tracks them until they are mined.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config.yaml (default config.local.yaml or config.yaml)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	return cmd
}

// load reads and validates the configuration and builds the logger
func (o *rootOptions) load() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(o.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, app.NewLogger(cfg.Log), nil
}
