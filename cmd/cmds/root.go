package cmds

import (
	"context"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "christmas-surprise",
	Short:         "Christmas surprise request form",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configPath,
		"config",
		"",
		"Path to the config file (default christmas.yaml in /etc/christmas-surprise/ or the working directory)",
	)
	rootCmd.AddCommand(serveCmd)
}
