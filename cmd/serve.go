package cmd

import (
	"github.com/spf13/cobra"

	"mediapreview/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve [dir...]",
	Short: "Run the preview server (the default command)",
	Args:  cobra.ArbitraryArgs,
	RunE:  serveRun,
}

func serveRun(cmd *cobra.Command, args []string) error {
	return server.Run(cfg, assets)
}
