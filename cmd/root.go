// Package cmd implements the CLI commands using Cobra.
package cmd

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"mediapreview/config"
)

// cfg holds the loaded configuration (defaults < file < env < flags).
var cfg *config.Config

// assets is the embedded templates/ and static/ tree.
var assets fs.FS

var rootCmd = &cobra.Command{
	Use:   "mediapreview [dir...]",
	Short: "Preview, stream and share audio and video files",
	Long: `mediapreview serves a browser preview for every media file under the
given directories (or S3 bucket): native playback where the browser can,
ffmpeg transcoding where it cannot, captions, thumbnails and share links.`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE:         serveRun,
}

// Execute runs the root command.
func Execute(fsys fs.FS) {
	assets = fsys
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Assigned here: loadConfig refers to rootCmd.
	rootCmd.PersistentPreRunE = loadConfig
	config.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(statsCmd)
}

// loadConfig resolves the configuration for every command. Positional
// arguments are extra directories only for the server commands.
func loadConfig(cmd *cobra.Command, args []string) error {
	var dirs []string
	if cmd == rootCmd || cmd == serveCmd {
		dirs = args
	}
	var err error
	cfg, err = config.Load(cmd.Flags(), dirs)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	return nil
}
