package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mediapreview/handlers"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show download and link counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		handlers.InitStats(cfg.StatsDir)
		s := handlers.GetStats()
		fmt.Printf("%-14s %s\n", "Downloads:", humanize.Comma(s.RawDownloads))
		fmt.Printf("%-14s %s\n", "Transferred:", humanize.IBytes(uint64(s.RawBytes)))
		fmt.Printf("%-14s %s\n", "Links copied:", humanize.Comma(s.LinksCopied))
		return nil
	},
}
