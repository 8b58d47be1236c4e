package cmd

import (
	"fmt"
	"path"
	"time"

	"github.com/spf13/cobra"

	"mediapreview/export"
	"mediapreview/handlers"
	"mediapreview/links"
	"mediapreview/server"
)

var (
	flagScope  string
	flagTTL    time.Duration
	flagCustom bool
	flagName   string
	flagCopy   bool
	flagOpen   bool
)

var linkCmd = &cobra.Command{
	Use:   "link <path>",
	Short: "Print the direct link for a file",
	Long: `Print the absolute raw link for a file, signed with an access token when
a token secret is configured. --custom stores a short /l/ link instead,
optionally served under --name.`,
	Args: cobra.ExactArgs(1),
	RunE: linkRun,
}

func init() {
	linkCmd.Flags().StringVar(&flagScope, "scope", "", "Path the token grants (default: the file itself)")
	linkCmd.Flags().DurationVar(&flagTTL, "ttl", 24*time.Hour, "Token lifetime, 0 for no expiry")
	linkCmd.Flags().BoolVar(&flagCustom, "custom", false, "Create a stored short link")
	linkCmd.Flags().StringVar(&flagName, "name", "", "File name the short link serves (implies --custom)")
	linkCmd.Flags().BoolVar(&flagCopy, "copy", false, "Copy the direct link to the clipboard")
	linkCmd.Flags().BoolVar(&flagOpen, "open", false, "Open the direct link in the default browser")
}

func linkRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p := path.Clean("/" + args[0])

	backend, err := server.OpenBackend(ctx, cfg)
	if err != nil {
		return err
	}
	if _, err := backend.Stat(ctx, p); err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}

	scope := p
	if flagScope != "" {
		scope = path.Clean("/" + flagScope)
	}
	token, err := handlers.NewTokenVerifier(cfg.TokenSecret).Issue(scope, flagTTL)
	if err != nil {
		return err
	}

	panel := &export.Panel{
		Origin:    cfg.Origin,
		Path:      p,
		Token:     token,
		Clipboard: export.SystemClipboard{},
		Notifier:  export.LogNotifier{},
		Opener:    export.CommandOpener{},
	}

	if flagCustom || flagName != "" {
		store, err := links.Open(cfg.LinksDB)
		if err != nil {
			return err
		}
		defer store.Close()
		panel.Customizer = links.Customizer{Store: store, Origin: cfg.Origin}
		link, err := panel.OpenCustomize(ctx, flagName)
		if err != nil {
			return err
		}
		panel.CloseCustomize()
		fmt.Println(link)
	} else {
		fmt.Println(panel.DirectLink())
	}

	if flagCopy {
		if err := panel.CopyDirectLink(ctx); err == nil {
			handlers.InitStats(cfg.StatsDir)
			handlers.RecordLinkCopied()
			handlers.FlushStats()
		}
	}
	if flagOpen {
		return panel.Download(ctx)
	}
	return nil
}
