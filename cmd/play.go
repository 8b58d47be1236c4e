package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"time"

	"github.com/spf13/cobra"

	"mediapreview/handlers"
	"mediapreview/models"
	"mediapreview/player"
	"mediapreview/resource"
	"mediapreview/server"
	"mediapreview/session"
	"mediapreview/storage"
	"mediapreview/strategy"
	"mediapreview/subtitle"
	"mediapreview/surface/mpv"
)

// presignTTL covers a long film paused for a while.
const presignTTL = 6 * time.Hour

var flagMPV string

var playCmd = &cobra.Command{
	Use:   "play <path>",
	Short: "Play a file in mpv, tracking it like a browser preview",
	Long: `Play a file in mpv. Local files are opened from disk, S3 objects through a
presigned URL and anything else through the server's raw link. mpv's
playback events drive the same player state machine the browser does.`,
	Args: cobra.ExactArgs(1),
	RunE: playRun,
}

func init() {
	playCmd.Flags().StringVar(&flagMPV, "mpv", "mpv", "mpv binary")
}

func playRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p := path.Clean("/" + args[0])

	surface := mpv.New(flagMPV)
	if !surface.Available() {
		return fmt.Errorf("%s not found in PATH", surface.Bin)
	}

	backend, err := server.OpenBackend(ctx, cfg)
	if err != nil {
		return err
	}
	fd, err := backend.Stat(ctx, p)
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	if !storage.IsMedia(fd.MIMEType) {
		return fmt.Errorf("%s is not a media file (%s)", p, fd.MIMEType)
	}

	token, err := handlers.NewTokenVerifier(cfg.TokenSecret).Issue(p, presignTTL)
	if err != nil {
		return err
	}

	// mpv decodes everything itself, so every file takes the native path.
	mgr := session.NewManager(session.Options{Registry: strategy.NewRegistry(), Origin: cfg.Origin}, 0)
	defer mgr.CloseAll()
	s, err := mgr.Open(ctx, fd, p, token)
	if err != nil {
		return err
	}
	s.AttachSource(surface)
	stopWatch := s.Machine().Watch(func(snap player.Snapshot) {
		log.Printf("player  state=%-8s  volume=%.2f  failed=%t", snap.State, snap.Volume, snap.Failed)
	})
	defer stopWatch()

	src, err := playSource(ctx, backend, p, s)
	if err != nil {
		return err
	}
	subFile, cleanup := captionsFile(ctx, backend, fd, p, token)
	defer cleanup()

	return surface.Play(ctx, src, fd.Name, subFile)
}

// playSource picks the address mpv reads from.
func playSource(ctx context.Context, backend storage.Backend, p string, s *session.Session) (string, error) {
	switch b := backend.(type) {
	case storage.Locator:
		return b.LocalPath(p)
	case storage.Presigner:
		return b.PresignGet(ctx, p, "", presignTTL)
	}
	return resource.Absolute(cfg.Origin, s.Panel().RawURL()), nil
}

// captionsFile returns a path mpv can load the .vtt sibling from, or "".
// Remote tracks are fetched into a temp file that cleanup removes.
func captionsFile(ctx context.Context, backend storage.Backend, fd models.FileDescriptor, p, token string) (string, func()) {
	noop := func() {}
	if !fd.IsVideo() {
		return "", noop
	}
	vtt := resource.SubtitlePath(p)
	if loc, ok := backend.(storage.Locator); ok {
		fsPath, err := loc.LocalPath(vtt)
		if err != nil {
			return "", noop
		}
		if _, err := os.Stat(fsPath); err != nil {
			return "", noop
		}
		return fsPath, noop
	}

	track, err := subtitle.NewHTTPFetcher(cfg.Origin, cfg.SubtitleTimeout.Duration).Fetch(ctx, resource.Raw(resource.EscapePath(vtt), token))
	if err != nil {
		if !errors.Is(err, subtitle.ErrNotFound) {
			log.Printf("captions: %v", err)
		}
		return "", noop
	}
	f, err := os.CreateTemp("", "mediapreview-*.vtt")
	if err != nil {
		return "", noop
	}
	defer f.Close()
	if _, err := f.WriteString(track.Text); err != nil {
		os.Remove(f.Name())
		return "", noop
	}
	return f.Name(), func() { os.Remove(f.Name()) }
}
