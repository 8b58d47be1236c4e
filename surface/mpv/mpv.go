// Package mpv is a playback surface backed by an mpv process. Property
// changes reported over mpv's JSON IPC socket are translated into player
// signals.
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"mediapreview/player"
)

// observed is the set of properties mpv is asked to report.
var observed = []string{"pause", "seeking", "paused-for-cache", "eof-reached", "volume"}

// Surface runs mpv and republishes its playback events. It implements
// player.Source.
type Surface struct {
	Bin string

	feed *player.Feed

	mu   sync.Mutex
	conn net.Conn
}

func New(bin string) *Surface {
	if bin == "" {
		bin = "mpv"
	}
	return &Surface{Bin: bin, feed: player.NewFeed()}
}

func (s *Surface) Name() string { return "mpv" }

// Available checks if the binary exists in PATH.
func (s *Surface) Available() bool {
	_, err := exec.LookPath(s.Bin)
	return err == nil
}

// Subscribe implements player.Source.
func (s *Surface) Subscribe(fn func(player.Signal)) (cancel func()) {
	return s.feed.Subscribe(fn)
}

// Play starts mpv on src and blocks until it exits. subFile, when set, is
// loaded as an external caption track.
func (s *Surface) Play(ctx context.Context, src, title, subFile string) error {
	// Randomised socket path so nothing else can pre-create it.
	socketDir, err := os.MkdirTemp("", "mediapreview-mpv-*")
	if err != nil {
		return fmt.Errorf("creating temp dir for mpv socket: %w", err)
	}
	defer os.RemoveAll(socketDir)
	socketPath := filepath.Join(socketDir, "socket")

	args := []string{
		src,
		"--force-media-title=" + title,
		"--input-ipc-server=" + socketPath,
		"--really-quiet",
	}
	if subFile != "" {
		args = append(args, "--sub-file="+subFile)
	}

	cmd := exec.CommandContext(ctx, s.Bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting mpv: %w", err)
	}

	go func() {
		conn, err := dialSocket(ctx, socketPath)
		if err != nil {
			log.Printf("mpv: ipc unavailable: %v", err)
			return
		}
		s.Serve(conn)
	}()

	err = cmd.Wait()
	s.closeConn()
	var exitErr *exec.ExitError
	// mpv exits 4 when the user quits, which is normal.
	if err != nil && !(errors.As(err, &exitErr) && exitErr.ExitCode() == 4) && ctx.Err() == nil {
		return fmt.Errorf("mpv: %w", err)
	}
	return nil
}

func dialSocket(ctx context.Context, socketPath string) (net.Conn, error) {
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	var d net.Dialer
	return d.DialContext(ctx, "unix", socketPath)
}

// Serve asks mpv to observe the playback properties on conn and publishes
// the resulting signals until conn is closed.
func (s *Surface) Serve(conn net.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer s.closeConn()

	for i, name := range observed {
		if err := s.send([]any{"observe_property", i + 1, name}); err != nil {
			log.Printf("mpv: observe %s: %v", name, err)
			return
		}
	}

	var t translator
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		for _, sig := range t.translate(scanner.Bytes()) {
			s.feed.Publish(sig)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
		log.Printf("mpv: ipc read: %v", err)
	}
}

// SetVolume sends a volume in [0,1] back to mpv.
func (s *Surface) SetVolume(v float64) error {
	return s.send([]any{"set_property", "volume", v * 100})
}

func (s *Surface) send(command []any) error {
	data, err := json.Marshal(map[string]any{"command": command})
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errors.New("mpv ipc not connected")
	}
	_, err = s.conn.Write(data)
	return err
}

func (s *Surface) closeConn() {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}

type ipcMessage struct {
	Event  string          `json:"event"`
	Name   string          `json:"name"`
	Data   json.RawMessage `json:"data"`
	Reason string          `json:"reason"`
}

// translator maps mpv IPC messages to player signals. It remembers whether
// mpv is paused so that resuming from a seek or a cache stall lands in the
// right state.
type translator struct {
	paused bool
}

func (t *translator) translate(line []byte) []player.Signal {
	var msg ipcMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil
	}

	switch msg.Event {
	case "file-loaded":
		return signals(player.CanPlay)
	case "playback-restart":
		return t.resume()
	case "end-file":
		if msg.Reason == "error" {
			return signals(player.Error)
		}
		return signals(player.Ended)
	case "property-change":
	default:
		return nil
	}

	switch msg.Name {
	case "pause":
		var paused bool
		if json.Unmarshal(msg.Data, &paused) != nil {
			return nil
		}
		t.paused = paused
		if paused {
			return signals(player.Pause)
		}
		return signals(player.Play, player.PlayingEvent)
	case "seeking":
		if isTrue(msg.Data) {
			return signals(player.Seeking)
		}
		return t.resume()
	case "paused-for-cache":
		if isTrue(msg.Data) {
			return signals(player.Waiting)
		}
		return t.resume()
	case "eof-reached":
		if isTrue(msg.Data) {
			return signals(player.Ended)
		}
	case "volume":
		var v float64
		if json.Unmarshal(msg.Data, &v) != nil {
			return nil
		}
		return []player.Signal{{Event: player.VolumeChange, Volume: v / 100}}
	}
	return nil
}

func (t *translator) resume() []player.Signal {
	if t.paused {
		return signals(player.CanPlay)
	}
	return signals(player.PlayingEvent)
}

func isTrue(data json.RawMessage) bool {
	var b bool
	return json.Unmarshal(data, &b) == nil && b
}

func signals(events ...player.Event) []player.Signal {
	out := make([]player.Signal, len(events))
	for i, e := range events {
		out[i] = player.Signal{Event: e}
	}
	return out
}
