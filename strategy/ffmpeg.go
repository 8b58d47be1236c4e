package strategy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"
)

// FFmpegModule loads ffmpeg as the runtime decoder.
type FFmpegModule struct {
	// Path is the ffmpeg binary; looked up in PATH when it has no slash.
	Path string
}

func (m FFmpegModule) Name() string { return "ffmpeg" }

// Load locates the binary and checks that it runs.
func (m FFmpegModule) Load(ctx context.Context) (Factory, error) {
	name := m.Path
	if name == "" {
		name = "ffmpeg"
	}
	bin, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("locate ffmpeg: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, bin, "-hide_banner", "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", bin, err)
	}
	version, _, _ := bytes.Cut(out, []byte("\n"))
	log.Printf("decoder: loaded %s (%s)", bin, bytes.TrimSpace(version))

	return func() Decoder { return &FFmpegDecoder{bin: bin} }, nil
}

// FFmpegDecoder transcodes the source into fragmented MP4 and writes it to
// the attached surface.
type FFmpegDecoder struct {
	bin string

	mu      sync.Mutex
	cancel  context.CancelFunc
	surface BareSurface
	done    chan struct{}
}

// ffmpegArgs builds the argument list for one transcode. Output is
// fragmented so the surface can start playing before ffmpeg finishes.
func ffmpegArgs(sourceURL string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-i", sourceURL,
		"-map", "0:v:0?",
		"-map", "0:a:0?",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "128k",
		"-f", "mp4",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"pipe:1",
	}
}

// Attach starts ffmpeg reading sourceURL. The surface is closed when ffmpeg
// exits, with the exit error if there was one.
func (d *FFmpegDecoder) Attach(surface BareSurface, sourceURL string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.surface != nil {
		return ErrAttached
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, d.bin, ffmpegArgs(sourceURL)...)
	cmd.Stdout = surface
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("ffmpeg start: %w", err)
	}
	log.Printf("decoder: ffmpeg started (PID=%d) src=%s", cmd.Process.Pid, sourceURL)

	d.cancel = cancel
	d.surface = surface
	d.done = make(chan struct{})
	done := d.done

	go func() {
		defer close(done)
		err := cmd.Wait()
		if err != nil && ctx.Err() == nil {
			log.Printf("decoder: ffmpeg exited: %v  stderr=%q", err, stderr.String())
			surface.CloseWithError(fmt.Errorf("ffmpeg: %w", err))
			return
		}
		surface.CloseWithError(nil)
	}()
	return nil
}

// Detach stops ffmpeg and waits for it to exit. Safe to call more than once.
func (d *FFmpegDecoder) Detach() error {
	d.mu.Lock()
	cancel, surface, done := d.cancel, d.surface, d.done
	d.cancel, d.surface, d.done = nil, nil, nil
	d.mu.Unlock()

	if surface == nil {
		return nil
	}
	// Unblock a write stuck on a reader that went away before killing
	// the process, or Wait would hang on the copy goroutine.
	surface.CloseWithError(io.ErrClosedPipe)
	cancel()
	<-done
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

// String returns the last complete line held, or everything if there is
// only one.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var last string
	sc := bufio.NewScanner(bytes.NewReader(t.buf))
	for sc.Scan() {
		if line := bytes.TrimSpace(sc.Bytes()); len(line) > 0 {
			last = string(line)
		}
	}
	return last
}
