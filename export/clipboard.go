package export

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"runtime"
	"sync"

	"github.com/atotto/clipboard"
)

// SystemClipboard writes to the desktop clipboard.
type SystemClipboard struct{}

func (SystemClipboard) WriteText(_ context.Context, text string) error {
	if clipboard.Unsupported {
		return ErrNoClipboard
	}
	return clipboard.WriteAll(text)
}

// MemoryClipboard keeps the last written text. Err, when set, is returned
// by every write.
type MemoryClipboard struct {
	mu   sync.Mutex
	text string
	Err  error
}

func (m *MemoryClipboard) WriteText(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.text = text
	return nil
}

func (m *MemoryClipboard) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text
}

// LogNotifier prints notifications to the standard logger.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notification) {
	log.Printf("export %-8s %s", n.Level, n.Message)
}

// NotifyFunc adapts a function to Notifier.
type NotifyFunc func(Notification)

func (f NotifyFunc) Notify(n Notification) { f(n) }

// CommandOpener opens URLs with the platform's default handler.
type CommandOpener struct{}

func (CommandOpener) Open(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", cmd.Path, err)
	}
	go cmd.Wait()
	return nil
}
