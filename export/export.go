// Package export builds shareable links for a previewed file and hands them
// to the user: opened for download, copied to a clipboard, or customised.
package export

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mediapreview/resource"
)

var (
	ErrNoClipboard  = errors.New("no clipboard available")
	ErrNoCustomizer = errors.New("link customisation unavailable")
	ErrNoOpener     = errors.New("no opener available")
)

// Level classifies a notification.
type Level int

const (
	Success Level = iota
	Failure
)

func (l Level) String() string {
	if l == Failure {
		return "failure"
	}
	return "success"
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(text []byte) error {
	switch string(text) {
	case "success":
		*l = Success
	case "failure":
		*l = Failure
	default:
		return fmt.Errorf("unknown notification level %q", text)
	}
	return nil
}

// Notification is the transient message shown after an export action.
type Notification struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

const (
	copiedMessage     = "Copied direct link to clipboard."
	copyFailedMessage = "Could not copy link to clipboard."
)

// Clipboard receives exported links.
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// Notifier surfaces notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// Opener opens a URL, typically in a browser.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// CustomRequest asks a Customizer for a link scoped to Path.
type CustomRequest struct {
	Path     string
	Token    string
	FileName string
}

// Customizer mints a differently shaped link for a path. It returns the
// absolute URL of the new link.
type Customizer interface {
	Customize(ctx context.Context, req CustomRequest) (string, error)
}

// State is the panel's transient UI state.
type State struct {
	MenuOpen bool `json:"menuOpen"`
}

// Panel is the link export affordance for one previewed path.
type Panel struct {
	Origin string
	Path   string
	Token  string

	Clipboard  Clipboard
	Notifier   Notifier
	Customizer Customizer
	Opener     Opener

	mu    sync.Mutex
	state State
}

// RawURL is the resolved, origin-relative raw URL.
func (p *Panel) RawURL() string {
	return resource.Raw(resource.EscapePath(p.Path), p.Token)
}

// DirectLink is the absolute raw URL.
func (p *Panel) DirectLink() string {
	return resource.Absolute(p.Origin, p.RawURL())
}

// Download opens the direct link.
func (p *Panel) Download(ctx context.Context) error {
	if p.Opener == nil {
		return ErrNoOpener
	}
	if err := p.Opener.Open(ctx, p.DirectLink()); err != nil {
		return fmt.Errorf("open %s: %w", p.DirectLink(), err)
	}
	return nil
}

// CopyDirectLink writes the direct link to the clipboard and sends exactly
// one notification: success, or failure when the write fails.
func (p *Panel) CopyDirectLink(ctx context.Context) error {
	err := ErrNoClipboard
	if p.Clipboard != nil {
		err = p.Clipboard.WriteText(ctx, p.DirectLink())
	}
	if err != nil {
		p.notify(Notification{Level: Failure, Message: copyFailedMessage})
		return fmt.Errorf("copy direct link: %w", err)
	}
	p.notify(Notification{Level: Success, Message: copiedMessage})
	return nil
}

// OpenCustomize opens the customisation menu and asks the Customizer for a
// link to the current path, optionally served under fileName.
func (p *Panel) OpenCustomize(ctx context.Context, fileName string) (string, error) {
	p.mu.Lock()
	p.state.MenuOpen = true
	p.mu.Unlock()

	if p.Customizer == nil {
		return "", ErrNoCustomizer
	}
	link, err := p.Customizer.Customize(ctx, CustomRequest{Path: p.Path, Token: p.Token, FileName: fileName})
	if err != nil {
		return "", fmt.Errorf("customise link: %w", err)
	}
	return link, nil
}

// CloseCustomize closes the customisation menu.
func (p *Panel) CloseCustomize() {
	p.mu.Lock()
	p.state.MenuOpen = false
	p.mu.Unlock()
}

// With returns a panel for the same link that writes to cb and reports to n.
// The menu state is a snapshot: changes made through the copy stay on it.
func (p *Panel) With(cb Clipboard, n Notifier) *Panel {
	return &Panel{
		Origin:     p.Origin,
		Path:       p.Path,
		Token:      p.Token,
		Clipboard:  cb,
		Notifier:   n,
		Customizer: p.Customizer,
		Opener:     p.Opener,
		state:      p.State(),
	}
}

func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Panel) notify(n Notification) {
	if p.Notifier != nil {
		p.Notifier.Notify(n)
	}
}
