// Package clipboard writes extracted text to a clipboard.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/atotto/clipboard"
)

// ErrUnsupported is returned when the host has no clipboard utility
var ErrUnsupported = errors.New("system clipboard is not available")

// Clipboard defines the interface for clipboard writes
type Clipboard interface {
	// WriteText replaces the clipboard contents with text
	WriteText(ctx context.Context, text string) error
}

// System implements Clipboard using the host clipboard (pbcopy, xclip,
// xsel, wl-copy or the Windows API, depending on the platform)
type System struct{}

// NewSystem creates a System clipboard, failing early if none is available
func NewSystem() (*System, error) {
	if clipboard.Unsupported {
		return nil, ErrUnsupported
	}
	return &System{}, nil
}

// WriteText writes to the host clipboard. The write itself cannot be
// interrupted, but the caller stops waiting once ctx is done.
func (s *System) WriteText(ctx context.Context, text string) error {
	if clipboard.Unsupported {
		return ErrUnsupported
	}

	done := make(chan error, 1)
	go func() {
		done <- clipboard.WriteAll(text)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("writing system clipboard: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrBrowserWrite is reported when the page could not write the user's clipboard
var ErrBrowserWrite = errors.New("browser clipboard write failed")

// Browser is a Clipboard whose write already happened in the user's browser.
// WriteText replays the outcome the page reported.
type Browser struct {
	err error
}

// NewBrowser records a browser write outcome. reason is the browser's error
// message and is ignored when ok is true.
func NewBrowser(ok bool, reason string) *Browser {
	switch {
	case ok:
		return &Browser{}
	case reason == "":
		return &Browser{err: ErrBrowserWrite}
	default:
		return &Browser{err: fmt.Errorf("%w: %s", ErrBrowserWrite, reason)}
	}
}

// WriteText returns the reported outcome
func (b *Browser) WriteText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.err
}

// Memory implements Clipboard in process memory. Text written here never
// leaves the server process.
type Memory struct {
	mu   sync.Mutex
	text string
}

// NewMemory creates an empty in-memory clipboard
func NewMemory() *Memory {
	return &Memory{}
}

// WriteText stores text
func (m *Memory) WriteText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	return nil
}

// Text returns the last written text
func (m *Memory) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text
}
