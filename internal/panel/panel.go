// Package panel implements the image-to-text panel: one user's selected
// image, its preview, the recognized text and the toasts describing what
// happened. A Panel is safe for concurrent use.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zombor/ocr-panel/internal/clipboard"
	"github.com/zombor/ocr-panel/internal/scanning"
)

// User-facing status messages
const (
	MsgFileTooLarge    = "Maximum file size is 2MB."
	MsgUnsupportedType = "Only JPEG or PNG images are allowed."
	MsgFileAccepted    = "File uploaded successfully!"
	MsgTextRecognized  = "Text recognized successfully!"
	MsgInvalidFormat   = "Invalid response format."
	MsgExtractFailed   = "Failed to extract text."
	MsgCopied          = "Text copied to clipboard!"
	MsgCopyFailed      = "Failed to copy text."
)

// InputResetter is a file input control that can be cleared so the same
// file can be chosen again
type InputResetter interface {
	Reset()
}

// Options configures a Panel
type Options struct {
	// ToastDuration defaults to DefaultToastDuration
	ToastDuration time.Duration
	// RequestTimeout bounds a single OCR call; zero means no extra bound
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// State is a snapshot of the panel for rendering
type State struct {
	File          *FileInfo `json:"file"`
	PreviewURL    string    `json:"preview_url"`
	ExtractedText string    `json:"extracted_text"`
	Loading       bool      `json:"loading"`
	DragActive    bool      `json:"drag_active"`
	CanExtract    bool      `json:"can_extract"`
	CanCopy       bool      `json:"can_copy"`
	Toasts        []Toast   `json:"toasts"`
}

// Panel owns the state of one image-to-text widget
type Panel struct {
	scanner        scanning.Scanner
	clipboard      clipboard.Clipboard
	toasts         *Toasts
	logger         *slog.Logger
	requestTimeout time.Duration

	// ctx lives as long as the panel; in-flight requests derive from it
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	file       *File
	previewURL string
	text       string
	loading    bool
	dragActive bool
	// generation changes whenever the selection changes or the panel
	// closes; async results carrying an older generation are dropped
	generation uint64
	closed     bool
}

// New creates a Panel whose lifetime is bound to parent. cb may be nil when
// the browser writes the clipboard itself.
func New(parent context.Context, scanner scanning.Scanner, cb clipboard.Clipboard, opts Options) *Panel {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)

	return &Panel{
		scanner:        scanner,
		clipboard:      cb,
		toasts:         NewToasts(opts.ToastDuration, logger),
		logger:         logger,
		requestTimeout: opts.RequestTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Intake validates f and makes it the selected file. A rejected file leaves
// the previous selection untouched.
func (p *Panel) Intake(f *File) error {
	if f == nil {
		return ErrNoFile
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := Validate(f); err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			p.toasts.Notify(MsgFileTooLarge, SeverityError)
		} else {
			p.toasts.Notify(MsgUnsupportedType, SeverityError)
		}
		return err
	}

	accepted := &File{
		Name:        f.Name,
		ContentType: NormalizeContentType(f.ContentType),
		Size:        f.Size,
		Data:        f.Data,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.generation++
	gen := p.generation
	p.file = accepted
	p.previewURL = ""
	p.text = ""
	p.mu.Unlock()

	go p.renderPreview(gen, accepted)

	p.toasts.Notify(MsgFileAccepted, SeveritySuccess)
	return nil
}

// renderPreview encodes the data URL off the caller's path and applies it
// only if the selection has not changed meanwhile
func (p *Panel) renderPreview(gen uint64, f *File) {
	url := DataURL(f)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || gen != p.generation {
		return
	}
	p.previewURL = url
}

// CanExtract reports whether a file is selected and no extraction is running
func (p *Panel) CanExtract() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canExtractLocked()
}

func (p *Panel) canExtractLocked() bool {
	return p.file != nil && !p.loading && !p.closed
}

// Extract sends the selected file to the scanner and stores the recognized
// text. It blocks until the scanner answers. Only one extraction may run at
// a time; extra calls return ErrNotReady without contacting the scanner.
func (p *Panel) Extract() error {
	p.mu.Lock()
	if !p.canExtractLocked() {
		p.mu.Unlock()
		return ErrNotReady
	}
	p.loading = true
	p.text = ""
	file := p.file
	gen := p.generation
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.loading = false
		p.mu.Unlock()
	}()

	ctx := p.ctx
	if p.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	fragments, err := p.scanner.ExtractText(ctx, file.Data, file.ContentType)

	p.mu.Lock()
	stale := p.closed || gen != p.generation
	if !stale && err == nil {
		p.text = joinFragments(fragments)
	}
	p.mu.Unlock()

	if stale {
		p.logger.Debug("Discarding late OCR result", "filename", file.Name, "error", err)
		return ErrStale
	}

	if err != nil {
		p.logger.Error("Failed to extract text",
			"filename", file.Name,
			"content_type", file.ContentType,
			"file_size", file.Size,
			"error", err,
		)
		if errors.Is(err, scanning.ErrUnexpectedFormat) {
			p.toasts.Notify(MsgInvalidFormat, SeverityError)
		} else {
			p.toasts.Notify(MsgExtractFailed, SeverityError)
		}
		return fmt.Errorf("extracting text: %w", err)
	}

	p.logger.Info("Extracted text",
		"filename", file.Name,
		"fragments", len(fragments),
		"duration", time.Since(start),
	)
	p.toasts.Notify(MsgTextRecognized, SeveritySuccess)
	return nil
}

func joinFragments(fragments []scanning.Fragment) string {
	lines := make([]string, len(fragments))
	for i, f := range fragments {
		lines[i] = f.Text
	}
	return strings.Join(lines, "\n")
}

// Copy writes the extracted text to the panel's clipboard
func (p *Panel) Copy(ctx context.Context) error {
	return p.CopyTo(ctx, p.clipboard)
}

// CopyTo writes the extracted text to cb and reports the outcome as a toast
func (p *Panel) CopyTo(ctx context.Context, cb clipboard.Clipboard) error {
	p.mu.Lock()
	text := p.text
	p.mu.Unlock()

	if text == "" {
		return ErrNothingToCopy
	}
	if cb == nil {
		return ErrNoClipboard
	}

	if err := cb.WriteText(ctx, text); err != nil {
		p.logger.Error("Failed to copy text", "error", err)
		p.toasts.Notify(MsgCopyFailed, SeverityError)
		return &ClipboardError{Err: err}
	}

	p.toasts.Notify(MsgCopied, SeveritySuccess)
	return nil
}

// Remove clears the selection, preview and text together. input may be nil.
func (p *Panel) Remove(input InputResetter) {
	p.mu.Lock()
	p.generation++
	p.file = nil
	p.previewURL = ""
	p.text = ""
	p.mu.Unlock()

	if input != nil {
		input.Reset()
	}
}

// DragOver marks the drop zone active
func (p *Panel) DragOver() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dragActive = true
}

// DragLeave marks the drop zone inactive
func (p *Panel) DragLeave() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dragActive = false
}

// Drop clears the drag flag and takes the first dropped file through Intake.
// Any other files are ignored.
func (p *Panel) Drop(files []*File) error {
	p.mu.Lock()
	p.dragActive = false
	p.mu.Unlock()

	if len(files) == 0 {
		return nil
	}
	if len(files) > 1 {
		p.logger.Debug("Ignoring extra dropped files", "count", len(files)-1)
	}
	return p.Intake(files[0])
}

// DismissToast removes a toast before it expires
func (p *Panel) DismissToast(id uint64) bool {
	return p.toasts.Dismiss(id)
}

// State returns a snapshot for rendering
func (p *Panel) State() State {
	p.mu.Lock()
	state := State{
		File:          fileInfo(p.file),
		PreviewURL:    p.previewURL,
		ExtractedText: p.text,
		Loading:       p.loading,
		DragActive:    p.dragActive,
		CanExtract:    p.canExtractLocked(),
		CanCopy:       p.text != "",
	}
	p.mu.Unlock()

	state.Toasts = p.toasts.Active()
	if state.Toasts == nil {
		state.Toasts = []Toast{}
	}
	return state
}

// Close tears the panel down. An in-flight extraction is canceled and its
// result discarded; pending toasts are dropped.
func (p *Panel) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.generation++
	p.mu.Unlock()

	p.cancel()
	p.toasts.Close()
}
