package panel

import (
	"errors"
	"fmt"
)

var (
	// ErrFileTooLarge is returned when a file exceeds MaxFileSize
	ErrFileTooLarge = errors.New("file exceeds the 2MB limit")

	// ErrUnsupportedType is returned for anything other than JPEG or PNG
	ErrUnsupportedType = errors.New("only image/jpeg and image/png are accepted")

	// ErrNoFile is returned by Intake when it is given no file
	ErrNoFile = errors.New("no file provided")

	// ErrNotReady is returned by Extract when no file is selected or an
	// extraction is already in flight
	ErrNotReady = errors.New("no file selected or extraction in progress")

	// ErrNothingToCopy is returned by Copy when there is no extracted text
	ErrNothingToCopy = errors.New("no extracted text to copy")

	// ErrNoClipboard is returned by Copy when the panel has no server-side
	// clipboard; the browser must report its own write through CopyTo
	ErrNoClipboard = errors.New("no clipboard configured")

	// ErrStale is returned by Extract when the file was replaced or removed,
	// or the panel closed, before the OCR response arrived
	ErrStale = errors.New("selection changed during extraction")

	// ErrClosed is returned by operations on a closed panel
	ErrClosed = errors.New("panel is closed")
)

// ValidationError reports a file rejected at intake
type ValidationError struct {
	File string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validating %q: %v", e.File, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ClipboardError reports a failed clipboard write
type ClipboardError struct {
	Err error
}

func (e *ClipboardError) Error() string {
	return fmt.Sprintf("copying to clipboard: %v", e.Err)
}

func (e *ClipboardError) Unwrap() error {
	return e.Err
}
