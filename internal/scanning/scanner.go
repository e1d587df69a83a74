package scanning

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnexpectedFormat is returned when an OCR backend answers successfully
// but the body is not a list of text fragments.
var ErrUnexpectedFormat = errors.New("unexpected response format")

// BoundingBox is the pixel rectangle a fragment was recognized in
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Fragment is one piece of recognized text
type Fragment struct {
	Text        string       `json:"text"`
	BoundingBox *BoundingBox `json:"bounding_box,omitempty"`
}

// APIError is returned when an OCR endpoint responds with a non-2xx status
type APIError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Backend, e.StatusCode, e.Body)
}

// Scanner defines the interface for OCR backends
type Scanner interface {
	// ExtractText recognizes text in a JPEG or PNG image and returns the
	// fragments in the order the backend reported them
	ExtractText(ctx context.Context, imageData []byte, contentType string) ([]Fragment, error)
	// Close closes the scanner and releases resources
	Close() error
}
