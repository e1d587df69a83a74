package scanning

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// DefaultNinjasURL is the API Ninjas image-to-text endpoint
const DefaultNinjasURL = "https://api.api-ninjas.com/v1/imagetotext"

// maxResponseSize bounds how much of an OCR response body is read
const maxResponseSize = 4 << 20

// Ninjas implements the Scanner interface using the API Ninjas imagetotext endpoint
type Ninjas struct {
	url    string
	apiKey string
	client *http.Client
}

// NewNinjas creates a new Ninjas Scanner instance
func NewNinjas(url string, apiKey string, timeout time.Duration) (*Ninjas, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api ninjas key is required")
	}
	if url == "" {
		url = DefaultNinjasURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Ninjas{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// ExtractText uploads the image as multipart field "image" and decodes the fragment list
func (n *Ninjas) ExtractText(ctx context.Context, imageData []byte, contentType string) ([]Fragment, error) {
	body, formType, err := imageForm(imageData, contentType)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", formType)
	req.Header.Set("X-Api-Key", n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling api ninjas: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Backend: "api ninjas", StatusCode: resp.StatusCode, Body: string(data)}
	}

	return parseFragments(data)
}

// Close is a no-op for the HTTP client
func (n *Ninjas) Close() error {
	return nil
}

// imageForm builds the multipart body carrying the image
func imageForm(imageData []byte, contentType string) (io.Reader, string, error) {
	var b bytes.Buffer
	writer := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, uploadName(contentType)))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("creating form part: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, "", fmt.Errorf("writing form part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}

	return &b, writer.FormDataContentType(), nil
}

func uploadName(contentType string) string {
	if contentType == "image/png" {
		return "image.png"
	}
	return "image.jpg"
}
