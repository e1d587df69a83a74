package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"strings"
)

// transcribePrompt is the shared prompt used by all LLM providers
const transcribePrompt = `You are an OCR engine. Read every piece of text visible in the image, in natural reading order (top to bottom, left to right).

Return ONLY a valid JSON array where each element is one line of text, in this exact format:
[
  {"text": "first line"},
  {"text": "second line"}
]

Important:
- Copy the text exactly as printed, including punctuation and capitalization
- Do not translate, summarize, or correct the text
- If the image contains no text, return []
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// prepareImage normalizes the MIME type and checks that the data really is a
// JPEG or PNG image. It returns the short format name ("jpeg" or "png") that
// genai.ImageData expects.
func prepareImage(imageData []byte, contentType string) (string, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))

	_, format, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return "", fmt.Errorf("decoding image: %w", err)
	}

	switch mimeType {
	case "image/jpeg", "image/png", "":
	default:
		return "", fmt.Errorf("unsupported image format %q. Supported formats: JPEG, PNG", mimeType)
	}

	if format != "jpeg" && format != "png" {
		return "", fmt.Errorf("unsupported image format %q. Supported formats: JPEG, PNG", format)
	}

	return format, nil
}
