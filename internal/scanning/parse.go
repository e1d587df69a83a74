package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// fragmentPayload mirrors one element of the OCR response. Text is a pointer
// so a missing field can be told apart from an empty string.
type fragmentPayload struct {
	Text        *string      `json:"text"`
	BoundingBox *BoundingBox `json:"bounding_box"`
}

// parseFragments decodes a JSON array of objects that each carry a string
// "text" field. Anything else is reported as ErrUnexpectedFormat.
func parseFragments(body []byte) ([]Fragment, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return nil, fmt.Errorf("expected a JSON array: %w", ErrUnexpectedFormat)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %v: %w", err, ErrUnexpectedFormat)
	}

	fragments := make([]Fragment, 0, len(raw))
	for i, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			return nil, fmt.Errorf("element %d is not an object: %w", i, ErrUnexpectedFormat)
		}
		var p fragmentPayload
		if err := json.Unmarshal(item, &p); err != nil {
			return nil, fmt.Errorf("element %d: %v: %w", i, err, ErrUnexpectedFormat)
		}
		if p.Text == nil {
			return nil, fmt.Errorf("element %d has no text field: %w", i, ErrUnexpectedFormat)
		}
		fragments = append(fragments, Fragment{Text: *p.Text, BoundingBox: p.BoundingBox})
	}

	return fragments, nil
}

// parseModelOutput extracts the fragment array from free-form LLM output
func parseModelOutput(text string) ([]Fragment, error) {
	// Remove markdown code blocks if present
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	// Find the array boundaries - look for first [ and last ]
	startIdx := strings.Index(text, "[")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON array found in response: %w", ErrUnexpectedFormat)
	}
	endIdx := strings.LastIndex(text, "]")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON array in response: %w", ErrUnexpectedFormat)
	}

	return parseFragments([]byte(text[startIdx : endIdx+1]))
}
