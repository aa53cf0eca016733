package server

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"

	"decisionsupport/internal/engine"
)

// decodeObject decodes a JSON object request body. Numbers stay json.Number so a stored
// payload re-encodes to the literal the caller sent.
func decodeObject(raw []byte) (map[string]any, error) {
	data := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return data, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: request body must be a JSON object: %v", engine.ErrInvalidInput, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}
