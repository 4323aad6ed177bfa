package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaError marks a backend payload that could not be decoded or failed
// validation. Raw keeps the offending payload for the category's last_error
// and for debugging.
type SchemaError struct {
	Reason string
	Raw    string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid backend payload: %s", e.Reason)
}

// decodeAndValidate parses a JSON object payload into dst and runs the
// validation hook. Both failure modes come back as *SchemaError carrying
// the raw payload. Markdown code fences around the object are tolerated.
func decodeAndValidate(raw string, dst interface{}, validate func() error) error {
	cleaned := stripFences(raw)
	if err := json.Unmarshal([]byte(cleaned), dst); err != nil {
		return &SchemaError{Reason: fmt.Sprintf("json parse: %v", err), Raw: raw}
	}
	if validate != nil {
		if err := validate(); err != nil {
			return &SchemaError{Reason: err.Error(), Raw: raw}
		}
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
