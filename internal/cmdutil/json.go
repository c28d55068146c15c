package cmdutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// ParseJSONFile reads path and decodes it into v, rejecting unknown fields
// so config typos fail loudly instead of being ignored.
func ParseJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
