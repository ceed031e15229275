// Package yamlutil decodes YAML with unknown-field rejection, so a
// misspelled key in a config file fails at startup instead of silently
// falling back to a default.
package yamlutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnmarshalStrict decodes data into v, rejecting fields that v does not
// declare. An empty document leaves v untouched.
func UnmarshalStrict(data []byte, v interface{}) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		// The yaml package reports unknown keys as "field X not found";
		// rephrase so the operator knows it is their file, not the code
		if msg := err.Error(); strings.Contains(msg, "field") && strings.Contains(msg, "not found") {
			return fmt.Errorf("unknown configuration field (check for typos): %w", err)
		}
		return err
	}
	return nil
}
