// Package envelope - Facility file to raw input conversion
// This is the bridge between question-flow documents and normalization.
package envelope

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	qerrors "energy-quote/internal/errors"
)

// Parse decodes a facility document. JSON is used for .json names and YAML
// for everything else; YAML is a superset of JSON.
func Parse(filename string, data []byte) (RawFacility, error) {
	var raw RawFacility
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return RawFacility{}, qerrors.Wrap(qerrors.TypeInput, "invalid facility JSON in "+filename, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return RawFacility{}, qerrors.Wrap(qerrors.TypeInput, "invalid facility YAML in "+filename, err)
		}
	}
	return raw, nil
}

// ParseFile reads and decodes a facility document
func ParseFile(path string) (RawFacility, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RawFacility{}, qerrors.Wrap(qerrors.TypeInput, "failed to read facility file", err).
			WithContext("file", path)
	}
	return Parse(path, data)
}
