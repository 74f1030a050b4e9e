package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and structurally decodes a plan document. The format is
// picked by extension: .json decodes as JSON, everything else as YAML.
func LoadFile(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plan: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadJSON(f)
	}
	return Load(f)
}

// Load reads a plan from YAML. Unknown fields are a structural error so a
// typoed step key never silently becomes a no-op.
func Load(r io.Reader) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return &p, nil
}

// LoadJSON reads a plan from JSON, the format the planner service emits.
func LoadJSON(r io.Reader) (*Plan, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return ParseJSON(data)
}

// ParseJSON decodes a plan from raw JSON bytes.
func ParseJSON(data []byte) (*Plan, error) {
	var p Plan
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return &p, nil
}
