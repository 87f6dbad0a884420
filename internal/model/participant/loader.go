package participant

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type definitionFile struct {
	Participants []Definition `yaml:"participants"`
}

// LoadFile reads participant overrides from a YAML file and merges them over Seed.
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read participants file: %w", err)
	}
	overrides, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode participants file %s: %w", path, err)
	}

	store := NewMemoryStore(Seed())
	for _, def := range overrides {
		store.put(def)
	}
	return store.List(), nil
}

// Decode parses a participants document, rejecting unknown keys.
func Decode(data []byte) ([]Definition, error) {
	var file definitionFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	for i, def := range file.Participants {
		if !knownRole(def.Role) {
			return nil, fmt.Errorf("participant %d: unknown role %q", i, def.Role)
		}
		if strings.TrimSpace(def.SystemPrompt) == "" {
			return nil, fmt.Errorf("participant %s: system_prompt is required", def.Role)
		}
	}
	return file.Participants, nil
}

func knownRole(role Role) bool {
	for _, known := range Roles() {
		if role == known {
			return true
		}
	}
	return false
}
