package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// stateSchemaVersion is bumped when a section's shape changes
// incompatibly. Loaders accept older versions; unknown top-level
// fields round-trip untouched so a newer writer's data survives an
// older reader.
const stateSchemaVersion = 1

// PersistedState is a versioned JSON document of named sections.
type PersistedState struct {
	version int
	fields  map[string]json.RawMessage
}

// NewPersistedState returns an empty document at the current version.
func NewPersistedState() *PersistedState {
	return &PersistedState{
		version: stateSchemaVersion,
		fields:  make(map[string]json.RawMessage),
	}
}

// LoadState reads a state file. A missing file yields an empty
// document, not an error; a corrupt file is an error so the caller
// can decide between cold start and abort.
func LoadState(path string) (*PersistedState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewPersistedState(), nil
		}
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}

	s := &PersistedState{version: stateSchemaVersion, fields: fields}
	if raw, ok := fields["version"]; ok {
		var v int
		if err := json.Unmarshal(raw, &v); err == nil {
			s.version = v
		}
	}
	if s.version > stateSchemaVersion {
		return nil, fmt.Errorf("state %s has version %d, this build reads up to %d",
			path, s.version, stateSchemaVersion)
	}
	return s, nil
}

// Version reports the schema version the file was written with.
func (s *PersistedState) Version() int {
	return s.version
}

// Get decodes a named section into v. ok is false when the section is
// absent.
func (s *PersistedState) Get(key string, v interface{}) (bool, error) {
	raw, present := s.fields[key]
	if !present {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode state section %q: %w", key, err)
	}
	return true, nil
}

// Set encodes a named section. Sections this build does not know
// about are left in place.
func (s *PersistedState) Set(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode state section %q: %w", key, err)
	}
	s.fields[key] = raw
	return nil
}

// Save writes the document atomically: temp file in the same
// directory, fsync, rename.
func (s *PersistedState) Save(path string) error {
	s.fields["version"], _ = json.Marshal(stateSchemaVersion)

	data, err := json.MarshalIndent(s.fields, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write state %s: %w", path, err)
	}
	return nil
}
