package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := NewPersistedState()
	rot := RotationState{
		History:    []PlayRecord{{Path: "/a.mp3", PlayedAt: time.Now().UTC().Truncate(time.Second)}},
		PlayCounts: map[string]int{"/a.mp3": 3},
	}
	require.NoError(t, s.Set("rotation", rot))
	require.NoError(t, s.Save(path))

	loaded, err := LoadState(path)
	require.NoError(t, err)

	var got RotationState
	ok, err := loaded.Get("rotation", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rot, got)
}

func TestStateMissingFileIsColdStart(t *testing.T) {
	s, err := LoadState(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	var rot RotationState
	ok, err := s.Get("rotation", &rot)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateCorruptFileIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadState(path)
	assert.Error(t, err)
}

func TestStatePreservesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"version": 1,
		"rotation": {"history": [], "play_counts": {}},
		"future_section": {"keep": "me"}
	}`), 0o644))

	s, err := LoadState(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("rotation", RotationState{PlayCounts: map[string]int{"/b.mp3": 1}}))
	require.NoError(t, s.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `{"keep": "me"}`, string(raw["future_section"]))
}

func TestStateRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99}`), 0o644))

	_, err := LoadState(path)
	assert.Error(t, err)
}

func TestStateSaveIsAtomicReplacement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	first := NewPersistedState()
	require.NoError(t, first.Set("dj", DJState{}))
	require.NoError(t, first.Save(path))

	second := NewPersistedState()
	require.NoError(t, second.Set("dj", DJState{LastLegalID: time.Now().UTC().Truncate(time.Second)}))
	require.NoError(t, second.Save(path))

	loaded, err := LoadState(path)
	require.NoError(t, err)
	var got DJState
	ok, err := loaded.Get("dj", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.LastLegalID.IsZero())
}
