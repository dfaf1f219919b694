package backup

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// NewState returns an empty tracking state
func NewState() *State {
	return &State{
		FileChecksums: make(map[string]string),
	}
}

// LoadState reads the tracking side-car from the backup directory. A
// missing or unreadable side-car degrades to a fresh empty state, which
// forces the next incremental to treat every file as changed rather than
// failing the operation.
func LoadState(backupDir string) *State {
	data, err := os.ReadFile(filepath.Join(backupDir, StateFileName))
	if err != nil {
		return NewState()
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return NewState()
	}
	if state.FileChecksums == nil {
		state.FileChecksums = make(map[string]string)
	}
	return &state
}

// SaveState persists the tracking side-car. Callers save only after the
// backup artifact is fully written, so the side-car never refers ahead of
// what exists on disk.
func SaveState(backupDir string, state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return NewStorageError("failed to serialize backup state", err)
	}
	path := filepath.Join(backupDir, StateFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return NewStorageError("failed to write backup state", err).WithContext("path", path)
	}
	return nil
}
