package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PersistedState is the single reconnection record written to disk. Only
// non-sensitive fields: never addresses, balances, or signing material,
// which are re-derived by reconnecting. Unknown fields in stored records
// are ignored, not rejected, to tolerate schema drift.
type PersistedState struct {
	ChainFamily string     `json:"chainFamily"`
	ChainID     FlexibleID `json:"chainId"`
}

// FlexibleID accepts both string and numeric chain ids from persisted
// storage
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexibleID(n.String())
		return nil
	}
	return fmt.Errorf("chainId must be a string or number")
}

// StateFile persists the reconnection record as JSON
type StateFile struct {
	path string
}

// NewStateFile creates a state file handle; an empty path disables
// persistence
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// Load reads the persisted record. A missing file yields (nil, nil).
func (s *StateFile) Load() (*PersistedState, error) {
	if s.path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var state PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt session state file: %w", err)
	}
	return &state, nil
}

// Save writes the record atomically via a temp-file rename
func (s *StateFile) Save(state *PersistedState) error {
	if s.path == "" {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Clear removes the persisted record
func (s *StateFile) Clear() error {
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
