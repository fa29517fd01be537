package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	sf := NewStateFile(path)

	require.NoError(t, sf.Save(&PersistedState{ChainFamily: "svm", ChainID: "solana"}))

	loaded, err := sf.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "svm", loaded.ChainFamily)
	assert.Equal(t, FlexibleID("solana"), loaded.ChainID)
}

func TestStateFileMissingIsNil(t *testing.T) {
	sf := NewStateFile(filepath.Join(t.TempDir(), "absent.json"))

	loaded, err := sf.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStateFileIgnoresUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	record := `{"chainFamily":"evm","chainId":"1","walletVersion":"9.1","theme":"dark"}`
	require.NoError(t, os.WriteFile(path, []byte(record), 0o600))

	loaded, err := NewStateFile(path).Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "evm", loaded.ChainFamily)
	assert.Equal(t, FlexibleID("1"), loaded.ChainID)
}

func TestStateFileNumericChainID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"chainFamily":"evm","chainId":8453}`), 0o600))

	loaded, err := NewStateFile(path).Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, FlexibleID("8453"), loaded.ChainID)
}

func TestStateFileCorruptRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewStateFile(path).Load()
	assert.Error(t, err)
}

func TestStateFileClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	sf := NewStateFile(path)

	require.NoError(t, sf.Save(&PersistedState{ChainFamily: "evm", ChainID: "1"}))
	require.NoError(t, sf.Clear())

	loaded, err := sf.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Clearing an already-missing file is fine
	assert.NoError(t, sf.Clear())
}

func TestStateFileDisabled(t *testing.T) {
	sf := NewStateFile("")

	assert.NoError(t, sf.Save(&PersistedState{ChainFamily: "evm", ChainID: "1"}))
	loaded, err := sf.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
	assert.NoError(t, sf.Clear())
}
