package wallet

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeystoreRoundTrip(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "vault.key")
	require.NoError(t, SaveKey(path, "hunter2", w.PrivKey()))

	loaded, err := LoadKey(path, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, w.PrivKey(), loaded)
	assert.Equal(t, w.PubKey(), New(loaded).PubKey())
}

func TestKeystoreWrongPassword(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "vault.key")
	require.NoError(t, SaveKey(path, "correct", w.PrivKey()))

	_, err = LoadKey(path, "wrong")
	assert.Error(t, err)
}

func TestWalletSignsValidOps(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)

	op, err := w.MintBox(1, "Mystery Box", "ipfs://sealed")
	require.NoError(t, err)
	assert.Equal(t, w.PubKey(), op.From)
	assert.NoError(t, op.Verify())
}
