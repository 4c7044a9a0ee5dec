package storage

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/confidentio/tdxid/pkg/types"
)

func TestIdentityStoreKeyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewIdentityStore(dir)
	require.NoError(t, err)

	require.False(t, store.HasInstanceKey())

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, store.WriteInstanceKey(priv))

	require.True(t, store.HasInstanceKey())

	loaded, err := store.ReadInstanceKey()
	require.NoError(t, err)
	require.Equal(t, priv, loaded)
}

func TestIdentityStoreRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewIdentityStore(dir)
	require.NoError(t, err)

	rec := &types.Record{State: types.Fresh}
	require.NoError(t, store.WriteRecord(rec))

	loaded, err := store.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, types.Fresh, loaded.State)
}

func TestIdentityStoreRejectsMissingOperatorRecord(t *testing.T) {
	dir := t.TempDir()
	store, err := NewIdentityStore(dir)
	require.NoError(t, err)

	rec := &types.Record{State: types.OperatorRegistered} // missing Operator
	require.NoError(t, store.WriteRecord(rec))

	_, err = store.ReadRecord()
	require.Error(t, err)
}

func TestIdentityStoreRejectsCorruptJSON(t *testing.T) {
	dir := t.TempDir()
	store, err := NewIdentityStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, recordFileName), []byte("not json"), 0600))

	_, err = store.ReadRecord()
	require.Error(t, err)
}

func TestAtomicWriteLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, atomicWrite(dir, "foo", []byte("bar")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "foo", entries[0].Name())
}
