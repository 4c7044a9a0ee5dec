package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/confidentio/tdxid/pkg/types"
)

func TestLedgerStorePutGet(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLedgerStore(filepath.Join(dir, "registry.db"))
	require.NoError(t, err)
	defer store.Close()

	entry := &types.LedgerEntry{
		InstancePubkey: []byte("instance-a"),
		Quote:          []byte("quote-bytes"),
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.Put(entry))

	got, err := store.Get([]byte("instance-a"))
	require.NoError(t, err)
	require.Equal(t, entry.Quote, got.Quote)
}

func TestLedgerStoreGetMissingReturnsNil(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLedgerStore(filepath.Join(dir, "registry.db"))
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get([]byte("nope"))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestLedgerStoreUpdateAttachesOwner(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLedgerStore(filepath.Join(dir, "registry.db"))
	require.NoError(t, err)
	defer store.Close()

	entry := &types.LedgerEntry{InstancePubkey: []byte("instance-b"), Quote: []byte("q")}
	require.NoError(t, store.Put(entry))

	entry.OperatorPubkey = []byte("operator-b")
	require.NoError(t, store.Put(entry))

	entry.OwnerPubkey = []byte("owner-b")
	require.NoError(t, store.Put(entry))

	got, err := store.Get([]byte("instance-b"))
	require.NoError(t, err)
	require.Equal(t, []byte("operator-b"), got.OperatorPubkey)
	require.Equal(t, []byte("owner-b"), got.OwnerPubkey)
}
