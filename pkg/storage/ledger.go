// Package storage holds the two persistence mechanisms in tdxid: the
// registry's bbolt-backed ledger store, and the identity service's
// atomically-written single-file record.
package storage

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/confidentio/tdxid/pkg/tdxerr"
	"github.com/confidentio/tdxid/pkg/types"
)

var bucketEntries = []byte("entries")

// LedgerStore is the registry's single-writer key-value store, keyed by
// instance public key, adapted from the teacher's bbolt-per-bucket
// pattern (pkg/storage/boltdb.go) down to the one bucket this ledger
// needs.
type LedgerStore struct {
	db *bolt.DB
}

// NewLedgerStore opens (creating if necessary) a bbolt database at dbPath
// and ensures the entries bucket exists. dbPath is the full file path
// (spec.md §6's REGISTRY_DB_PATH, default "registry.db").
func NewLedgerStore(dbPath string) (*LedgerStore, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create entries bucket: %w", err)
	}

	return &LedgerStore{db: db}, nil
}

// Close closes the underlying database.
func (s *LedgerStore) Close() error {
	return s.db.Close()
}

// Get returns the entry for instancePubkey, or (nil, nil) if absent.
func (s *LedgerStore) Get(instancePubkey []byte) (*types.LedgerEntry, error) {
	var entry *types.LedgerEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		data := b.Get(instancePubkey)
		if data == nil {
			return nil
		}
		entry = &types.LedgerEntry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return entry, nil
}

// Put upserts the entry for entry.InstancePubkey.
func (s *LedgerStore) Put(entry *types.LedgerEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		return b.Put(entry.InstancePubkey, data)
	})
	if err != nil {
		return tdxerr.Wrap("storage.put", tdxerr.LedgerUnavailable, err)
	}
	return nil
}
