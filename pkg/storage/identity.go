package storage

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/confidentio/tdxid/pkg/tdxerr"
	"github.com/confidentio/tdxid/pkg/types"
)

const (
	keyFileName    = "instance.key"
	recordFileName = "identity.json"
)

// IdentityStore persists the instance's signing key and lifecycle record
// under a single root directory. Every write is create-temp-then-rename,
// so a crash mid-write never leaves a partially-written file in place.
type IdentityStore struct {
	root string
}

// NewIdentityStore returns a store rooted at dir. dir is created if
// missing.
func NewIdentityStore(dir string) (*IdentityStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", dir, err)
	}
	return &IdentityStore{root: dir}, nil
}

// HasInstanceKey reports whether an instance key has already been
// generated.
func (s *IdentityStore) HasInstanceKey() bool {
	_, err := os.Stat(filepath.Join(s.root, keyFileName))
	return err == nil
}

// WriteInstanceKey atomically persists priv. Called exactly once, at
// first boot.
func (s *IdentityStore) WriteInstanceKey(priv ed25519.PrivateKey) error {
	return atomicWrite(s.root, keyFileName, []byte(priv))
}

// ReadInstanceKey loads the previously persisted instance key.
func (s *IdentityStore) ReadInstanceKey() (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(filepath.Join(s.root, keyFileName))
	if err != nil {
		return nil, tdxerr.Wrap("storage.read_instance_key", tdxerr.Corruption, err)
	}
	if len(data) != ed25519.PrivateKeySize {
		return nil, tdxerr.New("storage.read_instance_key", tdxerr.Corruption)
	}
	return ed25519.PrivateKey(data), nil
}

// HasRecord reports whether a lifecycle record has been persisted.
func (s *IdentityStore) HasRecord() bool {
	_, err := os.Stat(filepath.Join(s.root, recordFileName))
	return err == nil
}

// WriteRecord atomically persists rec, overwriting any previous record.
// Per spec, this happens after external side effects succeed and before
// a transition's response is returned.
func (s *IdentityStore) WriteRecord(rec *types.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal identity record: %w", err)
	}
	return atomicWrite(s.root, recordFileName, data)
}

// ReadRecord loads and validates the persisted record. Invariants I1-I3
// are rechecked here: the state tag must be one of the five known
// states, and the records required for that state must be present.
// Any failure is Corruption, fatal at start-up.
func (s *IdentityStore) ReadRecord() (*types.Record, error) {
	data, err := os.ReadFile(filepath.Join(s.root, recordFileName))
	if err != nil {
		return nil, tdxerr.Wrap("storage.read_record", tdxerr.Corruption, err)
	}

	var rec types.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, tdxerr.Wrap("storage.read_record", tdxerr.Corruption, err)
	}

	if err := validateRecord(&rec); err != nil {
		return nil, tdxerr.Wrap("storage.read_record", tdxerr.Corruption, err)
	}

	return &rec, nil
}

func validateRecord(rec *types.Record) error {
	if !rec.State.Valid() {
		return fmt.Errorf("unknown state %q", rec.State)
	}

	needOperator := rec.State == types.OperatorRegistered || rec.State == types.OwnerRegistered ||
		rec.State == types.WorkloadConfigured || rec.State == types.WorkloadExposed
	if needOperator && rec.Operator == nil {
		return fmt.Errorf("state %q requires an operator record", rec.State)
	}

	needOwner := rec.State == types.OwnerRegistered || rec.State == types.WorkloadConfigured ||
		rec.State == types.WorkloadExposed
	if needOwner && rec.Owner == nil {
		return fmt.Errorf("state %q requires an owner record", rec.State)
	}

	needWorkload := rec.State == types.WorkloadConfigured || rec.State == types.WorkloadExposed
	if needWorkload && rec.Workload == nil {
		return fmt.Errorf("state %q requires a workload record", rec.State)
	}

	return nil
}

// atomicWrite writes data to name under dir via create-temp-in-same-dir,
// fsync, rename - the same write-then-rename idiom spec.md uses for
// instance-key generation, applied to every persisted write on the
// identity side.
func atomicWrite(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file for %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fsync temp file for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file for %s: %w", name, err)
	}

	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file for %s: %w", name, err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file for %s: %w", name, err)
	}

	return nil
}
