// Package registry implements the registration ledger: the attestation-
// gated, single-writer-per-key record of (instance_pubkey -> quote,
// operator_pubkey, owner_pubkey?) tuples that backs the identity
// service's transitions.
package registry

import (
	"bytes"
	"context"
	"time"

	"github.com/confidentio/tdxid/pkg/attestation"
	"github.com/confidentio/tdxid/pkg/log"
	"github.com/confidentio/tdxid/pkg/metrics"
	"github.com/confidentio/tdxid/pkg/signing"
	"github.com/confidentio/tdxid/pkg/storage"
	"github.com/confidentio/tdxid/pkg/tdxerr"
	"github.com/confidentio/tdxid/pkg/types"
)

// Ledger is the registry service's core: it never trusts a caller, every
// mutation carries its own cryptographic proof (spec.md §4.2).
type Ledger struct {
	store  *storage.LedgerStore
	locks  *keyLocks
	policy attestation.Policy

	// skipTDXAuth bypasses quote verification entirely. Testing only -
	// see spec.md §6's SKIP_TDX_AUTH.
	skipTDXAuth bool
}

// Config holds the knobs New needs beyond the store itself.
type Config struct {
	Policy      attestation.Policy
	SkipTDXAuth bool
}

// New constructs a Ledger backed by store.
func New(store *storage.LedgerStore, cfg Config) *Ledger {
	return &Ledger{
		store:       store,
		locks:       newKeyLocks(),
		policy:      cfg.Policy,
		skipTDXAuth: cfg.SkipTDXAuth,
	}
}

// Register verifies quote against the configured root of trust (unless
// SkipTDXAuth), verifies the request is signed by instancePubkey, and
// stores the entry. Idempotent for an identical (instancePubkey, quote)
// pair; Conflict if an entry already exists with a different quote or
// already carries an owner_pubkey.
func (l *Ledger) Register(ctx context.Context, instancePubkey, quote, operatorPubkey, sig []byte) error {
	payload := signing.NewPayload(signing.DomainLedgerRegister, instancePubkey).
		Field(quote).
		Field(operatorPubkey).
		Bytes()
	if err := signing.Verify("registry.register", instancePubkey, payload, sig); err != nil {
		l.recordOutcome("register", "bad_signature")
		return err
	}

	if !l.skipTDXAuth {
		reportData, err := attestation.ReportData(instancePubkey)
		if err != nil {
			l.recordOutcome("register", "attestation_rejected")
			return tdxerr.Wrap("registry.register", tdxerr.AttestationRejected, err)
		}
		timer := metrics.NewTimer()
		err = attestation.Verify(ctx, attestation.Quote(quote), reportData, l.policy)
		timer.ObserveDurationVec(metrics.AttestationDuration, "verify")
		if err != nil {
			l.recordOutcome("register", "attestation_rejected")
			return err
		}
	}

	unlock := l.locks.Lock(instancePubkey)
	defer unlock()

	existing, err := l.store.Get(instancePubkey)
	if err != nil {
		l.recordOutcome("register", "ledger_unavailable")
		return tdxerr.Wrap("registry.register", tdxerr.LedgerUnavailable, err)
	}

	if existing != nil {
		if !bytes.Equal(existing.Quote, quote) || len(existing.OwnerPubkey) > 0 {
			l.recordOutcome("register", "conflict")
			return tdxerr.New("registry.register", tdxerr.Conflict)
		}
		// Idempotent replay of an identical register: nothing to do.
		l.recordOutcome("register", "ok")
		return nil
	}

	entry := &types.LedgerEntry{
		InstancePubkey: instancePubkey,
		Quote:          quote,
		OperatorPubkey: operatorPubkey,
		CreatedAt:      time.Now().UTC(),
	}
	if err := l.store.Put(entry); err != nil {
		l.recordOutcome("register", "ledger_unavailable")
		return err
	}

	metrics.LedgerEntriesTotal.Inc()
	l.recordOutcome("register", "ok")
	log.WithComponent("registry").Info().
		Str("instance", hexPrefix(instancePubkey)).
		Msg("registered instance")
	return nil
}

// AttachOwner requires an existing entry with an operator_pubkey and no
// owner_pubkey yet, verifies sigByInstance with the stored
// instance_pubkey, and stores owner_pubkey. Idempotent for the same
// owner_pubkey; Conflict for a different one.
func (l *Ledger) AttachOwner(ctx context.Context, instancePubkey, ownerPubkey, sigByInstance []byte) error {
	payload := signing.NewPayload(signing.DomainLedgerAttachOwner, instancePubkey).
		Field(ownerPubkey).
		Bytes()

	unlock := l.locks.Lock(instancePubkey)
	defer unlock()

	entry, err := l.store.Get(instancePubkey)
	if err != nil {
		l.recordOutcome("attach_owner", "ledger_unavailable")
		return tdxerr.Wrap("registry.attach_owner", tdxerr.LedgerUnavailable, err)
	}
	if entry == nil || len(entry.OperatorPubkey) == 0 {
		l.recordOutcome("attach_owner", "not_found")
		return tdxerr.New("registry.attach_owner", tdxerr.NotFound)
	}

	if err := signing.Verify("registry.attach_owner", instancePubkey, payload, sigByInstance); err != nil {
		l.recordOutcome("attach_owner", "bad_signature")
		return err
	}

	if len(entry.OwnerPubkey) > 0 {
		if !bytes.Equal(entry.OwnerPubkey, ownerPubkey) {
			l.recordOutcome("attach_owner", "conflict")
			return tdxerr.New("registry.attach_owner", tdxerr.Conflict)
		}
		l.recordOutcome("attach_owner", "ok")
		return nil
	}

	entry.OwnerPubkey = ownerPubkey
	if err := l.store.Put(entry); err != nil {
		l.recordOutcome("attach_owner", "ledger_unavailable")
		return err
	}

	l.recordOutcome("attach_owner", "ok")
	return nil
}

// Lookup returns the entry for instancePubkey, or NotFound.
func (l *Ledger) Lookup(instancePubkey []byte) (*types.LedgerEntry, error) {
	entry, err := l.store.Get(instancePubkey)
	if err != nil {
		return nil, tdxerr.Wrap("registry.lookup", tdxerr.LedgerUnavailable, err)
	}
	if entry == nil {
		return nil, tdxerr.New("registry.lookup", tdxerr.NotFound)
	}
	return entry, nil
}

func (l *Ledger) recordOutcome(operation, outcome string) {
	metrics.LedgerOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

func hexPrefix(b []byte) string {
	const n = 8
	if len(b) > n {
		b = b[:n]
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}
