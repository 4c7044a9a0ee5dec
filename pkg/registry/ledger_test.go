package registry

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/confidentio/tdxid/pkg/signing"
	"github.com/confidentio/tdxid/pkg/storage"
	"github.com/confidentio/tdxid/pkg/tdxerr"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	store, err := storage.NewLedgerStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, Config{SkipTDXAuth: true})
}

func registerPayload(instancePub, quote, operatorPub []byte) []byte {
	return signing.NewPayload(signing.DomainLedgerRegister, instancePub).
		Field(quote).
		Field(operatorPub).
		Bytes()
}

func attachOwnerPayload(instancePub, ownerPub []byte) []byte {
	return signing.NewPayload(signing.DomainLedgerAttachOwner, instancePub).
		Field(ownerPub).
		Bytes()
}

func TestLedgerRegisterThenLookup(t *testing.T) {
	l := newTestLedger(t)
	instancePub, instancePriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	quote := []byte("quote-bytes")
	operatorPub := []byte("operator-pub")

	sig := signing.Sign(instancePriv, registerPayload(instancePub, quote, operatorPub))
	require.NoError(t, l.Register(context.Background(), instancePub, quote, operatorPub, sig))

	entry, err := l.Lookup(instancePub)
	require.NoError(t, err)
	require.Equal(t, quote, entry.Quote)
	require.Equal(t, operatorPub, entry.OperatorPubkey)
	require.Empty(t, entry.OwnerPubkey)
}

func TestLedgerRegisterRejectsBadSignature(t *testing.T) {
	l := newTestLedger(t)
	instancePub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	quote := []byte("quote-bytes")
	operatorPub := []byte("operator-pub")
	sig := signing.Sign(otherPriv, registerPayload(instancePub, quote, operatorPub))

	err = l.Register(context.Background(), instancePub, quote, operatorPub, sig)
	require.Error(t, err)
	kind, ok := tdxerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, tdxerr.BadSignature, kind)
}

func TestLedgerRegisterIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	instancePub, instancePriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	quote := []byte("quote-bytes")
	operatorPub := []byte("operator-pub")
	sig := signing.Sign(instancePriv, registerPayload(instancePub, quote, operatorPub))

	require.NoError(t, l.Register(context.Background(), instancePub, quote, operatorPub, sig))
	require.NoError(t, l.Register(context.Background(), instancePub, quote, operatorPub, sig))
}

func TestLedgerRegisterRejectsConflictingQuote(t *testing.T) {
	l := newTestLedger(t)
	instancePub, instancePriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	operatorPub := []byte("operator-pub")

	sig1 := signing.Sign(instancePriv, registerPayload(instancePub, []byte("quote-1"), operatorPub))
	require.NoError(t, l.Register(context.Background(), instancePub, []byte("quote-1"), operatorPub, sig1))

	sig2 := signing.Sign(instancePriv, registerPayload(instancePub, []byte("quote-2"), operatorPub))
	err = l.Register(context.Background(), instancePub, []byte("quote-2"), operatorPub, sig2)
	require.Error(t, err)
	kind, ok := tdxerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, tdxerr.Conflict, kind)
}

func TestLedgerAttachOwnerRequiresExistingEntry(t *testing.T) {
	l := newTestLedger(t)
	instancePub, instancePriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	ownerPub := []byte("owner-pub")

	sig := signing.Sign(instancePriv, attachOwnerPayload(instancePub, ownerPub))
	err = l.AttachOwner(context.Background(), instancePub, ownerPub, sig)
	require.Error(t, err)
	kind, ok := tdxerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, tdxerr.NotFound, kind)
}

func TestLedgerAttachOwnerSucceedsThenRejectsDifferentOwner(t *testing.T) {
	l := newTestLedger(t)
	instancePub, instancePriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	quote := []byte("quote-bytes")
	operatorPub := []byte("operator-pub")

	regSig := signing.Sign(instancePriv, registerPayload(instancePub, quote, operatorPub))
	require.NoError(t, l.Register(context.Background(), instancePub, quote, operatorPub, regSig))

	ownerPub := []byte("owner-pub")
	attachSig := signing.Sign(instancePriv, attachOwnerPayload(instancePub, ownerPub))
	require.NoError(t, l.AttachOwner(context.Background(), instancePub, ownerPub, attachSig))

	// Idempotent replay with the same owner.
	require.NoError(t, l.AttachOwner(context.Background(), instancePub, ownerPub, attachSig))

	otherOwner := []byte("owner-pub-2")
	otherSig := signing.Sign(instancePriv, attachOwnerPayload(instancePub, otherOwner))
	err = l.AttachOwner(context.Background(), instancePub, otherOwner, otherSig)
	require.Error(t, err)
	kind, ok := tdxerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, tdxerr.Conflict, kind)
}

func TestLedgerLookupMissingIsNotFound(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Lookup([]byte("nope"))
	require.Error(t, err)
	kind, ok := tdxerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, tdxerr.NotFound, kind)
}
