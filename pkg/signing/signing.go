// Package signing builds the canonical, domain-separated payloads that
// back every mutating request in tdxid and verifies detached Ed25519
// signatures over them. Domain separators stop a signature produced for
// one operation from being replayed against another.
package signing

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/confidentio/tdxid/pkg/tdxerr"
)

// Domain separators, one per signed operation. These are the only place
// the operation name appears in the bytes actually signed.
const (
	DomainRegisterOperator  = "op:register-operator"
	DomainRegisterOwner     = "op:register-owner"
	DomainConfigureWorkload = "op:configure-workload"
	DomainExposeWorkload    = "op:expose-workload"
	DomainLedgerRegister    = "ledger:register"
	DomainLedgerAttachOwner = "ledger:attach-owner"
)

// Builder accumulates length-prefixed fields into a canonical payload.
// Length-prefixing (rather than concatenation) prevents two different
// splits of adjacent variable-length fields from hashing to the same
// bytes.
type Builder struct {
	buf []byte
}

// NewPayload starts a canonical payload with the given domain separator
// and instance public key, which are present in every signed operation in
// this system (the instance pubkey binds the payload to one instance and
// prevents cross-instance replay).
func NewPayload(domain string, instancePubkey []byte) *Builder {
	b := &Builder{}
	b.field([]byte(domain))
	b.field(instancePubkey)
	return b
}

// Field appends one more length-prefixed field to the payload.
func (b *Builder) Field(data []byte) *Builder {
	b.field(data)
	return b
}

func (b *Builder) field(data []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
	b.buf = append(b.buf, lenBuf[:]...)
	b.buf = append(b.buf, data...)
}

// Bytes returns the canonical payload built so far.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Verify checks sig as a detached Ed25519 signature over payload by
// pubkey. Any failure - malformed key, malformed signature, mismatch -
// collapses to the single BadSignature kind; no detail about which part
// of the payload or key was at fault is returned.
func Verify(op string, pubkey, payload, sig []byte) error {
	if len(pubkey) != ed25519.PublicKeySize {
		return tdxerr.New(op, tdxerr.BadSignature)
	}
	if len(sig) != ed25519.SignatureSize {
		return tdxerr.New(op, tdxerr.BadSignature)
	}
	if !ed25519.Verify(ed25519.PublicKey(pubkey), payload, sig) {
		return tdxerr.New(op, tdxerr.BadSignature)
	}
	return nil
}

// Sign produces a detached Ed25519 signature over payload. Used by the
// instance side when it must authenticate a request to the registry
// (e.g. ledger:register, ledger:attach-owner).
func Sign(priv ed25519.PrivateKey, payload []byte) []byte {
	return ed25519.Sign(priv, payload)
}
