// Package keys generates and derives the asymmetric and symmetric key
// material used throughout tdxid: the per-instance Ed25519 signing key,
// the owner token, and the encrypted-volume root key.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// domain separation labels for the two HKDF-derived secrets. Keeping them
// distinct means a collision in one derivation can never be reused as the
// other, even though both are rooted in the same instance private key.
const (
	ownerTokenInfo  = "tdxid/owner-token/v1"
	volumeKeyInfo   = "tdxid/volume-root-key/v1"
	volumeKeyLength = 32 // AES-256 / gocryptfs masterkey size
)

// GenerateInstanceKey creates a fresh Ed25519 keypair for first boot.
func GenerateInstanceKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate instance key: %w", err)
	}
	return pub, priv, nil
}

// DeriveOwnerToken computes the one-shot owner token for the
// (instance, operator) pair via HKDF-SHA256 over the instance private key,
// domain-separated from DeriveVolumeRootKey so the two derivations can
// never collide. The derivation is deterministic: re-deriving it from the
// same instance key and operator pubkey always yields the same token,
// which is what lets register_owner validate it without storing it in a
// plaintext-recoverable form.
func DeriveOwnerToken(instancePriv ed25519.PrivateKey, operatorPubkey []byte) ([]byte, error) {
	return hkdfDerive(instancePriv.Seed(), operatorPubkey, ownerTokenInfo, 32)
}

// DeriveVolumeRootKey computes the encrypted volume's root key from
// owner-supplied key material bound into the workload descriptor. Unlike
// DeriveOwnerToken this does not mix in the instance private key: the
// owner must be able to reproduce the same root key themselves (e.g. to
// recover the volume after the instance is gone), so the derivation is
// keyed purely by material the owner controls.
func DeriveVolumeRootKey(ownerKeyMaterial []byte) ([]byte, error) {
	return hkdfDerive(ownerKeyMaterial, nil, volumeKeyInfo, volumeKeyLength)
}

func hkdfDerive(secret, salt []byte, info string, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf derive %q: %w", info, err)
	}
	return out, nil
}
