package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyAcceptsValidSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	payload := NewPayload(DomainRegisterOperator, []byte("instance-pubkey")).
		Field([]byte("operator-pubkey")).
		Bytes()
	sig := Sign(priv, payload)

	require.NoError(t, Verify("register_operator", pub, payload, sig))
}

func TestVerifyRejectsWrongDomain(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signed := NewPayload(DomainRegisterOperator, []byte("instance-pubkey")).Bytes()
	sig := Sign(priv, signed)

	replayed := NewPayload(DomainExposeWorkload, []byte("instance-pubkey")).Bytes()
	err = Verify("expose_workload", pub, replayed, sig)
	require.Error(t, err)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	payload := NewPayload(DomainRegisterOwner, []byte("instance")).Field([]byte("owner")).Bytes()
	sig := Sign(priv, payload)

	tampered := NewPayload(DomainRegisterOwner, []byte("instance")).Field([]byte("owneR")).Bytes()
	require.Error(t, Verify("register_owner", pub, tampered, sig))
}

func TestFieldLengthPrefixingAvoidsAmbiguity(t *testing.T) {
	// "ab" + "cd" and "a" + "bcd" must not collide once length-prefixed.
	p1 := NewPayload("d", nil).Field([]byte("ab")).Field([]byte("cd")).Bytes()
	p2 := NewPayload("d", nil).Field([]byte("a")).Field([]byte("bcd")).Bytes()
	require.NotEqual(t, p1, p2)
}
