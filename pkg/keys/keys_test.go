package keys

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveOwnerTokenDeterministic(t *testing.T) {
	_, priv, err := GenerateInstanceKey()
	require.NoError(t, err)

	operatorPubkey := []byte("operator-pubkey-bytes")

	t1, err := DeriveOwnerToken(priv, operatorPubkey)
	require.NoError(t, err)
	t2, err := DeriveOwnerToken(priv, operatorPubkey)
	require.NoError(t, err)

	require.Equal(t, t1, t2, "re-deriving the token from the same inputs must be stable")
}

func TestDeriveOwnerTokenDistinctPerOperator(t *testing.T) {
	_, priv, err := GenerateInstanceKey()
	require.NoError(t, err)

	tokenA, err := DeriveOwnerToken(priv, []byte("operator-a"))
	require.NoError(t, err)
	tokenB, err := DeriveOwnerToken(priv, []byte("operator-b"))
	require.NoError(t, err)

	require.NotEqual(t, tokenA, tokenB, "distinct operator keys must not yield the same token")
}

func TestDeriveOwnerTokenDistinctPerInstance(t *testing.T) {
	_, privA, err := GenerateInstanceKey()
	require.NoError(t, err)
	_, privB, err := GenerateInstanceKey()
	require.NoError(t, err)

	operatorPubkey := []byte("same-operator")

	tokenA, err := DeriveOwnerToken(privA, operatorPubkey)
	require.NoError(t, err)
	tokenB, err := DeriveOwnerToken(privB, operatorPubkey)
	require.NoError(t, err)

	require.NotEqual(t, tokenA, tokenB)
}

func TestDeriveVolumeRootKeyDeterministicAndSeparated(t *testing.T) {
	material := []byte("owner-supplied-entropy")

	k1, err := DeriveVolumeRootKey(material)
	require.NoError(t, err)
	k2, err := DeriveVolumeRootKey(material)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
	require.Len(t, k1, volumeKeyLength)

	_, priv, err := GenerateInstanceKey()
	require.NoError(t, err)
	ownerToken, err := DeriveOwnerToken(priv, material)
	require.NoError(t, err)
	require.NotEqual(t, k1, ownerToken, "volume key and owner token must be domain-separated")
}
