package keys

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeneratePrivateKey(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		sk := GeneratePrivateKey()
		require.Len(t, sk, 64)
		_, err := hex.DecodeString(sk)
		require.NoError(t, err)
		require.False(t, seen[sk], "generated the same key twice")
		seen[sk] = true
	}
}

func TestGetPublicKey(t *testing.T) {
	sk := GeneratePrivateKey()

	pub, err := GetPublicKey(sk)
	require.NoError(t, err)
	require.Len(t, pub, 64)
	require.True(t, IsValidPublicKey(pub))

	// derivation is deterministic
	again, err := GetPublicKey(sk)
	require.NoError(t, err)
	require.Equal(t, pub, again)

	_, err = GetPublicKey("not hex")
	require.Error(t, err)
}

func TestIsValidPublicKey(t *testing.T) {
	require.True(t, IsValidPublicKey(
		"79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"))
	require.False(t, IsValidPublicKey(
		"79BE667EF9DCBBAC55A06295CE870B07029BFCDB2DCE28D959F2815B16F81798"))
	require.False(t, IsValidPublicKey("abcd"))
	require.False(t, IsValidPublicKey(""))
	require.False(t, IsValidPublicKey("zz"))
}
