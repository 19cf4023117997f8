package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHMACVerifier(t *testing.T) {
	v := HMACVerifier{Keys: []string{"k1", "k2"}}

	uid, ok := v.Verify(Token("k1", "alice"))
	require.True(t, ok)
	require.Equal(t, "alice", uid)

	// any configured key is accepted
	uid, ok = v.Verify(Token("k2", "bob"))
	require.True(t, ok)
	require.Equal(t, "bob", uid)

	_, ok = v.Verify(Token("wrong-key", "alice"))
	require.False(t, ok)

	_, ok = v.Verify("alice")
	require.False(t, ok, "missing signature")

	_, ok = v.Verify("alice:")
	require.False(t, ok)

	_, ok = v.Verify(":" + Sign("k1", "alice"))
	require.False(t, ok, "missing user id")

	// signature must cover the claimed user id, not some other one
	_, ok = v.Verify("mallory:" + Sign("k1", "alice"))
	require.False(t, ok)
}

func TestHMACVerifierAllowUnauth(t *testing.T) {
	v := HMACVerifier{AllowUnauth: true}

	uid, ok := v.Verify("alice")
	require.True(t, ok)
	require.Equal(t, "alice", uid)

	_, ok = v.Verify("")
	require.False(t, ok, "an empty identity is never accepted")
}
