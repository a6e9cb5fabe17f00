package ai

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	return hex.EncodeToString(make([]byte, 32))
}

func TestSealOpenRoundTrip(t *testing.T) {
	creds, err := NewCredentials(testKey())
	require.NoError(t, err)

	sealed, err := creds.Seal("sk-super-secret")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "secret")

	opened, err := creds.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-super-secret", opened)
}

func TestSealProducesDistinctCiphertexts(t *testing.T) {
	creds, err := NewCredentials(testKey())
	require.NoError(t, err)

	a, err := creds.Seal("same-key")
	require.NoError(t, err)
	b, err := creds.Seal("same-key")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "random nonces should yield distinct ciphertexts")
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	creds, err := NewCredentials(testKey())
	require.NoError(t, err)

	sealed, err := creds.Seal("sk-key")
	require.NoError(t, err)

	_, err = creds.Open("AAAA" + sealed[4:])
	assert.Error(t, err)
}

func TestNewCredentialsValidation(t *testing.T) {
	_, err := NewCredentials("")
	assert.Error(t, err)

	_, err = NewCredentials("abcd")
	assert.Error(t, err)

	_, err = NewCredentials("zz" + testKey()[2:])
	assert.Error(t, err)
}
