package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i * 7)
	}
	return k
}

func TestSeal_RoundTrip(t *testing.T) {
	s, err := NewSealer(testKey())
	require.NoError(t, err)

	blob, err := s.Seal([]byte("tenant jwt secret bytes"))
	require.NoError(t, err)

	plaintext, err := s.Open(blob)
	require.NoError(t, err)
	require.Equal(t, "tenant jwt secret bytes", string(plaintext))
}

func TestOpen_RejectsTamperedFields(t *testing.T) {
	s, err := NewSealer(testKey())
	require.NoError(t, err)

	blob, err := s.Seal([]byte("secret"))
	require.NoError(t, err)

	parts := []rune(blob)
	// flip a hex character in the ciphertext segment
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != ':' {
			if parts[i] == '0' {
				parts[i] = '1'
			} else {
				parts[i] = '0'
			}
			break
		}
	}
	tampered := string(parts)

	_, err = s.Open(tampered)
	require.ErrorIs(t, err, ErrTampered)
}

func TestOpen_RejectsMalformedBlob(t *testing.T) {
	s, err := NewSealer(testKey())
	require.NoError(t, err)

	_, err = s.Open("not-a-valid-blob")
	require.ErrorIs(t, err, ErrTampered)
}

func TestPassword_VerifyRoundTrip(t *testing.T) {
	hash, err := HashPassword("Abcd1234!")
	require.NoError(t, err)

	require.True(t, VerifyPassword("Abcd1234!", hash))
	require.False(t, VerifyPassword("wrong-password", hash))
}

func TestRandomToken_Length(t *testing.T) {
	tok, err := RandomToken(32)
	require.NoError(t, err)
	require.Len(t, tok, 64)
}

func TestSHA256Hex_Deterministic(t *testing.T) {
	require.Equal(t, SHA256Hex([]byte("abc")), SHA256Hex([]byte("abc")))
	require.NotEqual(t, SHA256Hex([]byte("abc")), SHA256Hex([]byte("abd")))
}
