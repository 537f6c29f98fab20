package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestEncryptorRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	payload := []byte(`{"meta":{"event_name":"order_created"}}`)
	sealed, err := enc.Encrypt(payload)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "order_created")

	opened, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, payload, opened)
}

func TestEncryptorRejectsBadKey(t *testing.T) {
	_, err := NewEncryptor("too-short")
	assert.Error(t, err)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	sealed, err := enc.Encrypt([]byte("secret"))
	require.NoError(t, err)

	flipped := "A"
	if sealed[0] == 'A' {
		flipped = "B"
	}
	_, err = enc.Decrypt(flipped + sealed[1:])
	assert.Error(t, err)

	_, err = enc.Decrypt("not base64!!!")
	assert.Error(t, err)
}

func TestDecryptWrongKey(t *testing.T) {
	a, err := NewEncryptor(testKey)
	require.NoError(t, err)
	b, err := NewEncryptor("fedcba9876543210fedcba9876543210")
	require.NoError(t, err)

	sealed, err := a.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.Error(t, err)
}
