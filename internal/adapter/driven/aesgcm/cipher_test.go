package aesgcm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)

	sealed, err := c.Seal("owner-1", []byte("sk-live-123"))
	require.NoError(t, err)
	assert.Len(t, sealed.Nonce, 12)
	assert.Len(t, sealed.Tag, 16)
	assert.NotContains(t, string(sealed.Ciphertext), "sk-live")

	plain, err := c.Open("owner-1", sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", string(plain))
}

func TestCipher_FreshNoncePerSeal(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)

	a, err := c.Seal("owner-1", []byte("same"))
	require.NoError(t, err)
	b, err := c.Seal("owner-1", []byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestCipher_TamperedCiphertext(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)

	sealed, err := c.Seal("owner-1", []byte("sk-live-123"))
	require.NoError(t, err)

	sealed.Ciphertext[0] ^= 0xFF
	_, err = c.Open("owner-1", sealed)
	assert.ErrorIs(t, err, model.ErrDecryption)
}

func TestCipher_TamperedTag(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)

	sealed, err := c.Seal("owner-1", []byte("sk-live-123"))
	require.NoError(t, err)

	sealed.Tag[len(sealed.Tag)-1] ^= 0x01
	_, err = c.Open("owner-1", sealed)
	assert.ErrorIs(t, err, model.ErrDecryption)
}

func TestCipher_OwnerBinding(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)

	sealed, err := c.Seal("owner-1", []byte("sk-live-123"))
	require.NoError(t, err)

	_, err = c.Open("owner-2", sealed)
	assert.ErrorIs(t, err, model.ErrDecryption)
}

func TestCipher_SurvivesStorageEncoding(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)

	sealed, err := c.Seal("owner-1", []byte("round trip through base64"))
	require.NoError(t, err)

	decoded, err := model.DecodeEncryptedValue(sealed.Encode())
	require.NoError(t, err)

	plain, err := c.Open("owner-1", decoded)
	require.NoError(t, err)
	assert.Equal(t, "round trip through base64", string(plain))
}

func TestCipher_NoKey(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	_, err = c.Seal("owner-1", []byte("x"))
	assert.ErrorIs(t, err, driven.ErrEncryptionKeyNotSet)
}

func TestNew_RejectsShortKey(t *testing.T) {
	_, err := New([]byte("short"))
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	hexKey := strings.Repeat("ab", KeySize)
	key, err := ParseKey(hexKey)
	require.NoError(t, err)
	assert.Len(t, key, KeySize)

	key, err = ParseKey("QkJCQkJCQkJCQkJCQkJCQkJCQkJCQkJCQkJCQkJCQkI=")
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)

	key, err = ParseKey("")
	require.NoError(t, err)
	assert.Nil(t, key)

	_, err = ParseKey("not-a-key")
	assert.Error(t, err)
}

func TestGenerateKey(t *testing.T) {
	s, err := GenerateKey()
	require.NoError(t, err)

	key, err := ParseKey(s)
	require.NoError(t, err)
	assert.Len(t, key, KeySize)
}
