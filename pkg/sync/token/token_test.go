package token

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	// The first 16 bytes of sha256("secret").
	exp, err := hex.DecodeString("2bb80d537b1da3e38bd30361aa855686")
	require.NoError(t, err)

	key := DeriveKey("secret")
	assert.Equal(t, exp, key[:])
	assert.NotEqual(t, key, DeriveKey("Secret"))
}

func TestRoundTrip(t *testing.T) {
	for _, secret := range []string{"", "s", "exactly16bytes!!", "a much longer shared secret", "sécret"} {
		token, err := Encrypt(secret)
		require.NoError(t, err)

		c := New(secret)
		decrypted, ok := c.Decrypt(token)
		assert.True(t, ok, "secret %q", secret)
		assert.Equal(t, secret, decrypted)
		assert.True(t, c.Verify(decrypted))
		assert.True(t, c.Authenticate(token))
	}
}

func TestWrongSecret(t *testing.T) {
	token, err := Encrypt("S1")
	require.NoError(t, err)

	c := New("S2")
	assert.False(t, c.Authenticate(token))
	assert.False(t, c.Verify("S1"))

	// Decrypting under the wrong key rarely yields valid padding. If it
	// does, the recovered text still doesn't derive the receiver's key.
	if secret, ok := c.Decrypt(token); ok {
		assert.False(t, c.Verify(secret))
	}
}

func TestFreshIV(t *testing.T) {
	c := New("secret")
	first, err := c.Token()
	require.NoError(t, err)
	second, err := c.Token()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, c.Authenticate(first))
	assert.True(t, c.Authenticate(second))
}

func TestDeterministicIV(t *testing.T) {
	orig := randReader
	randReader = bytes.NewReader(make([]byte, aes.BlockSize))
	defer func() { randReader = orig }()

	token, err := Encrypt("secret")
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(make([]byte, aes.BlockSize)), token[:2*aes.BlockSize])
	assert.Len(t, token, 4*aes.BlockSize)
}

func TestDecryptGarbage(t *testing.T) {
	c := New("secret")

	valid, err := Encrypt("secret")
	require.NoError(t, err)

	// A valid token whose last block doesn't unpad.
	raw, _ := hex.DecodeString(valid)
	badPadding := encryptRaw(t, "secret", raw[:aes.BlockSize], bytes.Repeat([]byte{0}, aes.BlockSize))

	// Valid padding around bytes that aren't UTF-8.
	plaintext := append([]byte{0xff, 0xfe}, bytes.Repeat([]byte{14}, 14)...)
	notUTF8 := encryptRaw(t, "secret", raw[:aes.BlockSize], plaintext)

	tests := []struct {
		name  string
		token string
	}{
		{"Empty", ""},
		{"NotHex", "not a token"},
		{"OddLength", valid[:len(valid)-1]},
		{"IVOnly", valid[:2*aes.BlockSize]},
		{"Misaligned", valid[:len(valid)-2]},
		{"BadPadding", badPadding},
		{"NotUTF8", notUTF8},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			_, ok := c.Decrypt(test.token)
			assert.False(t, ok)
			assert.False(t, c.Authenticate(test.token))
		})
	}
}

func TestUnpad(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		exp   []byte
		expOK bool
	}{
		{"FullBlock", bytes.Repeat([]byte{16}, 16), []byte{}, true},
		{"Partial", []byte{'a', 'b', 2, 2}, []byte{'a', 'b'}, true},
		{"Zero", []byte{'a', 0}, nil, false},
		{"TooLarge", []byte{'a', 17}, nil, false},
		{"Inconsistent", []byte{'a', 1, 2}, nil, false},
		{"Empty", nil, nil, false},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			out, ok := unpad(test.input)
			assert.Equal(t, test.expOK, ok)
			if test.expOK {
				assert.Equal(t, test.exp, out)
			}
		})
	}
}

// encryptRaw encrypts a block-aligned plaintext without padding it.
func encryptRaw(t *testing.T, secret string, iv, plaintext []byte) string {
	key := DeriveKey(secret)
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)

	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return hex.EncodeToString(append(append([]byte{}, iv...), out...))
}
