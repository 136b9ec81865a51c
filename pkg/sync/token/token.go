// Package token authenticates requests between peers that share a secret.
//
// The sender encrypts the secret under a key derived from itself, and the
// receiver accepts the request if the decrypted secret derives the same key
// as its own. Tokens are hex(IV || AES-128-CBC(secret)), with PKCS#7
// padding. There's no MAC, so a token proves knowledge of the secret but
// doesn't bind it to the request it's attached to.
package token

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"unicode/utf8"

	"github.com/sidkik/pairsync/pkg/errors"
)

// KeySize is the length of keys returned by DeriveKey.
const KeySize = aes.BlockSize

// randReader is the source of IVs. It's a variable so that tests can make
// tokens deterministic.
var randReader io.Reader = rand.Reader

// DeriveKey returns the first 16 bytes of the SHA-256 hash of the secret.
func DeriveKey(secret string) [KeySize]byte {
	var key [KeySize]byte
	sum := sha256.Sum256([]byte(secret))
	copy(key[:], sum[:KeySize])
	return key
}

// Encrypt returns a new token for `secret`. Every call uses a fresh IV, so
// tokens for the same secret differ.
func Encrypt(secret string) (string, error) {
	key := DeriveKey(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", errors.WithContext(err, "create cipher")
	}

	plaintext := pad([]byte(secret))
	out := make([]byte, aes.BlockSize+len(plaintext))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(randReader, iv); err != nil {
		return "", errors.WithContext(err, "generate iv")
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], plaintext)
	return hex.EncodeToString(out), nil
}

// Cipher holds the key derived from a peer's configured secret.
type Cipher struct {
	secret string
	key    [KeySize]byte
	block  cipher.Block
}

// New returns the Cipher for the given shared secret.
func New(secret string) *Cipher {
	key := DeriveKey(secret)
	// aes.NewCipher only fails for invalid key sizes.
	block, err := aes.NewCipher(key[:])
	if err != nil {
		panic(err)
	}
	return &Cipher{secret: secret, key: key, block: block}
}

// Token returns a freshly encrypted token for the configured secret.
func (c *Cipher) Token() (string, error) {
	return Encrypt(c.secret)
}

// Decrypt recovers the secret from a token using the receiver's key. It
// returns false if the token isn't hex, isn't a whole number of blocks
// after the IV, has invalid padding, or doesn't decrypt to UTF-8 text.
func (c *Cipher) Decrypt(token string) (string, bool) {
	raw, err := hex.DecodeString(token)
	if err != nil {
		return "", false
	}

	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return "", false
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, ok := unpad(plaintext)
	if !ok || !utf8.Valid(plaintext) {
		return "", false
	}
	return string(plaintext), true
}

// Verify returns whether `candidate` derives the same key as the configured
// secret.
func (c *Cipher) Verify(candidate string) bool {
	key := DeriveKey(candidate)
	return subtle.ConstantTimeCompare(key[:], c.key[:]) == 1
}

// Authenticate returns whether the token was produced by a peer that knows
// the configured secret.
func (c *Cipher) Authenticate(token string) bool {
	secret, ok := c.Decrypt(token)
	return ok && c.Verify(secret)
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}

	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, false
	}

	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
