// Package crypto holds the hashing and symmetric encryption helpers exposed
// to controllers and the command line.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// DefaultSaltLength is used when GenerateSalt gets a non-positive length.
const DefaultSaltLength = 20

// KeyLength is the required encryption key length in characters.
const KeyLength = 32

const ivLength = aes.BlockSize

const saltAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// ErrKeyLength reports a key that is not KeyLength characters long.
var ErrKeyLength = fmt.Errorf("key must be %d characters", KeyLength)

// HashPassword returns hex(sha256(password + salt)).
func HashPassword(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

// GenerateSalt returns a random alphanumeric string.
func GenerateSalt(length int) (string, error) {
	if length <= 0 {
		length = DefaultSaltLength
	}
	limit := big.NewInt(int64(len(saltAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate salt: %w", err)
		}
		b.WriteByte(saltAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// GetUnique returns hex(md5(data)). It is a content fingerprint, not a
// security primitive.
func GetUnique(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Encrypt encrypts data with AES-256-CTR under key and a random
// alphanumeric IV. The result is hex(iv) + ":" + hex(ciphertext).
func Encrypt(data, key string) (string, error) {
	iv, err := GenerateSalt(ivLength)
	if err != nil {
		return "", err
	}
	return encryptWithIV(data, key, []byte(iv))
}

func encryptWithIV(data, key string, iv []byte) (string, error) {
	stream, err := newStream(key, iv)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	out := make([]byte, len(data))
	stream.XORKeyStream(out, []byte(data))
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func Decrypt(data, key string) (string, error) {
	if len(key) != KeyLength {
		return "", fmt.Errorf("decrypt: %w", ErrKeyLength)
	}
	ivHex, cipherHex, ok := strings.Cut(data, ":")
	if !ok {
		return "", errors.New("decrypt: missing iv separator")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("decrypt: decode iv: %w", err)
	}
	ciphertext, err := hex.DecodeString(cipherHex)
	if err != nil {
		return "", fmt.Errorf("decrypt: decode ciphertext: %w", err)
	}
	stream, err := newStream(key, iv)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	out := make([]byte, len(ciphertext))
	stream.XORKeyStream(out, ciphertext)
	return string(out), nil
}

func newStream(key string, iv []byte) (cipher.Stream, error) {
	if len(key) != KeyLength {
		return nil, ErrKeyLength
	}
	if len(iv) != ivLength {
		return nil, fmt.Errorf("iv must be %d bytes", ivLength)
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}
