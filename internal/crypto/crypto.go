// Package crypto implements the AEAD envelope, password hashing, and CSPRNG
// token generation used to protect per-tenant secret material.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrTampered is returned by Open when the stored blob has been corrupted
// or forged; the GCM tag failed to authenticate.
var ErrTampered = fmt.Errorf("crypto: ciphertext failed authentication")

// BcryptCost is the default password hashing cost. Higher than the bcrypt
// package default to keep pace with current hardware.
const BcryptCost = 12

// Sealer encrypts and decrypts tenant secret material with a single master
// key using AES-256-GCM. The stored blob layout is
// hex(nonce):hex(tag):hex(ciphertext), matching the wire format tenants'
// encrypted fields are persisted in.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a 32-byte master key.
func NewSealer(masterKey [32]byte) (*Sealer, error) {
	block, err := aes.NewCipher(masterKey[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext and returns the stored blob form
// hex(nonce):hex(tag):hex(ciphertext).
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: read nonce: %w", err)
	}

	sealed := s.aead.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - s.aead.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return fmt.Sprintf("%s:%s:%s", hex.EncodeToString(nonce), hex.EncodeToString(tag), hex.EncodeToString(ciphertext)), nil
}

// Open decrypts a blob produced by Seal. Any tampered field (nonce, tag, or
// ciphertext) causes ErrTampered.
func (s *Sealer) Open(blob string) ([]byte, error) {
	nonceHex, tagHex, cipherHex, ok := splitBlob(blob)
	if !ok {
		return nil, ErrTampered
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return nil, ErrTampered
	}
	tag, err := hex.DecodeString(tagHex)
	if err != nil {
		return nil, ErrTampered
	}
	ciphertext, err := hex.DecodeString(cipherHex)
	if err != nil {
		return nil, ErrTampered
	}
	if len(nonce) != s.aead.NonceSize() {
		return nil, ErrTampered
	}

	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrTampered
	}
	return plaintext, nil
}

func splitBlob(blob string) (nonce, tag, ciphertext string, ok bool) {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(blob); i++ {
		if blob[i] == ':' {
			parts = append(parts, blob[start:i])
			start = i + 1
		}
	}
	parts = append(parts, blob[start:])
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// HashPassword produces a bcrypt hash suitable for long-term storage.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("crypto: hash password: %w", err)
	}
	return string(h), nil
}

// VerifyPassword reports whether password matches the stored bcrypt hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// RandomToken returns n CSPRNG bytes hex-encoded, used for API keys,
// verification tokens, and the random bytes seeding tenant JWT secrets.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto: read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data, used both for
// blob-store content addressing and refresh-token-at-rest hashing.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
