package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Vault encrypts token payloads for at-rest storage with AES-256-GCM.
// A nil Vault means token-at-rest storage is disabled and every method
// degrades to a no-op the Authority knows how to skip.
type Vault struct {
	aead cipher.AEAD
}

// NewVault builds a Vault from a 32-byte AES-256 key.
func NewVault(key []byte) (*Vault, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Seal encrypts plaintext, prefixing the random nonce to the ciphertext.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a Seal-produced blob.
func (v *Vault) Open(blob []byte) ([]byte, error) {
	if len(blob) < v.aead.NonceSize() {
		return nil, fmt.Errorf("vault blob too short")
	}
	nonce, ciphertext := blob[:v.aead.NonceSize()], blob[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("vault open: %w", err)
	}
	return plaintext, nil
}
