package krypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// NonceLen is the AES-GCM nonce length in bytes.
	NonceLen = 12

	// TagLen is the AES-GCM authentication tag length in bytes.
	TagLen = 16
)

// containerKeyInfo domain-separates the container encryption key from the
// raw Argon2id output, so the KDF result is never used as a cipher key
// directly.
var containerKeyInfo = []byte("lockbox/container-key/v1")

// ExpandKey derives the container AES key from the Argon2id master key
// using HKDF-SHA256.
func ExpandKey(master []byte) ([]byte, error) {
	if len(master) != KeyLen {
		return nil, errors.New("master key must be 32 bytes")
	}
	key := make([]byte, KeyLen)
	r := hkdf.New(sha256.New, master, nil, containerKeyInfo)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("expand key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext with AES-256-GCM under a fresh random nonce.
// The returned ciphertext has the 16-byte tag appended, as produced by GCM.
func Seal(key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, aad)
	return nonce, ciphertext, nil
}

// Open decrypts an AES-256-GCM ciphertext (tag appended) and verifies both
// the tag and the additional authenticated data.
func Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceLen {
		return nil, errors.New("invalid nonce size")
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLen {
		return nil, errors.New("aes-gcm requires a 32-byte key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
