package krypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// SaltLen is the enforced length in bytes of vault salts.
	SaltLen = 16

	// KeyLen is the length in bytes of every derived key.
	KeyLen = 32

	// MinMemoryMiB is the hard floor for the Argon2id memory cost.
	MinMemoryMiB = 8

	// MaxMemoryMiB is the ceiling for the Argon2id memory cost. Argon2
	// takes the cost in KiB as a uint32; anything above this would
	// overflow the conversion and silently derive under a tiny cost.
	MaxMemoryMiB = 4 << 10
)

// Params captures the tunable Argon2id cost parameters. They are persisted
// in the vault container header so a vault can be re-opened with the exact
// parameters it was created with.
type Params struct {
	Time        uint32
	MemoryMiB   uint32
	Parallelism uint8
}

// DefaultParams returns the cost parameters written into new vaults:
// 3 passes over 64 MiB with 2 lanes.
func DefaultParams() Params {
	return Params{
		Time:        3,
		MemoryMiB:   64,
		Parallelism: 2,
	}
}

// Validate reports whether the parameters are safe to derive with.
func (p Params) Validate() error {
	if p.Time == 0 {
		return errors.New("time cost must be positive")
	}
	if p.MemoryMiB < MinMemoryMiB {
		return fmt.Errorf("memory cost must be at least %d MiB", MinMemoryMiB)
	}
	if p.MemoryMiB > MaxMemoryMiB {
		return fmt.Errorf("memory cost must be at most %d MiB", MaxMemoryMiB)
	}
	if p.Parallelism == 0 {
		return errors.New("parallelism must be positive")
	}
	return nil
}

// DeriveKey derives a 32-byte key from a passphrase and salt using Argon2id.
// Derivation is deterministic: the same inputs always produce the same key.
func DeriveKey(passphrase, salt []byte, p Params) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase is required")
	}
	if len(salt) != SaltLen {
		return nil, fmt.Errorf("salt must be %d bytes", SaltLen)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	memoryKiB := p.MemoryMiB * 1024
	key := argon2.IDKey(passphrase, salt, p.Time, memoryKiB, p.Parallelism, KeyLen)
	return key, nil
}

// NewSalt returns a cryptographically random salt of SaltLen bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}
