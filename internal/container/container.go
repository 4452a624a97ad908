// Package container reads and writes the encrypted vault file. A container
// is the only artifact a vault persists; it is either fully well-formed or
// treated as corrupt in its entirety.
package container

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hmz-labs/lockbox/krypto"
)

// Version is written into every new container. It pins the binary layout,
// the codec version of the plaintext, and the KDF defaults documented below.
const Version = 1

// Binary layout, big-endian:
//
//	[version: u16]
//	[salt: 16 bytes]
//	[kdf time cost: u32]
//	[kdf memory cost: u32]   in KiB, the unit Argon2 consumes
//	[kdf parallelism: u8]
//	[nonce: 12 bytes]
//	[ciphertext length: u32]
//	[ciphertext: bytes]
//	[auth tag: 16 bytes]
//
// The header (version through nonce) doubles as the AEAD associated data,
// so tampering with the stored cost parameters fails authentication.
const headerLen = 2 + krypto.SaltLen + 4 + 4 + 1 + krypto.NonceLen

// ErrFormat is wrapped by every structural parse failure: truncated header,
// unsupported version, or inconsistent lengths.
var ErrFormat = errors.New("invalid container format")

// Container is the parsed on-disk representation of a vault.
type Container struct {
	Version uint16
	Salt    []byte
	Params  krypto.Params
	Nonce   []byte

	// Sealed is the AES-GCM output: ciphertext with the tag appended.
	Sealed []byte
}

// AAD returns the version, salt, and cost-parameter bytes exactly as they
// appear in the header. They are fed to the AEAD as associated data; the
// nonce is excluded since GCM already fails on a modified nonce.
func (c *Container) AAD() []byte {
	buf := make([]byte, 0, headerLen-krypto.NonceLen)
	buf = binary.BigEndian.AppendUint16(buf, c.Version)
	buf = append(buf, c.Salt...)
	buf = binary.BigEndian.AppendUint32(buf, c.Params.Time)
	buf = binary.BigEndian.AppendUint32(buf, c.Params.MemoryMiB*1024)
	buf = append(buf, c.Params.Parallelism)
	return buf
}

// Marshal serializes the container for writing to disk.
func (c *Container) Marshal() ([]byte, error) {
	if c.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, c.Version)
	}
	if len(c.Salt) != krypto.SaltLen {
		return nil, fmt.Errorf("%w: salt must be %d bytes", ErrFormat, krypto.SaltLen)
	}
	if len(c.Nonce) != krypto.NonceLen {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrFormat, krypto.NonceLen)
	}
	if len(c.Sealed) < krypto.TagLen {
		return nil, fmt.Errorf("%w: sealed payload shorter than the auth tag", ErrFormat)
	}

	ctLen := len(c.Sealed) - krypto.TagLen
	buf := make([]byte, 0, headerLen+4+len(c.Sealed))
	buf = append(buf, c.AAD()...)
	buf = append(buf, c.Nonce...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(ctLen))
	buf = append(buf, c.Sealed...)
	return buf, nil
}

// Unmarshal parses container bytes read from disk. Structural problems fail
// with an error wrapping ErrFormat; authenticity of the payload is only
// established later, when the sealed bytes are opened under the derived key.
func Unmarshal(data []byte) (*Container, error) {
	if len(data) < headerLen+4+krypto.TagLen {
		return nil, fmt.Errorf("%w: file too short (%d bytes)", ErrFormat, len(data))
	}

	c := &Container{}
	pos := 0

	c.Version = binary.BigEndian.Uint16(data[pos:])
	pos += 2
	if c.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, c.Version)
	}

	c.Salt = append([]byte(nil), data[pos:pos+krypto.SaltLen]...)
	pos += krypto.SaltLen

	c.Params.Time = binary.BigEndian.Uint32(data[pos:])
	pos += 4
	memoryKiB := binary.BigEndian.Uint32(data[pos:])
	pos += 4
	if memoryKiB == 0 || memoryKiB%1024 != 0 {
		return nil, fmt.Errorf("%w: invalid memory cost %d KiB", ErrFormat, memoryKiB)
	}
	c.Params.MemoryMiB = memoryKiB / 1024
	c.Params.Parallelism = data[pos]
	pos++

	c.Nonce = append([]byte(nil), data[pos:pos+krypto.NonceLen]...)
	pos += krypto.NonceLen

	ctLen := binary.BigEndian.Uint32(data[pos:])
	pos += 4
	want := pos + int(ctLen) + krypto.TagLen
	if want != len(data) {
		return nil, fmt.Errorf("%w: payload length mismatch (have %d bytes, want %d)", ErrFormat, len(data), want)
	}

	c.Sealed = append([]byte(nil), data[pos:]...)
	return c, nil
}
