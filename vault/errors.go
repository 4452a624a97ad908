package vault

import (
	"errors"
	"fmt"
)

// Kind classifies a vault failure so front-ends can render a user-facing
// message without inspecting internals.
type Kind uint8

const (
	// KindDerivation indicates invalid key-derivation inputs or cost
	// parameters.
	KindDerivation Kind = iota + 1
	// KindCodec indicates a malformed record payload or record field.
	KindCodec
	// KindAuthentication indicates the container failed to decrypt. A wrong
	// passphrase and tampered data are deliberately indistinguishable.
	KindAuthentication
	// KindFormat indicates a structurally invalid or unsupported container.
	KindFormat
	// KindIO indicates a filesystem failure reading or writing the container.
	KindIO
	// KindDuplicateIdentifier indicates an add with an identifier already
	// present in the vault.
	KindDuplicateIdentifier
	// KindNotFound indicates an update or delete for an absent identifier.
	KindNotFound
	// KindConcurrentAccess indicates the container is held by another
	// unlocked session.
	KindConcurrentAccess
)

func (k Kind) String() string {
	switch k {
	case KindDerivation:
		return "derivation"
	case KindCodec:
		return "codec"
	case KindAuthentication:
		return "authentication"
	case KindFormat:
		return "format"
	case KindIO:
		return "io"
	case KindDuplicateIdentifier:
		return "duplicate identifier"
	case KindNotFound:
		return "not found"
	case KindConcurrentAccess:
		return "concurrent access"
	default:
		return "unknown"
	}
}

// Error is the structured error value returned by every vault operation.
// It carries a kind, the failing operation, and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the per-kind sentinels below, so callers can classify failures
// with errors.Is(err, vault.ErrAuthentication) and similar.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is matching, one per kind.
var (
	ErrDerivation          = &Error{Kind: KindDerivation}
	ErrCodec               = &Error{Kind: KindCodec}
	ErrAuthentication      = &Error{Kind: KindAuthentication}
	ErrFormat              = &Error{Kind: KindFormat}
	ErrIO                  = &Error{Kind: KindIO}
	ErrDuplicateIdentifier = &Error{Kind: KindDuplicateIdentifier}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrConcurrentAccess    = &Error{Kind: KindConcurrentAccess}
)

// ErrSessionLocked is returned when a record operation is invoked on a
// session that has already been locked. It is not part of the on-disk
// failure taxonomy: it signals caller misuse, not vault state.
var ErrSessionLocked = errors.New("vault: session is locked")

// KindOf extracts the failure kind from err, or zero if err is not a vault
// error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func wrap(op string, kind Kind, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}
