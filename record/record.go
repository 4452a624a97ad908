// Package record defines the credential record model and its binary codec.
// The encoded form is what the vault store encrypts; it carries no secrets
// in the clear on disk.
package record

import (
	"maps"
	"slices"
	"time"
)

// Record is a single secret entry in a vault.
type Record struct {
	// ID uniquely identifies the record within its vault. Non-empty.
	ID string

	// Username is the account name associated with the secret. May be empty.
	Username string

	// Secret is the protected payload (password, key, note). Opaque bytes.
	Secret []byte

	CreatedAt time.Time
	UpdatedAt time.Time

	// Metadata holds optional free-form key/value annotations.
	Metadata map[string]string
}

// Clone returns a deep copy of the record. The copy shares no memory with
// the original, so zeroizing one does not affect the other.
func (r Record) Clone() Record {
	c := r
	c.Secret = slices.Clone(r.Secret)
	if r.Metadata != nil {
		c.Metadata = maps.Clone(r.Metadata)
	}
	return c
}

// Equal reports whether two records carry the same data. Timestamps are
// compared with time.Time.Equal so location differences do not matter.
func (r Record) Equal(o Record) bool {
	return r.ID == o.ID &&
		r.Username == o.Username &&
		slices.Equal(r.Secret, o.Secret) &&
		r.CreatedAt.Equal(o.CreatedAt) &&
		r.UpdatedAt.Equal(o.UpdatedAt) &&
		maps.Equal(r.Metadata, o.Metadata)
}

// Wipe zeroizes the record's secret in place.
func (r *Record) Wipe() {
	for i := range r.Secret {
		r.Secret[i] = 0
	}
}
