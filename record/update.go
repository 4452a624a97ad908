package record

import (
	"maps"
	"slices"
)

// Update describes a partial change to an existing record. Nil fields are
// left untouched; an empty non-nil Metadata map clears all metadata.
type Update struct {
	Username *string
	Secret   []byte
	Metadata map[string]string
}

// Apply copies the set fields onto r. The previous secret is wiped before
// being replaced, and all applied values are independent copies of the
// update's fields.
func (u Update) Apply(r *Record) {
	if u.Username != nil {
		r.Username = *u.Username
	}
	if u.Secret != nil {
		r.Wipe()
		r.Secret = slices.Clone(u.Secret)
	}
	if u.Metadata != nil {
		if len(u.Metadata) == 0 {
			r.Metadata = nil
		} else {
			r.Metadata = maps.Clone(u.Metadata)
		}
	}
}
