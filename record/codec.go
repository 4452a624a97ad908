package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
	"unicode/utf8"
)

// codecVersion is the version byte leading every encoded record set. It must
// be bumped for any change that breaks compatibility with the existing
// binary layout.
const codecVersion = 1

// ErrMalformed is wrapped by every decode failure, so callers can classify
// codec errors with errors.Is without matching message text.
var ErrMalformed = errors.New("malformed record data")

// Encode serializes a record sequence into the versioned binary layout:
//
//	[codec version: u8]
//	[record count: u32]
//	per record:
//	  [id][username][secret]                 length-prefixed (u32)
//	  [created sec: i64][created nsec: u32]
//	  [updated sec: i64][updated nsec: u32]
//	  [metadata count: u32] { [key][value] }  length-prefixed (u32)
//
// All integers are big-endian. Metadata pairs are written in sorted key
// order so encoding is deterministic. Decode(Encode(rs)) reproduces rs
// exactly, including record order.
func Encode(records []Record) ([]byte, error) {
	buf := []byte{codecVersion}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(records)))

	for i, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("record %d: %w: empty identifier", i, ErrMalformed)
		}
		buf = appendString(buf, r.ID)
		buf = appendString(buf, r.Username)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.Secret)))
		buf = append(buf, r.Secret...)
		buf = appendTime(buf, r.CreatedAt)
		buf = appendTime(buf, r.UpdatedAt)

		keys := slices.Sorted(maps.Keys(r.Metadata))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(keys)))
		for _, k := range keys {
			buf = appendString(buf, k)
			buf = appendString(buf, r.Metadata[k])
		}
	}
	return buf, nil
}

// Decode parses a record sequence previously produced by Encode. Any
// deviation from the layout, including trailing bytes, truncation, invalid
// UTF-8 in textual fields, or a duplicated identifier, fails with an error
// wrapping ErrMalformed. A corrupted ciphertext that decrypts to garbage is
// therefore rejected rather than silently misparsed.
func Decode(data []byte) ([]Record, error) {
	d := &decoder{buf: data}

	version, err := d.uint8()
	if err != nil {
		return nil, err
	}
	if version != codecVersion {
		return nil, fmt.Errorf("%w: unknown codec version %d", ErrMalformed, version)
	}

	count, err := d.uint32()
	if err != nil {
		return nil, err
	}
	// Each record occupies at least its fixed-width fields, which bounds a
	// plausible count by the remaining input.
	if int(count) > d.remaining()/minRecordSize {
		return nil, fmt.Errorf("%w: record count %d exceeds input size", ErrMalformed, count)
	}

	records := make([]Record, 0, count)
	seen := make(map[string]struct{}, count)
	for i := 0; i < int(count); i++ {
		r, err := d.record()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate identifier %q", ErrMalformed, r.ID)
		}
		seen[r.ID] = struct{}{}
		records = append(records, r)
	}

	if d.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, d.remaining())
	}
	return records, nil
}

// minRecordSize is the encoded size of a record with all variable fields
// empty: three u32 length prefixes, two timestamps, one metadata count.
const minRecordSize = 3*4 + 2*12 + 4

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendTime(buf []byte, t time.Time) []byte {
	buf = binary.BigEndian.AppendUint64(buf, uint64(t.Unix()))
	return binary.BigEndian.AppendUint32(buf, uint32(t.Nanosecond()))
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, fmt.Errorf("%w: truncated input", ErrMalformed)
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) uint8() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	b, err := d.take(int(n))
	if err != nil {
		return nil, err
	}
	return slices.Clone(b), nil
}

func (d *decoder) string(field string) (string, error) {
	b, err := d.bytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: invalid UTF-8 in %s", ErrMalformed, field)
	}
	return string(b), nil
}

func (d *decoder) time() (time.Time, error) {
	b, err := d.take(12)
	if err != nil {
		return time.Time{}, err
	}
	sec := int64(binary.BigEndian.Uint64(b[:8]))
	nsec := binary.BigEndian.Uint32(b[8:])
	if nsec > 999_999_999 {
		return time.Time{}, fmt.Errorf("%w: invalid timestamp nanoseconds", ErrMalformed)
	}
	return time.Unix(sec, int64(nsec)).UTC(), nil
}

func (d *decoder) record() (Record, error) {
	var r Record
	var err error

	if r.ID, err = d.string("identifier"); err != nil {
		return r, err
	}
	if r.ID == "" {
		return r, fmt.Errorf("%w: empty identifier", ErrMalformed)
	}
	if r.Username, err = d.string("username"); err != nil {
		return r, err
	}
	if r.Secret, err = d.bytes(); err != nil {
		return r, err
	}
	if len(r.Secret) == 0 {
		r.Secret = nil
	}
	if r.CreatedAt, err = d.time(); err != nil {
		return r, err
	}
	if r.UpdatedAt, err = d.time(); err != nil {
		return r, err
	}

	metaCount, err := d.uint32()
	if err != nil {
		return r, err
	}
	if metaCount == 0 {
		return r, nil
	}
	if int(metaCount) > d.remaining()/8 {
		return r, fmt.Errorf("%w: metadata count %d exceeds input size", ErrMalformed, metaCount)
	}
	r.Metadata = make(map[string]string, metaCount)
	for i := 0; i < int(metaCount); i++ {
		k, err := d.string("metadata key")
		if err != nil {
			return r, err
		}
		v, err := d.string("metadata value")
		if err != nil {
			return r, err
		}
		if _, dup := r.Metadata[k]; dup {
			return r, fmt.Errorf("%w: duplicate metadata key %q", ErrMalformed, k)
		}
		r.Metadata[k] = v
	}
	return r, nil
}
