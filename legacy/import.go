// Package legacy imports entries from the previous on-disk vault format:
// a SQLite database whose rows each hold an AES-GCM blob encrypted under a
// per-entry key derived from the master encryption key via HKDF-SHA256.
// The result feeds straight into a vault session for re-encryption into the
// single-file container format.
package legacy

import (
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/hmz-labs/lockbox/krypto"
	"github.com/hmz-labs/lockbox/record"
)

const (
	entrySaltLen = 16
	entryInfo    = "entry-key-v1"
)

// ErrBadEntry is wrapped when a row cannot be decrypted, typically because
// the supplied master key is wrong or the row is corrupt.
var ErrBadEntry = errors.New("cannot decrypt legacy entry")

// Import opens the legacy SQLite vault at dbPath read-only, decrypts every
// row with the 32-byte legacy master encryption key, and returns the
// entries as records ready for Session.Add.
//
// Record identifiers are formed as "website/username"; when two rows
// collide on that pair, a short random suffix keeps identifiers unique.
func Import(dbPath string, mek []byte) ([]record.Record, error) {
	if len(mek) != krypto.KeyLen {
		return nil, errors.New("legacy master key must be 32 bytes")
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open legacy database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping legacy database: %w", err)
	}

	rows, err := db.Query(`SELECT website, username, type, encrypted_pass, salt, created_at, updated_at
		FROM passwords ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query legacy entries: %w", err)
	}
	defer rows.Close()

	var (
		records []record.Record
		seen    = map[string]struct{}{}
	)
	for rows.Next() {
		var (
			website, username, typ  string
			blob, salt              []byte
			createdRaw, updatedRaw  sql.NullString
		)
		if err := rows.Scan(&website, &username, &typ, &blob, &salt, &createdRaw, &updatedRaw); err != nil {
			return nil, fmt.Errorf("scan legacy entry: %w", err)
		}

		secret, err := decryptEntry(mek, salt, blob)
		if err != nil {
			return nil, fmt.Errorf("entry %s/%s: %w", website, username, err)
		}

		id := website + "/" + username
		if _, dup := seen[id]; dup {
			id = id + "/" + uuid.NewString()[:8]
		}
		seen[id] = struct{}{}

		meta := map[string]string{"website": website}
		if typ != "" {
			meta["type"] = typ
		}

		records = append(records, record.Record{
			ID:        id,
			Username:  username,
			Secret:    secret,
			CreatedAt: parseLegacyTime(createdRaw),
			UpdatedAt: parseLegacyTime(updatedRaw),
			Metadata:  meta,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate legacy entries: %w", err)
	}

	return records, nil
}

// decryptEntry recovers one secret: the per-entry key is
// HKDF-SHA256(mek, salt, "entry-key-v1") and the blob is nonce|ciphertext.
func decryptEntry(mek, salt, blob []byte) ([]byte, error) {
	if len(salt) != entrySaltLen {
		return nil, fmt.Errorf("%w: invalid entry salt length", ErrBadEntry)
	}
	if len(blob) <= krypto.NonceLen {
		return nil, fmt.Errorf("%w: encrypted blob too short", ErrBadEntry)
	}

	perKey := make([]byte, krypto.KeyLen)
	r := hkdf.New(sha256.New, mek, salt, []byte(entryInfo))
	if _, err := io.ReadFull(r, perKey); err != nil {
		return nil, fmt.Errorf("derive entry key: %w", err)
	}
	defer krypto.Zeroize(perKey)

	nonce := blob[:krypto.NonceLen]
	ciphertext := blob[krypto.NonceLen:]

	secret, err := krypto.Open(perKey, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEntry, err)
	}
	return secret, nil
}

// parseLegacyTime handles the DATETIME text SQLite writes for
// CURRENT_TIMESTAMP defaults. Unparseable values come back zero and are
// stamped at Add time instead.
func parseLegacyTime(v sql.NullString) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, v.String); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
