// Package vault implements the encrypted secret store: a Locked/Unlocked
// session over a single container file, with Argon2id key derivation,
// AES-256-GCM authenticated encryption, and atomic persistence.
package vault

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/hmz-labs/lockbox/internal/container"
	"github.com/hmz-labs/lockbox/krypto"
	"github.com/hmz-labs/lockbox/record"
)

// Options tunes optional session behaviour. The zero value is valid.
type Options struct {
	// Logger receives lifecycle events (unlock, save, lock). Secrets and key
	// material are never logged. Nil disables logging.
	Logger *zerolog.Logger
}

func (o Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

// Session is an unlocked view of one vault container. A session owns the
// derived key material and the decrypted records; both are wiped on Lock.
// At most one session may hold a given container file at a time, enforced
// with an advisory file lock held for the life of the session.
//
// Methods are safe for concurrent use by a single process; cross-process
// exclusion is the file lock's job.
type Session struct {
	mu   sync.Mutex
	path string
	flk  *flock.Flock
	log  zerolog.Logger

	salt   []byte
	params krypto.Params
	key    []byte // expanded AEAD key; nil once locked

	records []record.Record
	index   map[string]int

	locked bool
}

// Init creates a new vault at path: it generates a salt, derives a key from
// the passphrase, writes a container holding an empty record set, and
// returns an unlocked session. It fails if a container already exists at
// path.
func Init(path, passphrase string, params krypto.Params, opts Options) (*Session, error) {
	const op = "init vault"

	if err := params.Validate(); err != nil {
		return nil, wrap(op, KindDerivation, err)
	}

	flk, err := acquire(op, path)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		flk.Unlock()
		return nil, wrap(op, KindIO, fmt.Errorf("container already exists at %s: %w", path, os.ErrExist))
	} else if !errors.Is(err, os.ErrNotExist) {
		flk.Unlock()
		return nil, wrap(op, KindIO, err)
	}

	salt, err := krypto.NewSalt()
	if err != nil {
		flk.Unlock()
		return nil, wrap(op, KindDerivation, err)
	}

	key, err := deriveSessionKey(op, passphrase, salt, params)
	if err != nil {
		flk.Unlock()
		return nil, err
	}

	s := &Session{
		path:   path,
		flk:    flk,
		log:    opts.logger().With().Str("vault", path).Logger(),
		salt:   salt,
		params: params,
		key:    key,
		index:  map[string]int{},
	}

	if err := s.persist(op); err != nil {
		s.discard()
		return nil, err
	}

	s.log.Info().Msg("vault initialised")
	return s, nil
}

// Open unlocks the vault at path: it reads the container header, re-derives
// the key from the stored salt and cost parameters, verifies and decrypts
// the payload, and returns an unlocked session exposing the records.
//
// A wrong passphrase and a tampered container both fail with
// ErrAuthentication; the two cases are indistinguishable by design.
func Open(path, passphrase string, opts Options) (*Session, error) {
	const op = "open vault"

	flk, err := acquire(op, path)
	if err != nil {
		return nil, err
	}

	data, err := container.ReadFile(path)
	if err != nil {
		flk.Unlock()
		return nil, wrap(op, KindIO, err)
	}

	c, err := container.Unmarshal(data)
	if err != nil {
		flk.Unlock()
		return nil, wrap(op, KindFormat, err)
	}

	key, err := deriveSessionKey(op, passphrase, c.Salt, c.Params)
	if err != nil {
		flk.Unlock()
		return nil, err
	}

	plaintext, err := krypto.Open(key, c.Nonce, c.Sealed, c.AAD())
	if err != nil {
		krypto.Zeroize(key)
		flk.Unlock()
		return nil, wrap(op, KindAuthentication, errors.New("wrong passphrase or corrupted container"))
	}

	records, err := record.Decode(plaintext)
	krypto.Zeroize(plaintext)
	if err != nil {
		krypto.Zeroize(key)
		flk.Unlock()
		return nil, wrap(op, KindCodec, err)
	}

	s := &Session{
		path:    path,
		flk:     flk,
		log:     opts.logger().With().Str("vault", path).Logger(),
		salt:    c.Salt,
		params:  c.Params,
		key:     key,
		records: records,
		index:   buildIndex(records),
	}

	s.log.Info().Int("records", len(records)).Msg("vault unlocked")
	return s, nil
}

// Add inserts a new record. The stored copy is independent of the argument.
// CreatedAt and UpdatedAt are stamped if unset. Fails with
// ErrDuplicateIdentifier if the identifier is already present; the vault is
// left unchanged on any failure.
func (s *Session) Add(r record.Record) error {
	const op = "add record"

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ErrSessionLocked
	}

	if r.ID == "" {
		return wrap(op, KindCodec, errors.New("identifier must not be empty"))
	}
	if _, exists := s.index[r.ID]; exists {
		return wrap(op, KindDuplicateIdentifier, fmt.Errorf("identifier %q already present", r.ID))
	}

	r = r.Clone()
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}

	s.index[r.ID] = len(s.records)
	s.records = append(s.records, r)
	s.log.Debug().Str("id", r.ID).Msg("record added")
	return nil
}

// Update applies changes to the record with the given identifier and bumps
// its UpdatedAt. Fails with ErrNotFound if the identifier is absent.
func (s *Session) Update(id string, changes record.Update) error {
	const op = "update record"

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ErrSessionLocked
	}

	i, ok := s.index[id]
	if !ok {
		return wrap(op, KindNotFound, fmt.Errorf("no record with identifier %q", id))
	}

	changes.Apply(&s.records[i])
	s.records[i].UpdatedAt = time.Now().UTC()
	s.log.Debug().Str("id", id).Msg("record updated")
	return nil
}

// Delete removes the record with the given identifier, wiping its secret.
// Fails with ErrNotFound if the identifier is absent.
func (s *Session) Delete(id string) error {
	const op = "delete record"

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ErrSessionLocked
	}

	i, ok := s.index[id]
	if !ok {
		return wrap(op, KindNotFound, fmt.Errorf("no record with identifier %q", id))
	}

	s.records[i].Wipe()
	s.records = append(s.records[:i], s.records[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.records); j++ {
		s.index[s.records[j].ID] = j
	}

	s.log.Debug().Str("id", id).Msg("record deleted")
	return nil
}

// Get returns a copy of the record with the given identifier.
func (s *Session) Get(id string) (record.Record, error) {
	const op = "get record"

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return record.Record{}, ErrSessionLocked
	}

	i, ok := s.index[id]
	if !ok {
		return record.Record{}, wrap(op, KindNotFound, fmt.Errorf("no record with identifier %q", id))
	}
	return s.records[i].Clone(), nil
}

// List returns a snapshot of all records in insertion order. The snapshot
// is a deep copy: it does not reflect later mutations, and wiping it does
// not disturb the session.
func (s *Session) List() ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return nil, ErrSessionLocked
	}

	out := make([]record.Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out, nil
}

// Save re-encodes the records, re-encrypts them under a fresh nonce, and
// atomically replaces the container file. A failed save leaves the previous
// on-disk container untouched.
func (s *Session) Save() error {
	const op = "save vault"

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ErrSessionLocked
	}
	return s.persist(op)
}

// Rekey re-derives the vault key from a new passphrase with the given cost
// parameters and immediately persists the container under the new key. On
// failure the session and the on-disk container keep using the old key.
func (s *Session) Rekey(newPassphrase string, params krypto.Params) error {
	const op = "rekey vault"

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ErrSessionLocked
	}

	if err := params.Validate(); err != nil {
		return wrap(op, KindDerivation, err)
	}

	salt, err := krypto.NewSalt()
	if err != nil {
		return wrap(op, KindDerivation, err)
	}
	key, err := deriveSessionKey(op, newPassphrase, salt, params)
	if err != nil {
		return err
	}

	oldSalt, oldParams, oldKey := s.salt, s.params, s.key
	s.salt, s.params, s.key = salt, params, key

	if err := s.persist(op); err != nil {
		s.salt, s.params, s.key = oldSalt, oldParams, oldKey
		krypto.Zeroize(key)
		return err
	}

	krypto.Zeroize(oldKey)
	s.log.Info().Msg("vault rekeyed")
	return nil
}

// Lock discards the derived key and the in-memory records, wiping both, and
// releases the container's file lock. Unsaved mutations are lost. Calling
// Lock on an already locked session is a no-op.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return
	}
	s.discard()
	s.log.Info().Msg("vault locked")
}

// Path returns the container file location this session is bound to.
func (s *Session) Path() string { return s.path }

// persist encodes, seals, and atomically writes the container. Caller holds
// s.mu.
func (s *Session) persist(op string) error {
	plaintext, err := record.Encode(s.records)
	if err != nil {
		return wrap(op, KindCodec, err)
	}
	defer krypto.Zeroize(plaintext)

	c := &container.Container{
		Version: container.Version,
		Salt:    s.salt,
		Params:  s.params,
	}

	nonce, sealed, err := krypto.Seal(s.key, plaintext, c.AAD())
	if err != nil {
		return wrap(op, KindIO, err)
	}
	c.Nonce = nonce
	c.Sealed = sealed

	data, err := c.Marshal()
	if err != nil {
		return wrap(op, KindFormat, err)
	}

	if err := container.WriteFileAtomic(s.path, data); err != nil {
		return wrap(op, KindIO, err)
	}

	s.log.Debug().Int("records", len(s.records)).Int("bytes", len(data)).Msg("vault saved")
	return nil
}

// discard wipes key material and records and releases the file lock.
// Caller holds s.mu.
func (s *Session) discard() {
	krypto.Zeroize(s.key)
	s.key = nil
	for i := range s.records {
		s.records[i].Wipe()
	}
	s.records = nil
	s.index = nil
	s.locked = true
	if s.flk != nil {
		s.flk.Unlock()
	}
}

// acquire takes the advisory lock guarding the container. A container
// already held by another session fails with ErrConcurrentAccess rather
// than silently interleaving writes.
func acquire(op, path string) (*flock.Flock, error) {
	flk := flock.New(path + ".lock")
	ok, err := flk.TryLock()
	if err != nil {
		return nil, wrap(op, KindIO, fmt.Errorf("acquire vault lock: %w", err))
	}
	if !ok {
		return nil, wrap(op, KindConcurrentAccess, fmt.Errorf("container %s is held by another session", path))
	}
	return flk, nil
}

// deriveSessionKey runs the passphrase through Argon2id and expands the
// result into the container AEAD key. The intermediate master key and the
// passphrase copy are wiped before returning.
func deriveSessionKey(op, passphrase string, salt []byte, params krypto.Params) ([]byte, error) {
	pw := []byte(passphrase)
	defer krypto.Zeroize(pw)

	master, err := krypto.DeriveKey(pw, salt, params)
	if err != nil {
		return nil, wrap(op, KindDerivation, err)
	}
	defer krypto.Zeroize(master)

	key, err := krypto.ExpandKey(master)
	if err != nil {
		return nil, wrap(op, KindDerivation, err)
	}
	return key, nil
}

func buildIndex(records []record.Record) map[string]int {
	idx := make(map[string]int, len(records))
	for i, r := range records {
		idx[r.ID] = i
	}
	return idx
}
