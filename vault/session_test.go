package vault_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmz-labs/lockbox/krypto"
	"github.com/hmz-labs/lockbox/record"
	"github.com/hmz-labs/lockbox/vault"
)

// Low-cost parameters keep the Argon2id calls in tests fast.
func testParams() krypto.Params {
	return krypto.Params{Time: 1, MemoryMiB: 8, Parallelism: 1}
}

func testVaultPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "v.db")
}

func TestInitThenOpenYieldsEmptyVault(t *testing.T) {
	path := testVaultPath(t)

	s, err := vault.Init(path, "pw", testParams(), vault.Options{})
	require.NoError(t, err)
	s.Lock()

	s, err = vault.Open(path, "pw", vault.Options{})
	require.NoError(t, err)
	defer s.Lock()

	records, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestInitRefusesExistingContainer(t *testing.T) {
	path := testVaultPath(t)

	s, err := vault.Init(path, "pw", testParams(), vault.Options{})
	require.NoError(t, err)
	s.Lock()

	_, err = vault.Init(path, "other", testParams(), vault.Options{})
	require.ErrorIs(t, err, vault.ErrIO)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestInitRejectsWeakCostParams(t *testing.T) {
	_, err := vault.Init(testVaultPath(t), "pw", krypto.Params{Time: 1, MemoryMiB: 1, Parallelism: 1}, vault.Options{})
	require.ErrorIs(t, err, vault.ErrDerivation)

	// An absurd memory cost must fail derivation up front rather than
	// overflow into a container no passphrase can reopen.
	_, err = vault.Init(testVaultPath(t), "pw", krypto.Params{Time: 1, MemoryMiB: 1 << 22, Parallelism: 1}, vault.Options{})
	require.ErrorIs(t, err, vault.ErrDerivation)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := vault.Open(testVaultPath(t), "pw", vault.Options{})
	require.ErrorIs(t, err, vault.ErrIO)
}

func TestOpenWrongPassphrase(t *testing.T) {
	path := testVaultPath(t)

	s, err := vault.Init(path, "correct", testParams(), vault.Options{})
	require.NoError(t, err)
	s.Lock()

	_, err = vault.Open(path, "incorrect", vault.Options{})
	require.ErrorIs(t, err, vault.ErrAuthentication)
	assert.Equal(t, vault.KindAuthentication, vault.KindOf(err))
}

func TestOpenDetectsTamper(t *testing.T) {
	path := testVaultPath(t)

	s, err := vault.Init(path, "pw", testParams(), vault.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Add(record.Record{ID: "email", Username: "a@b.com", Secret: []byte("s3cr3t")}))
	require.NoError(t, s.Save())
	s.Lock()

	original, err := os.ReadFile(path)
	require.NoError(t, err)

	// Ciphertext starts after the fixed header and length prefix; flipping
	// any single byte from there through the trailing tag must fail
	// authentication.
	ctStart := 2 + 16 + 4 + 4 + 1 + 12 + 4
	for i := ctStart; i < len(original); i++ {
		corrupt := append([]byte(nil), original...)
		corrupt[i] ^= 0x01
		require.NoError(t, os.WriteFile(path, corrupt, 0o600))

		_, err := vault.Open(path, "pw", vault.Options{})
		require.ErrorIsf(t, err, vault.ErrAuthentication, "flipped byte %d was accepted", i)
	}
}

func TestOpenDetectsCostParamTamper(t *testing.T) {
	path := testVaultPath(t)

	s, err := vault.Init(path, "pw", testParams(), vault.Options{})
	require.NoError(t, err)
	s.Lock()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Bump the stored parallelism byte: the header is bound to the
	// ciphertext as associated data, so a downgrade attempt must not
	// silently derive under attacker-chosen costs.
	parOffset := 2 + 16 + 4 + 4
	data[parOffset]++
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = vault.Open(path, "pw", vault.Options{})
	require.ErrorIs(t, err, vault.ErrAuthentication)
}

func TestOpenRejectsGarbageFile(t *testing.T) {
	path := testVaultPath(t)
	require.NoError(t, os.WriteFile(path, []byte("not a vault"), 0o600))

	_, err := vault.Open(path, "pw", vault.Options{})
	require.ErrorIs(t, err, vault.ErrFormat)
}

func TestEndToEndScenario(t *testing.T) {
	path := testVaultPath(t)

	s, err := vault.Init(path, "pw", testParams(), vault.Options{})
	require.NoError(t, err)

	require.NoError(t, s.Add(record.Record{ID: "email", Username: "a@b.com", Secret: []byte("s3cr3t")}))
	require.NoError(t, s.Save())
	s.Lock()

	s, err = vault.Open(path, "pw", vault.Options{})
	require.NoError(t, err)
	defer s.Lock()

	records, err := s.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "email", records[0].ID)
	assert.Equal(t, "a@b.com", records[0].Username)
	assert.Equal(t, []byte("s3cr3t"), records[0].Secret)
	assert.False(t, records[0].CreatedAt.IsZero())
	assert.False(t, records[0].UpdatedAt.IsZero())
}

func TestAddDuplicateIdentifier(t *testing.T) {
	s, err := vault.Init(testVaultPath(t), "pw", testParams(), vault.Options{})
	require.NoError(t, err)
	defer s.Lock()

	require.NoError(t, s.Add(record.Record{ID: "email", Secret: []byte("one")}))
	err = s.Add(record.Record{ID: "email", Secret: []byte("two")})
	require.ErrorIs(t, err, vault.ErrDuplicateIdentifier)

	// The failed add must not have mutated anything.
	got, err := s.Get("email")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got.Secret)

	records, err := s.List()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestAddRejectsEmptyIdentifier(t *testing.T) {
	s, err := vault.Init(testVaultPath(t), "pw", testParams(), vault.Options{})
	require.NoError(t, err)
	defer s.Lock()

	require.ErrorIs(t, s.Add(record.Record{Secret: []byte("x")}), vault.ErrCodec)
}

func TestUpdateAndDelete(t *testing.T) {
	s, err := vault.Init(testVaultPath(t), "pw", testParams(), vault.Options{})
	require.NoError(t, err)
	defer s.Lock()

	require.NoError(t, s.Add(record.Record{ID: "email", Username: "old", Secret: []byte("old")}))

	user := "new@b.com"
	require.NoError(t, s.Update("email", record.Update{Username: &user, Secret: []byte("new")}))

	got, err := s.Get("email")
	require.NoError(t, err)
	assert.Equal(t, "new@b.com", got.Username)
	assert.Equal(t, []byte("new"), got.Secret)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt) || got.UpdatedAt.Equal(got.CreatedAt))

	require.ErrorIs(t, s.Update("absent", record.Update{}), vault.ErrNotFound)
	require.ErrorIs(t, s.Delete("absent"), vault.ErrNotFound)

	require.NoError(t, s.Delete("email"))
	_, err = s.Get("email")
	require.ErrorIs(t, err, vault.ErrNotFound)
}

func TestDeletePreservesOrder(t *testing.T) {
	s, err := vault.Init(testVaultPath(t), "pw", testParams(), vault.Options{})
	require.NoError(t, err)
	defer s.Lock()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Add(record.Record{ID: id, Secret: []byte(id)}))
	}
	require.NoError(t, s.Delete("b"))

	records, err := s.List()
	require.NoError(t, err)
	var ids []string
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a", "c", "d"}, ids)
}

func TestListReturnsSnapshot(t *testing.T) {
	s, err := vault.Init(testVaultPath(t), "pw", testParams(), vault.Options{})
	require.NoError(t, err)
	defer s.Lock()

	require.NoError(t, s.Add(record.Record{ID: "email", Secret: []byte("secret")}))

	snapshot, err := s.List()
	require.NoError(t, err)

	// Mutations after the snapshot must not show up in it, and scribbling
	// on the snapshot must not reach the session.
	require.NoError(t, s.Add(record.Record{ID: "bank", Secret: []byte("pin")}))
	assert.Len(t, snapshot, 1)

	snapshot[0].Secret[0] = 'X'
	got, err := s.Get("email")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got.Secret)
}

func TestLockIsIdempotent(t *testing.T) {
	s, err := vault.Init(testVaultPath(t), "pw", testParams(), vault.Options{})
	require.NoError(t, err)

	s.Lock()
	s.Lock() // second call is a no-op

	_, err = s.List()
	require.ErrorIs(t, err, vault.ErrSessionLocked)
	require.ErrorIs(t, s.Add(record.Record{ID: "x"}), vault.ErrSessionLocked)
	require.ErrorIs(t, s.Save(), vault.ErrSessionLocked)
}

func TestConcurrentOpenRejected(t *testing.T) {
	path := testVaultPath(t)

	s, err := vault.Init(path, "pw", testParams(), vault.Options{})
	require.NoError(t, err)

	_, err = vault.Open(path, "pw", vault.Options{})
	require.ErrorIs(t, err, vault.ErrConcurrentAccess)

	s.Lock()

	s2, err := vault.Open(path, "pw", vault.Options{})
	require.NoError(t, err, "lock must be released by Lock()")
	s2.Lock()
}

func TestCrashMidSaveLeavesPreviousStateReadable(t *testing.T) {
	path := testVaultPath(t)

	s, err := vault.Init(path, "pw", testParams(), vault.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Add(record.Record{ID: "email", Secret: []byte("v1")}))
	require.NoError(t, s.Save())

	previous, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, s.Add(record.Record{ID: "bank", Secret: []byte("v2")}))
	require.NoError(t, s.Save())
	s.Lock()

	// A crash between the temp write and the rename leaves the previous
	// container bytes in place; they must still be a complete valid vault.
	require.NoError(t, os.WriteFile(path, previous, 0o600))

	s, err = vault.Open(path, "pw", vault.Options{})
	require.NoError(t, err)
	defer s.Lock()

	records, err := s.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "email", records[0].ID)
}

func TestSaveRotatesNonce(t *testing.T) {
	path := testVaultPath(t)

	s, err := vault.Init(path, "pw", testParams(), vault.Options{})
	require.NoError(t, err)
	defer s.Lock()

	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, s.Save())
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	nonceStart := 2 + 16 + 4 + 4 + 1
	assert.NotEqual(t, first[nonceStart:nonceStart+12], second[nonceStart:nonceStart+12])
}

func TestRekey(t *testing.T) {
	path := testVaultPath(t)

	s, err := vault.Init(path, "old-pw", testParams(), vault.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Add(record.Record{ID: "email", Secret: []byte("s3cr3t")}))
	require.NoError(t, s.Save())

	require.NoError(t, s.Rekey("new-pw", testParams()))
	s.Lock()

	_, err = vault.Open(path, "old-pw", vault.Options{})
	require.ErrorIs(t, err, vault.ErrAuthentication)

	s, err = vault.Open(path, "new-pw", vault.Options{})
	require.NoError(t, err)
	defer s.Lock()

	records, err := s.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("s3cr3t"), records[0].Secret)
}

func TestKindOf(t *testing.T) {
	_, err := vault.Open(testVaultPath(t), "pw", vault.Options{})
	assert.Equal(t, vault.KindIO, vault.KindOf(err))
	assert.Equal(t, vault.Kind(0), vault.KindOf(os.ErrNotExist))
}
