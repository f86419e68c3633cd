package vault

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/models"
	"github.com/dmitrijs2005/vaultguard/internal/secretx"
	"github.com/dmitrijs2005/vaultguard/internal/store"
	"github.com/dmitrijs2005/vaultguard/internal/store/inmemory"
	"github.com/dmitrijs2005/vaultguard/internal/tags"
)

type fakeBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[key]
	if !ok {
		return nil, common.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, key)
	return nil
}

func (f *fakeBlobStore) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []string
	for k := range f.blobs {
		result = append(result, k)
	}
	return result
}

func newTestService(t *testing.T) (*Service, *inmemory.Store, *tags.InMemory) {
	t.Helper()
	st := inmemory.New()
	ts := tags.NewInMemory()
	return New(st, ts), st, ts
}

func mustWrap(t *testing.T, details TypedDetails) Payload {
	t.Helper()
	p, err := Wrap(details)
	require.NoError(t, err)
	return p
}

func TestEnroll_SeedsDefaultCategories(t *testing.T) {
	ctx := context.Background()
	svc, _, ts := newTestService(t)

	err := svc.Enroll(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)

	categories, err := ts.List(ctx, "user1")
	require.NoError(t, err)
	assert.Contains(t, categories, "Login/Credentials")
	assert.Contains(t, categories, "Credit Card")
	assert.Contains(t, categories, "Two-Factor")
}

func TestEnroll_SecondTimeFails(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	require.NoError(t, svc.Enroll(ctx, "user1", []byte("first-passphrase")))

	err := svc.Enroll(ctx, "user1", []byte("second-passphrase"))
	require.ErrorIs(t, err, common.ErrAlreadyEnrolled)

	// the original enrollment must be untouched
	sess, err := svc.Unlock(ctx, "user1", []byte("first-passphrase"))
	require.NoError(t, err)
	sess.Lock()

	_, err = svc.Unlock(ctx, "user1", []byte("second-passphrase"))
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestEnroll_EmptyUserID(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Enroll(context.Background(), "", []byte("p"))
	require.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))

	ok, err := svc.Verify(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Verify(ctx, "user1", []byte("wrong"))
	require.NoError(t, err)
	assert.False(t, ok)

	// a user with no vault verifies false, not an error
	ok, err = svc.Verify(ctx, "nobody", []byte("anything"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnlock_InvalidCredentials(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))

	_, err := svc.Unlock(ctx, "user1", []byte("wrong"))
	require.ErrorIs(t, err, common.ErrInvalidCredentials)

	// missing vault is indistinguishable from a wrong passphrase
	_, err = svc.Unlock(ctx, "nobody", []byte("anything"))
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestEntryRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))

	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	defer sess.Lock()

	view, err := svc.CreateEntry(ctx, sess, EntryEnvelope{
		Title: "GitHub",
		URL:   "https://github.com",
		Tags:  []string{"work"},
	}, mustWrap(t, Login{Username: "octocat", Password: "hunter2"}))
	require.NoError(t, err)
	require.NotEmpty(t, view.Entry.ID)

	stored, err := svc.GetEntry(ctx, view.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "GitHub", stored.Title)
	assert.NotContains(t, stored.Ciphertext, "hunter2")

	payload, err := svc.DecryptEntry(sess, stored)
	require.NoError(t, err)
	details, err := payload.Unwrap()
	require.NoError(t, err)
	login, ok := details.(Login)
	require.True(t, ok)
	assert.Equal(t, "octocat", login.Username)
	assert.Equal(t, "hunter2", login.Password)
}

func TestSessionLock(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))

	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	sess.Lock()

	_, _, err = sess.EncryptPayload(mustWrap(t, Note{Text: "x"}))
	require.ErrorIs(t, err, common.ErrSessionLocked)

	_, err = sess.DecryptPayload([]byte("ct"), []byte("nonce"))
	require.ErrorIs(t, err, common.ErrSessionLocked)
}

func TestUpdateEntry_EnvelopeOnlyKeepsCiphertext(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))
	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	defer sess.Lock()

	view, err := svc.CreateEntry(ctx, sess, EntryEnvelope{Title: "old"},
		mustWrap(t, Note{Text: "secret"}))
	require.NoError(t, err)

	updated, err := svc.UpdateEntry(ctx, sess, view.Entry.ID,
		&EntryEnvelope{Title: "new", Favorite: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Title)
	assert.True(t, updated.Favorite)
	assert.Equal(t, view.Entry.Ciphertext, updated.Ciphertext)
	assert.Equal(t, view.Entry.Nonce, updated.Nonce)
}

func TestUpdateEntry_PayloadReencryptsWithFreshNonce(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))
	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	defer sess.Lock()

	view, err := svc.CreateEntry(ctx, sess, EntryEnvelope{Title: "t"},
		mustWrap(t, Note{Text: "one"}))
	require.NoError(t, err)

	newPayload := mustWrap(t, Note{Text: "two"})
	updated, err := svc.UpdateEntry(ctx, sess, view.Entry.ID, nil, &newPayload)
	require.NoError(t, err)
	assert.NotEqual(t, view.Entry.Nonce, updated.Nonce)

	payload, err := svc.DecryptEntry(sess, updated)
	require.NoError(t, err)
	details, err := payload.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, Note{Text: "two"}, details)
}

func TestDeleteEntry_Strict(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))
	require.NoError(t, svc.Enroll(ctx, "user2", []byte("other-passphrase-xyz")))

	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	defer sess.Lock()

	view, err := svc.CreateEntry(ctx, sess, EntryEnvelope{Title: "t"},
		mustWrap(t, Note{Text: "x"}))
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteEntry(ctx, "user1", "no-such-id"), common.ErrNotFound)

	// another user cannot delete it either
	require.ErrorIs(t, svc.DeleteEntry(ctx, "user2", view.Entry.ID), common.ErrNotFound)

	require.NoError(t, svc.DeleteEntry(ctx, "user1", view.Entry.ID))
	require.ErrorIs(t, svc.DeleteEntry(ctx, "user1", view.Entry.ID), common.ErrNotFound)
}

func TestDeleteEntriesByTag(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))
	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	defer sess.Lock()

	for i := 0; i < 3; i++ {
		_, err := svc.CreateEntry(ctx, sess, EntryEnvelope{Title: "tagged", Tags: []string{"obsolete"}},
			mustWrap(t, Note{Text: "x"}))
		require.NoError(t, err)
	}
	keep, err := svc.CreateEntry(ctx, sess, EntryEnvelope{Title: "kept", Tags: []string{"active"}},
		mustWrap(t, Note{Text: "y"}))
	require.NoError(t, err)

	n, err := svc.DeleteEntriesByTag(ctx, "user1", "obsolete")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	remaining, err := svc.ListEntries(ctx, "user1", EntryFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, keep.Entry.ID, remaining[0].ID)

	// deleting by a tag nothing carries removes nothing
	n, err = svc.DeleteEntriesByTag(ctx, "user1", "obsolete")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = svc.DeleteEntriesByTag(ctx, "user1", "")
	require.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestListEntries_Filter(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))
	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	defer sess.Lock()

	soon := time.Now().UTC().Add(24 * time.Hour)
	later := time.Now().UTC().Add(30 * 24 * time.Hour)

	fav, err := svc.CreateEntry(ctx, sess, EntryEnvelope{Title: "fav", Favorite: true, Tags: []string{"work"}},
		mustWrap(t, Note{Text: "a"}))
	require.NoError(t, err)
	expiring, err := svc.CreateEntry(ctx, sess, EntryEnvelope{Title: "expiring", ExpiresAt: &soon},
		mustWrap(t, Note{Text: "b"}))
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, sess, EntryEnvelope{Title: "later", ExpiresAt: &later},
		mustWrap(t, Note{Text: "c"}))
	require.NoError(t, err)

	got, err := svc.ListEntries(ctx, "user1", EntryFilter{FavoritesOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fav.Entry.ID, got[0].ID)

	got, err = svc.ListEntries(ctx, "user1", EntryFilter{Tag: "work"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	cutoff := time.Now().UTC().Add(7 * 24 * time.Hour)
	got, err = svc.ListEntries(ctx, "user1", EntryFilter{ExpiringBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, expiring.Entry.ID, got[0].ID)
}

func TestRotate_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))

	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)

	view, err := svc.CreateEntry(ctx, sess, EntryEnvelope{Title: "bank"},
		mustWrap(t, BankAccount{BankName: "First National", AccountNumber: "1234567890"}))
	require.NoError(t, err)
	sess.Lock()

	err = svc.Rotate(ctx, "user1", []byte("correct-horse-battery"), []byte("new-passphrase-99"))
	require.NoError(t, err)

	// the old passphrase is dead
	_, err = svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.ErrorIs(t, err, common.ErrInvalidCredentials)

	// the new one opens the same plaintext
	sess2, err := svc.Unlock(ctx, "user1", []byte("new-passphrase-99"))
	require.NoError(t, err)
	defer sess2.Lock()

	stored, err := svc.GetEntry(ctx, view.Entry.ID)
	require.NoError(t, err)
	assert.NotEqual(t, view.Entry.Ciphertext, stored.Ciphertext)
	assert.NotEqual(t, view.Entry.Nonce, stored.Nonce)

	payload, err := svc.DecryptEntry(sess2, stored)
	require.NoError(t, err)
	details, err := payload.Unwrap()
	require.NoError(t, err)
	account, ok := details.(BankAccount)
	require.True(t, ok)
	assert.Equal(t, "1234567890", account.AccountNumber)

	rec, err := st.GetRegistry(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Generation)
}

func TestRotate_WrongOldPassphrase(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))

	err := svc.Rotate(ctx, "user1", []byte("wrong"), []byte("new-passphrase-99"))
	require.ErrorIs(t, err, common.ErrInvalidCredentials)

	err = svc.Rotate(ctx, "nobody", []byte("x"), []byte("new-passphrase-99"))
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestRotate_EmptyNewPassphrase(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Rotate(context.Background(), "user1", []byte("old"), nil)
	require.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestRotate_UndecryptableEntryAbortsWithoutChanges(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))
	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)

	good, err := svc.CreateEntry(ctx, sess, EntryEnvelope{Title: "good"},
		mustWrap(t, Note{Text: "intact"}))
	require.NoError(t, err)
	bad, err := svc.CreateEntry(ctx, sess, EntryEnvelope{Title: "bad"},
		mustWrap(t, Note{Text: "doomed"}))
	require.NoError(t, err)
	sess.Lock()

	// corrupt one record's ciphertext in place
	corrupted, err := st.GetEntry(ctx, bad.Entry.ID)
	require.NoError(t, err)
	corrupted.Ciphertext = secretx.EncodeForStorage([]byte("garbage-ciphertext"))
	require.NoError(t, st.PutEntry(ctx, corrupted))

	err = svc.Rotate(ctx, "user1", []byte("correct-horse-battery"), []byte("new-passphrase-99"))
	require.ErrorIs(t, err, common.ErrRotationFailed)

	// the vault is unchanged: old passphrase still works and the intact
	// record still decrypts
	sess2, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	defer sess2.Lock()

	stored, err := svc.GetEntry(ctx, good.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, good.Entry.Ciphertext, stored.Ciphertext)

	payload, err := svc.DecryptEntry(sess2, stored)
	require.NoError(t, err)
	details, err := payload.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, Note{Text: "intact"}, details)

	rec, err := st.GetRegistry(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Generation)
}

func TestRotate_StaleSessionFailsToDecrypt(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))
	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	defer sess.Lock()

	view, err := svc.CreateEntry(ctx, sess, EntryEnvelope{Title: "t"},
		mustWrap(t, Note{Text: "x"}))
	require.NoError(t, err)

	require.NoError(t, svc.Rotate(ctx, "user1", []byte("correct-horse-battery"), []byte("new-passphrase-99")))

	// the session still holds the pre-rotation key
	stored, err := svc.GetEntry(ctx, view.Entry.ID)
	require.NoError(t, err)
	_, err = svc.DecryptEntry(sess, stored)
	require.ErrorIs(t, err, common.ErrDecryptionFailed)
}

func TestWipeRecords_ZeroesBufferedPlaintext(t *testing.T) {
	records := []decryptedRecord{
		{plaintext: []byte("alpha-secret")},
		{plaintext: []byte("beta-secret")},
		{plaintext: nil},
	}
	wipeRecords(records)
	for _, r := range records {
		for _, b := range r.plaintext {
			assert.Zero(t, b)
		}
	}
	// a second pass over already-wiped records must be safe
	wipeRecords(records)
}

// noCommitStore hides the inner store's atomic-commit capability, forcing
// the sequential records-then-registry path.
type noCommitStore struct {
	store.Store
}

func TestRotate_SequentialCommitFallback(t *testing.T) {
	ctx := context.Background()
	inner := inmemory.New()
	svc := New(noCommitStore{inner}, tags.NewInMemory())

	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))
	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, sess, EntryEnvelope{Title: "t"},
		mustWrap(t, Note{Text: "x"}))
	require.NoError(t, err)
	sess.Lock()

	require.NoError(t, svc.Rotate(ctx, "user1", []byte("correct-horse-battery"), []byte("new-passphrase-99")))

	sess2, err := svc.Unlock(ctx, "user1", []byte("new-passphrase-99"))
	require.NoError(t, err)
	sess2.Lock()

	rec, err := inner.GetRegistry(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Generation)
}

func TestDocument_InlineRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))
	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	defer sess.Lock()

	view, err := svc.CreateDocument(ctx, sess, DocumentEnvelope{
		Title:        "Passport",
		Provider:     "Gov",
		DocumentType: "passport",
	}, mustWrap(t, Identity{FullName: "Jane Roe", DocumentNumber: "X123"}))
	require.NoError(t, err)
	assert.Empty(t, view.Document.StorageKey)
	assert.NotEmpty(t, view.Document.Ciphertext)

	stored, err := svc.GetDocument(ctx, view.Document.ID)
	require.NoError(t, err)
	payload, err := svc.DecryptDocument(ctx, sess, stored)
	require.NoError(t, err)
	details, err := payload.Unwrap()
	require.NoError(t, err)
	id, ok := details.(Identity)
	require.True(t, ok)
	assert.Equal(t, "Jane Roe", id.FullName)
}

func TestDocument_LargeBodyStagedInBlobStore(t *testing.T) {
	ctx := context.Background()
	st := inmemory.New()
	blobs := newFakeBlobStore()
	svc := New(st, tags.NewInMemory(), WithBlobStore(blobs))

	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))
	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	defer sess.Lock()

	big := strings.Repeat("scanned-page ", 8*1024) // well past the inline threshold
	view, err := svc.CreateDocument(ctx, sess, DocumentEnvelope{Title: "Scan"},
		mustWrap(t, Note{Text: big}))
	require.NoError(t, err)
	assert.NotEmpty(t, view.Document.StorageKey)
	assert.Empty(t, view.Document.Ciphertext)
	assert.Len(t, blobs.keys(), 1)

	stored, err := svc.GetDocument(ctx, view.Document.ID)
	require.NoError(t, err)
	payload, err := svc.DecryptDocument(ctx, sess, stored)
	require.NoError(t, err)
	details, err := payload.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, Note{Text: big}, details)

	// deleting the record drops the staged blob too
	require.NoError(t, svc.DeleteDocument(ctx, "user1", view.Document.ID))
	assert.Empty(t, blobs.keys())
}

func TestRotate_RestagesBlobDocuments(t *testing.T) {
	ctx := context.Background()
	st := inmemory.New()
	blobs := newFakeBlobStore()
	svc := New(st, tags.NewInMemory(), WithBlobStore(blobs))

	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))
	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)

	big := strings.Repeat("archived ", 8*1024)
	view, err := svc.CreateDocument(ctx, sess, DocumentEnvelope{Title: "Scan"},
		mustWrap(t, Note{Text: big}))
	require.NoError(t, err)
	oldKey := view.Document.StorageKey
	sess.Lock()

	require.NoError(t, svc.Rotate(ctx, "user1", []byte("correct-horse-battery"), []byte("new-passphrase-99")))

	stored, err := svc.GetDocument(ctx, view.Document.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldKey, stored.StorageKey)

	// the pre-rotation blob is gone, exactly one staged body remains
	keys := blobs.keys()
	require.Len(t, keys, 1)
	assert.Equal(t, stored.StorageKey, keys[0])

	sess2, err := svc.Unlock(ctx, "user1", []byte("new-passphrase-99"))
	require.NoError(t, err)
	defer sess2.Lock()

	payload, err := svc.DecryptDocument(ctx, sess2, stored)
	require.NoError(t, err)
	details, err := payload.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, Note{Text: big}, details)
}

// putDocFailStore fails the next n PutDocument calls with a transient error.
type putDocFailStore struct {
	store.Store
	fail int
}

func (s *putDocFailStore) PutDocument(ctx context.Context, doc *models.Document) error {
	if s.fail > 0 {
		s.fail--
		return common.ErrStoreUnavailable
	}
	return s.Store.PutDocument(ctx, doc)
}

func TestUpdateDocument_FailedWriteKeepsPreviousBody(t *testing.T) {
	ctx := context.Background()
	flaky := &putDocFailStore{Store: inmemory.New()}
	blobs := newFakeBlobStore()
	svc := New(flaky, tags.NewInMemory(), WithBlobStore(blobs))

	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))
	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	defer sess.Lock()

	oldBody := strings.Repeat("page-one ", 8*1024)
	view, err := svc.CreateDocument(ctx, sess, DocumentEnvelope{Title: "Scan"},
		mustWrap(t, Note{Text: oldBody}))
	require.NoError(t, err)
	oldKey := view.Document.StorageKey
	require.NotEmpty(t, oldKey)

	newPayload := mustWrap(t, Note{Text: strings.Repeat("page-two ", 8*1024)})
	flaky.fail = 1
	_, err = svc.UpdateDocument(ctx, sess, view.Document.ID, nil, &newPayload)
	require.ErrorIs(t, err, common.ErrStoreUnavailable)

	// the stored record still opens to the pre-update body
	stored, err := svc.GetDocument(ctx, view.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, oldKey, stored.StorageKey)
	payload, err := svc.DecryptDocument(ctx, sess, stored)
	require.NoError(t, err)
	details, err := payload.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, Note{Text: oldBody}, details)

	// the aborted write left no extra blob behind
	assert.Equal(t, []string{oldKey}, blobs.keys())

	// a retry commits the new body and retires the old blob
	updated, err := svc.UpdateDocument(ctx, sess, view.Document.ID, nil, &newPayload)
	require.NoError(t, err)
	assert.NotEqual(t, oldKey, updated.StorageKey)
	keys := blobs.keys()
	require.Len(t, keys, 1)
	assert.Equal(t, updated.StorageKey, keys[0])
}

func TestUpdateDocument_FailedWriteKeepsBlobWhenBodyShrinks(t *testing.T) {
	ctx := context.Background()
	flaky := &putDocFailStore{Store: inmemory.New()}
	blobs := newFakeBlobStore()
	svc := New(flaky, tags.NewInMemory(), WithBlobStore(blobs))

	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))
	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	defer sess.Lock()

	oldBody := strings.Repeat("page-one ", 8*1024)
	view, err := svc.CreateDocument(ctx, sess, DocumentEnvelope{Title: "Scan"},
		mustWrap(t, Note{Text: oldBody}))
	require.NoError(t, err)
	oldKey := view.Document.StorageKey

	// shrinking the body moves it inline; the blob must survive the failure
	small := mustWrap(t, Note{Text: "tiny"})
	flaky.fail = 1
	_, err = svc.UpdateDocument(ctx, sess, view.Document.ID, nil, &small)
	require.ErrorIs(t, err, common.ErrStoreUnavailable)

	stored, err := svc.GetDocument(ctx, view.Document.ID)
	require.NoError(t, err)
	payload, err := svc.DecryptDocument(ctx, sess, stored)
	require.NoError(t, err)
	details, err := payload.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, Note{Text: oldBody}, details)
	assert.Equal(t, []string{oldKey}, blobs.keys())

	updated, err := svc.UpdateDocument(ctx, sess, view.Document.ID, nil, &small)
	require.NoError(t, err)
	assert.Empty(t, updated.StorageKey)
	assert.Empty(t, blobs.keys())
}

func TestUpdateDocument_EnvelopeOnly(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))
	sess, err := svc.Unlock(ctx, "user1", []byte("correct-horse-battery"))
	require.NoError(t, err)
	defer sess.Lock()

	view, err := svc.CreateDocument(ctx, sess, DocumentEnvelope{Title: "old", Provider: "A"},
		mustWrap(t, Note{Text: "body"}))
	require.NoError(t, err)

	updated, err := svc.UpdateDocument(ctx, sess, view.Document.ID,
		&DocumentEnvelope{Title: "new", Provider: "B"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Title)
	assert.Equal(t, view.Document.Ciphertext, updated.Ciphertext)
	assert.Equal(t, view.Document.Nonce, updated.Nonce)
}

func TestDeleteDocument_Strict(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Enroll(ctx, "user1", []byte("correct-horse-battery")))

	err := svc.DeleteDocument(ctx, "user1", "no-such-id")
	require.ErrorIs(t, err, common.ErrNotFound)
}
