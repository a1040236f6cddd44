package secret

import (
	"context"
	"testing"

	"github.com/org/passkeeper/internal/crypto"
	"github.com/org/passkeeper/internal/shared"
	"github.com/org/passkeeper/internal/storage"
	"github.com/org/passkeeper/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store  *storage.SQLiteStore
	svc    *EntryService
	owner1 int64
	owner2 int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := storage.NewSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cipher, err := crypto.NewCipher(key)
	require.NoError(t, err)

	f := &fixture{store: store, svc: NewEntryService(store, cipher)}
	for i, name := range []string{"first", "second"} {
		a := &models.Account{Username: name, Email: name + "@example.com", PasswordHash: "h", SaltFactor: 12}
		require.NoError(t, store.CreateAccount(ctx, a))
		if i == 0 {
			f.owner1 = a.ID
		} else {
			f.owner2 = a.ID
		}
	}
	return f
}

func sampleInput() EntryInput {
	return EntryInput{
		Title:    "GitHub",
		URL:      "https://github.com",
		Username: "octo",
		Password: "p@ss1",
		Notes:    "recovery codes in drawer",
	}
}

func strPtr(s string) *string { return &s }

func TestCreateAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.owner1, sampleInput())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultCategory, created.Category)
	require.NotNil(t, created.Password)
	assert.Equal(t, "p@ss1", *created.Password)
	assert.True(t, created.HasNotes)

	stored, err := f.store.GetEntry(ctx, f.owner1, created.ID)
	require.NoError(t, err)
	assert.True(t, stored.Secret.Complete())
	assert.NotContains(t, stored.Secret.Ciphertext, "p@ss1")
	assert.Nil(t, stored.LastAccessed)

	got, err := f.svc.Get(ctx, f.owner1, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "p@ss1", *got.Password)
	require.NotNil(t, got.Notes)
	assert.Equal(t, "recovery codes in drawer", *got.Notes)
	assert.NotNil(t, got.LastAccessed)

	stored, err = f.store.GetEntry(ctx, f.owner1, created.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastAccessed, "a full read records the access")
}

func TestOtherOwnerSeesNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.owner1, sampleInput())
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, f.owner2, created.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.Update(ctx, f.owner2, created.ID, EntryPatch{Title: strPtr("mine now")})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	assert.ErrorIs(t, f.svc.Delete(ctx, f.owner2, created.ID), shared.ErrNotFound)

	n, err := f.svc.BulkDelete(ctx, f.owner2, []int64{created.ID})
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := f.svc.List(ctx, f.owner2, ListOptions{Reveal: true})
	require.NoError(t, err)
	assert.Empty(t, list)

	got, err := f.svc.Get(ctx, f.owner1, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "GitHub", got.Title)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mutate := map[string]func(*EntryInput){
		"missing title":    func(in *EntryInput) { in.Title = "  " },
		"long title":       func(in *EntryInput) { in.Title = string(make([]byte, 101)) },
		"bad url":          func(in *EntryInput) { in.URL = "not a url" },
		"ftp url":          func(in *EntryInput) { in.URL = "ftp://files.example.com" },
		"missing username": func(in *EntryInput) { in.Username = "" },
		"missing password": func(in *EntryInput) { in.Password = "" },
		"long notes":       func(in *EntryInput) { in.Notes = string(make([]rune, 1001)) },
		"long category":    func(in *EntryInput) { in.Category = string(make([]rune, 51)) },
	}
	for name, m := range mutate {
		t.Run(name, func(t *testing.T) {
			in := sampleInput()
			m(&in)
			_, err := f.svc.Create(ctx, f.owner1, in)
			assert.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestListRevealFlagsUndecryptableEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var failures int
	f.svc.OnDecryptFailure = func() { failures++ }

	good, err := f.svc.Create(ctx, f.owner1, sampleInput())
	require.NoError(t, err)

	in := sampleInput()
	in.Title = "Broken"
	broken, err := f.svc.Create(ctx, f.owner1, in)
	require.NoError(t, err)

	// Corrupt the stored tag of one entry.
	tampered := models.Bundle{Ciphertext: "00", IV: "000000000000000000000000", AuthTag: "00000000000000000000000000000000"}
	_, err = f.store.UpdateEntry(ctx, f.owner1, broken.ID, storage.EntryUpdate{Secret: &tampered})
	require.NoError(t, err)

	plain, err := f.svc.List(ctx, f.owner1, ListOptions{})
	require.NoError(t, err)
	require.Len(t, plain, 2)
	for _, v := range plain {
		assert.Nil(t, v.Password, "metadata listing must not carry plaintext")
		assert.True(t, v.HasNotes)
	}

	revealed, err := f.svc.List(ctx, f.owner1, ListOptions{Reveal: true})
	require.NoError(t, err)
	require.Len(t, revealed, 2)
	byID := map[int64]*models.EntryView{}
	for _, v := range revealed {
		byID[v.ID] = v
	}
	assert.False(t, byID[good.ID].DecryptFailed)
	assert.Equal(t, "p@ss1", *byID[good.ID].Password)
	assert.True(t, byID[broken.ID].DecryptFailed)
	assert.Nil(t, byID[broken.ID].Password)
	assert.Nil(t, byID[broken.ID].Notes, "no partial plaintext for a failed entry")
	assert.Equal(t, 1, failures)

	_, err = f.svc.Get(ctx, f.owner1, broken.ID)
	assert.ErrorIs(t, err, shared.ErrDecryption)
	assert.Equal(t, "failed to decrypt entry", shared.MessageOf(err))
}

func TestUpdateReencryptsChangedFieldsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.owner1, sampleInput())
	require.NoError(t, err)
	before, err := f.store.GetEntry(ctx, f.owner1, created.ID)
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, f.owner1, created.ID, EntryPatch{Password: strPtr("n3w-secret")})
	require.NoError(t, err)
	after, err := f.store.GetEntry(ctx, f.owner1, created.ID)
	require.NoError(t, err)
	assert.NotEqual(t, before.Secret.IV, after.Secret.IV, "new password gets a fresh IV")
	assert.Equal(t, *before.Notes, *after.Notes, "untouched notes keep their ciphertext")

	got, err := f.svc.Get(ctx, f.owner1, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "n3w-secret", *got.Password)
	assert.Equal(t, "recovery codes in drawer", *got.Notes)

	view, err := f.svc.Update(ctx, f.owner1, created.ID, EntryPatch{Notes: strPtr("")})
	require.NoError(t, err)
	assert.False(t, view.HasNotes, "empty notes clears them")

	fav := true
	view, err = f.svc.Update(ctx, f.owner1, created.ID, EntryPatch{IsFavorite: &fav, Category: strPtr(" Work ")})
	require.NoError(t, err)
	assert.True(t, view.IsFavorite)
	assert.Equal(t, "Work", view.Category)

	_, err = f.svc.Update(ctx, f.owner1, created.ID, EntryPatch{URL: strPtr("nope")})
	assert.ErrorIs(t, err, shared.ErrValidation)

	view, err = f.svc.Update(ctx, f.owner1, created.ID, EntryPatch{})
	require.NoError(t, err)
	assert.Equal(t, "GitHub", view.Title)
}

func TestBulkDeleteAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []int64
	for _, c := range []string{"Work", "Work", "Personal"} {
		in := sampleInput()
		in.Category = c
		in.IsFavorite = c == "Personal"
		v, err := f.svc.Create(ctx, f.owner1, in)
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}
	_, err := f.svc.Get(ctx, f.owner1, ids[0])
	require.NoError(t, err)

	st, err := f.svc.Stats(ctx, f.owner1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Total)
	assert.Equal(t, int64(1), st.Favorites)
	assert.Equal(t, int64(2), st.Categories)
	assert.Equal(t, int64(3), st.CreatedToday)
	assert.Equal(t, int64(1), st.AccessedToday)

	cats, err := f.svc.Categories(ctx, f.owner2)
	require.NoError(t, err)
	assert.NotNil(t, cats)
	assert.Empty(t, cats)

	_, err = f.svc.BulkDelete(ctx, f.owner1, nil)
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.BulkDelete(ctx, f.owner1, []int64{ids[0], -1})
	assert.ErrorIs(t, err, shared.ErrValidation)

	n, err := f.svc.BulkDelete(ctx, f.owner1, []int64{ids[0], ids[1], ids[1], 424242})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := f.svc.List(ctx, f.owner1, ListOptions{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, ids[2], left[0].ID)
}
