package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/passkeeper/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist or is not
// visible to the caller.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when an insert or update violates a unique
// constraint.
var ErrAlreadyExists = errors.New("already exists")

// Store defines the persistence interface for passkeeper. Every entry
// method takes the owner id and filters on it inside the query.
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccountByID(ctx context.Context, id int64) (*models.Account, error)
	FindActiveAccount(ctx context.Context, identifier string) (*models.Account, error)
	AccountTaken(ctx context.Context, username, email string, excludeID int64) (usernameTaken, emailTaken bool, err error)
	UpdateAccountProfile(ctx context.Context, id int64, username, email string) (*models.Account, error)
	UpdateAccountPassword(ctx context.Context, id int64, hash string, saltFactor int) error
	TouchLastLogin(ctx context.Context, id int64) error
	DeactivateAccount(ctx context.Context, id int64) error

	// Entries
	CreateEntry(ctx context.Context, e *models.Entry) error
	GetEntry(ctx context.Context, ownerID, id int64) (*models.Entry, error)
	ListEntries(ctx context.Context, ownerID int64, filter EntryFilter) ([]*models.Entry, error)
	UpdateEntry(ctx context.Context, ownerID, id int64, upd EntryUpdate) (*models.Entry, error)
	TouchEntryAccess(ctx context.Context, ownerID, id int64) error
	DeleteEntries(ctx context.Context, ownerID int64, ids []int64) (int64, error)
	EntryStats(ctx context.Context, ownerID int64, since time.Time) (*models.EntryStats, error)
	ListCategories(ctx context.Context, ownerID int64) ([]models.CategoryCount, error)

	// Token deny-list
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	PurgeExpiredRevocations(ctx context.Context, now time.Time) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close()
}

// EntryFilter narrows an entry listing.
type EntryFilter struct {
	Category      string
	Search        string // matched against title, url and username
	FavoritesOnly bool
}

// EntryUpdate carries the columns to change. Nil fields are left alone;
// ClearNotes sets the notes triple to NULL and wins over Notes.
type EntryUpdate struct {
	Title      *string
	URL        *string
	Username   *string
	Secret     *models.Bundle
	Notes      *models.Bundle
	ClearNotes bool
	Category   *string
	IsFavorite *bool
}

// Empty reports whether the update would change nothing.
func (u EntryUpdate) Empty() bool {
	return u.Title == nil && u.URL == nil && u.Username == nil && u.Secret == nil &&
		u.Notes == nil && !u.ClearNotes && u.Category == nil && u.IsFavorite == nil
}

// assignment is one "column = value" pair of an UPDATE.
type assignment struct {
	column string
	value  any
}

// assignments flattens an EntryUpdate into column/value pairs in a fixed
// order. Each backend renders its own placeholders.
func (u EntryUpdate) assignments() []assignment {
	var out []assignment
	if u.Title != nil {
		out = append(out, assignment{"title", *u.Title})
	}
	if u.URL != nil {
		out = append(out, assignment{"url", *u.URL})
	}
	if u.Username != nil {
		out = append(out, assignment{"username", *u.Username})
	}
	if u.Secret != nil {
		out = append(out,
			assignment{"encrypted_secret", u.Secret.Ciphertext},
			assignment{"secret_iv", u.Secret.IV},
			assignment{"secret_auth_tag", u.Secret.AuthTag},
		)
	}
	switch {
	case u.ClearNotes:
		out = append(out,
			assignment{"encrypted_notes", nil},
			assignment{"notes_iv", nil},
			assignment{"notes_auth_tag", nil},
		)
	case u.Notes != nil:
		out = append(out,
			assignment{"encrypted_notes", u.Notes.Ciphertext},
			assignment{"notes_iv", u.Notes.IV},
			assignment{"notes_auth_tag", u.Notes.AuthTag},
		)
	}
	if u.Category != nil {
		out = append(out, assignment{"category", *u.Category})
	}
	if u.IsFavorite != nil {
		out = append(out, assignment{"is_favorite", *u.IsFavorite})
	}
	return out
}

// notesColumns splits an optional bundle into nullable column values.
func notesColumns(b *models.Bundle) (ct, iv, tag *string) {
	if b == nil {
		return nil, nil, nil
	}
	return &b.Ciphertext, &b.IV, &b.AuthTag
}

// notesBundle is the inverse of notesColumns. A row with any part missing
// has no notes.
func notesBundle(ct, iv, tag *string) *models.Bundle {
	if ct == nil || iv == nil || tag == nil {
		return nil
	}
	return &models.Bundle{Ciphertext: *ct, IV: *iv, AuthTag: *tag}
}

// likePattern escapes LIKE metacharacters and wraps s for a substring match.
func likePattern(s string) string {
	r := []rune{'%'}
	for _, c := range s {
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return string(append(r, '%'))
}
