package secret

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/org/passkeeper/internal/crypto"
	"github.com/org/passkeeper/internal/shared"
	"github.com/org/passkeeper/internal/storage"
	"github.com/org/passkeeper/pkg/models"
	"github.com/rs/zerolog/log"
)

// maxBulkDelete caps the ids accepted by one bulk delete.
const maxBulkDelete = 500

// EntryStore is the slice of storage.Store the entry service needs.
type EntryStore interface {
	CreateEntry(ctx context.Context, e *models.Entry) error
	GetEntry(ctx context.Context, ownerID, id int64) (*models.Entry, error)
	ListEntries(ctx context.Context, ownerID int64, filter storage.EntryFilter) ([]*models.Entry, error)
	UpdateEntry(ctx context.Context, ownerID, id int64, upd storage.EntryUpdate) (*models.Entry, error)
	TouchEntryAccess(ctx context.Context, ownerID, id int64) error
	DeleteEntries(ctx context.Context, ownerID int64, ids []int64) (int64, error)
	EntryStats(ctx context.Context, ownerID int64, since time.Time) (*models.EntryStats, error)
	ListCategories(ctx context.Context, ownerID int64) ([]models.CategoryCount, error)
}

// EntryInput is a new credential as submitted by its owner.
type EntryInput struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	Notes      string `json:"notes"`
	Category   string `json:"category"`
	IsFavorite bool   `json:"is_favorite"`
}

// EntryPatch is a partial update. Nil fields are unchanged; an empty Notes
// clears the notes.
type EntryPatch struct {
	Title      *string `json:"title"`
	URL        *string `json:"url"`
	Username   *string `json:"username"`
	Password   *string `json:"password"`
	Notes      *string `json:"notes"`
	Category   *string `json:"category"`
	IsFavorite *bool   `json:"is_favorite"`
}

// ListOptions filter a listing. Reveal decrypts every entry.
type ListOptions struct {
	Category      string
	Search        string
	FavoritesOnly bool
	Reveal        bool
}

// EntryService encrypts, stores and decrypts credentials on behalf of their
// owner. Every call is scoped by ownerID.
type EntryService struct {
	store  EntryStore
	cipher *crypto.Cipher
	now    func() time.Time

	// OnDecryptFailure, when set, is called once per entry that fails to
	// decrypt.
	OnDecryptFailure func()
}

// NewEntryService creates an EntryService.
func NewEntryService(store EntryStore, cipher *crypto.Cipher) *EntryService {
	return &EntryService{store: store, cipher: cipher, now: time.Now}
}

// EncryptField seals one field value.
func (s *EntryService) EncryptField(plaintext string) (models.Bundle, error) {
	b, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return models.Bundle{}, shared.InternalError("encrypting field", err)
	}
	return b, nil
}

// DecryptField opens one field value.
func (s *EntryService) DecryptField(b models.Bundle) (string, error) {
	return s.cipher.Decrypt(b)
}

// Create validates, encrypts and stores a new entry and returns it with
// plaintext.
func (s *EntryService) Create(ctx context.Context, ownerID int64, in EntryInput) (*models.EntryView, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Username = strings.TrimSpace(in.Username)
	in.URL = strings.TrimSpace(in.URL)
	in.Category = strings.TrimSpace(in.Category)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.Category == "" {
		in.Category = models.DefaultCategory
	}

	secret, err := s.EncryptField(in.Password)
	if err != nil {
		return nil, err
	}
	e := &models.Entry{
		OwnerID:    ownerID,
		Title:      in.Title,
		URL:        in.URL,
		Username:   in.Username,
		Secret:     secret,
		Category:   in.Category,
		IsFavorite: in.IsFavorite,
	}
	if in.Notes != "" {
		notes, err := s.EncryptField(in.Notes)
		if err != nil {
			return nil, err
		}
		e.Notes = &notes
	}

	if err := s.store.CreateEntry(ctx, e); err != nil {
		return nil, shared.InternalError("storing entry", err)
	}
	log.Debug().Int64("owner_id", ownerID).Int64("entry_id", e.ID).Msg("entry created")

	view := e.View()
	view.Password = &in.Password
	if e.Notes != nil {
		view.Notes = &in.Notes
	}
	return view, nil
}

// Get returns one entry with its password and notes decrypted, and records
// the access. An entry owned by someone else is reported as not found.
func (s *EntryService) Get(ctx context.Context, ownerID, id int64) (*models.EntryView, error) {
	e, err := s.load(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	view, err := s.reveal(e)
	if err != nil {
		log.Error().Err(err).Int64("owner_id", ownerID).Int64("entry_id", id).Msg("entry failed to decrypt")
		return nil, err
	}

	if err := s.store.TouchEntryAccess(ctx, ownerID, id); err != nil {
		return nil, shared.InternalError("recording entry access", err)
	}
	now := s.now().UTC()
	view.LastAccessed = &now
	return view, nil
}

// List returns the owner's entries. Without Reveal no plaintext is
// produced. With Reveal an entry that fails to decrypt is flagged rather
// than failing the listing.
func (s *EntryService) List(ctx context.Context, ownerID int64, opts ListOptions) ([]*models.EntryView, error) {
	entries, err := s.store.ListEntries(ctx, ownerID, storage.EntryFilter{
		Category:      strings.TrimSpace(opts.Category),
		Search:        strings.TrimSpace(opts.Search),
		FavoritesOnly: opts.FavoritesOnly,
	})
	if err != nil {
		return nil, shared.InternalError("listing entries", err)
	}

	views := make([]*models.EntryView, 0, len(entries))
	for _, e := range entries {
		if !opts.Reveal {
			views = append(views, e.View())
			continue
		}
		view, err := s.reveal(e)
		if err != nil {
			log.Error().Err(err).Int64("owner_id", ownerID).Int64("entry_id", e.ID).Msg("entry failed to decrypt")
			view = e.View()
			view.DecryptFailed = true
		}
		views = append(views, view)
	}
	return views, nil
}

// Update applies a partial update. A new password or notes value is
// encrypted under a fresh nonce; fields not in the patch keep their stored
// ciphertext.
func (s *EntryService) Update(ctx context.Context, ownerID, id int64, p EntryPatch) (*models.EntryView, error) {
	if err := validatePatch(p); err != nil {
		return nil, err
	}

	upd := storage.EntryUpdate{
		Title:      trimmed(p.Title),
		URL:        trimmed(p.URL),
		Username:   trimmed(p.Username),
		Category:   trimmed(p.Category),
		IsFavorite: p.IsFavorite,
	}
	if p.Password != nil {
		b, err := s.EncryptField(*p.Password)
		if err != nil {
			return nil, err
		}
		upd.Secret = &b
	}
	if p.Notes != nil {
		if *p.Notes == "" {
			upd.ClearNotes = true
		} else {
			b, err := s.EncryptField(*p.Notes)
			if err != nil {
				return nil, err
			}
			upd.Notes = &b
		}
	}

	var (
		e   *models.Entry
		err error
	)
	if upd.Empty() {
		e, err = s.store.GetEntry(ctx, ownerID, id)
	} else {
		e, err = s.store.UpdateEntry(ctx, ownerID, id, upd)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, shared.NotFoundError("password not found")
		}
		return nil, shared.InternalError("updating entry", err)
	}
	return e.View(), nil
}

// Delete removes one entry.
func (s *EntryService) Delete(ctx context.Context, ownerID, id int64) error {
	n, err := s.store.DeleteEntries(ctx, ownerID, []int64{id})
	if err != nil {
		return shared.InternalError("deleting entry", err)
	}
	if n == 0 {
		return shared.NotFoundError("password not found")
	}
	return nil
}

// BulkDelete removes every listed entry the owner has and reports how many
// were deleted. Ids belonging to other owners are silently skipped.
func (s *EntryService) BulkDelete(ctx context.Context, ownerID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, shared.ValidationError("password IDs array is required")
	}
	if len(ids) > maxBulkDelete {
		return 0, shared.ValidationError("too many password IDs")
	}
	seen := make(map[int64]struct{}, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return 0, shared.ValidationError("password IDs must be positive integers")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

	n, err := s.store.DeleteEntries(ctx, ownerID, unique)
	if err != nil {
		return 0, shared.InternalError("deleting entries", err)
	}
	log.Info().Int64("owner_id", ownerID).Int64("deleted", n).Int("requested", len(unique)).Msg("bulk delete")
	return n, nil
}

// Stats summarizes the owner's entries. "Today" starts at midnight UTC.
func (s *EntryService) Stats(ctx context.Context, ownerID int64) (*models.EntryStats, error) {
	since := s.now().UTC().Truncate(24 * time.Hour)
	st, err := s.store.EntryStats(ctx, ownerID, since)
	if err != nil {
		return nil, shared.InternalError("computing entry stats", err)
	}
	return st, nil
}

// Categories lists the owner's categories with entry counts.
func (s *EntryService) Categories(ctx context.Context, ownerID int64) ([]models.CategoryCount, error) {
	cats, err := s.store.ListCategories(ctx, ownerID)
	if err != nil {
		return nil, shared.InternalError("listing categories", err)
	}
	if cats == nil {
		cats = []models.CategoryCount{}
	}
	return cats, nil
}

func (s *EntryService) load(ctx context.Context, ownerID, id int64) (*models.Entry, error) {
	e, err := s.store.GetEntry(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, shared.NotFoundError("password not found")
		}
		return nil, shared.InternalError("loading entry", err)
	}
	return e, nil
}

// reveal decrypts password and notes. Either failing fails the whole entry
// so no partial plaintext is returned.
func (s *EntryService) reveal(e *models.Entry) (*models.EntryView, error) {
	password, err := s.DecryptField(e.Secret)
	if err != nil {
		s.decryptFailed()
		return nil, err
	}
	view := e.View()
	view.Password = &password
	if e.Notes != nil {
		notes, err := s.DecryptField(*e.Notes)
		if err != nil {
			s.decryptFailed()
			return nil, err
		}
		view.Notes = &notes
	}
	return view, nil
}

func (s *EntryService) decryptFailed() {
	if s.OnDecryptFailure != nil {
		s.OnDecryptFailure()
	}
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}
