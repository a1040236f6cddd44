package models

import "time"

// DefaultCategory is assigned to entries created without a category.
const DefaultCategory = "General"

// Bundle is one encrypted field as stored: hex ciphertext, nonce and GCM tag.
type Bundle struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"auth_tag"`
}

// Complete reports whether the nonce and tag are present. The ciphertext of
// an empty plaintext is itself empty.
func (b Bundle) Complete() bool {
	return b.IV != "" && b.AuthTag != ""
}

// Entry is a stored credential. Secret and Notes never hold plaintext.
type Entry struct {
	ID           int64
	OwnerID      int64
	Title        string
	URL          string
	Username     string
	Secret       Bundle
	Notes        *Bundle
	Category     string
	IsFavorite   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastAccessed *time.Time
}

// EntryView is what callers of the entry service get back. Password and Notes
// are only filled on reads that ask for plaintext.
type EntryView struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	Username      string     `json:"username"`
	Password      *string    `json:"password,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	HasNotes      bool       `json:"has_notes"`
	Category      string     `json:"category"`
	IsFavorite    bool       `json:"is_favorite"`
	DecryptFailed bool       `json:"decrypt_failed,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastAccessed  *time.Time `json:"last_accessed,omitempty"`
}

// View returns the metadata view of the entry without plaintext.
func (e *Entry) View() *EntryView {
	return &EntryView{
		ID:           e.ID,
		Title:        e.Title,
		URL:          e.URL,
		Username:     e.Username,
		HasNotes:     e.Notes != nil,
		Category:     e.Category,
		IsFavorite:   e.IsFavorite,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
		LastAccessed: e.LastAccessed,
	}
}

// EntryStats summarizes an owner's entries for the dashboard.
type EntryStats struct {
	Total         int64 `json:"total_passwords"`
	Favorites     int64 `json:"favorites_count"`
	Categories    int64 `json:"categories_count"`
	CreatedToday  int64 `json:"created_today"`
	AccessedToday int64 `json:"accessed_today"`
}

// CategoryCount is one row of the per-owner category listing.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}
