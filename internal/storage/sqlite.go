package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/org/passkeeper/pkg/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// sqliteTimeLayout is fixed width so stored timestamps compare correctly as
// text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a Store backed by an embedded SQLite database. It is meant
// for local development and tests.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens dsn (a file path or ":memory:") and creates the schema
// if it does not exist.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One connection: keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

func (s *SQLiteStore) timestamp() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", v, err)
	}
	return t, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var e *sqlite.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(e.Error(), "UNIQUE")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Accounts ---

func scanSQLiteAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	var createdAt, updatedAt string
	var lastLogin sql.NullString
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.SaltFactor,
		&a.IsActive, &createdAt, &updatedAt, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if a.LastLogin, err = parseNullTime(lastLogin); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, a *models.Account) error {
	now := s.timestamp()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (username, email, password_hash, salt_factor, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)`,
		a.Username, a.Email, a.PasswordHash, a.SaltFactor, now, now,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting account: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	a.IsActive = true
	a.CreatedAt, _ = parseTime(now)
	a.UpdatedAt = a.CreatedAt
	return nil
}

func (s *SQLiteStore) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanSQLiteAccount(row)
}

func (s *SQLiteStore) FindActiveAccount(ctx context.Context, identifier string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE is_active = 1 AND (username = ? OR email = ?)
		 ORDER BY id LIMIT 1`,
		identifier, identifier,
	)
	return scanSQLiteAccount(row)
}

func (s *SQLiteStore) AccountTaken(ctx context.Context, username, email string, excludeID int64) (bool, bool, error) {
	var userTaken, emailTaken bool
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(username = ?1), 0), COALESCE(MAX(email = ?2), 0)
		 FROM accounts
		 WHERE is_active = 1 AND id <> ?3 AND (username = ?1 OR email = ?2)`,
		username, email, excludeID,
	).Scan(&userTaken, &emailTaken)
	if err != nil {
		return false, false, fmt.Errorf("checking account uniqueness: %w", err)
	}
	return userTaken, emailTaken, nil
}

func (s *SQLiteStore) UpdateAccountProfile(ctx context.Context, id int64, username, email string) (*models.Account, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET username = ?, email = ?, updated_at = ?
		 WHERE id = ? AND is_active = 1`,
		username, email, s.timestamp(), id,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetAccountByID(ctx, id)
}

func (s *SQLiteStore) UpdateAccountPassword(ctx context.Context, id int64, hash string, saltFactor int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, salt_factor = ?, updated_at = ?
		 WHERE id = ? AND is_active = 1`,
		hash, saltFactor, s.timestamp(), id,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLiteStore) TouchLastLogin(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET last_login = ? WHERE id = ?`, s.timestamp(), id)
	return err
}

func (s *SQLiteStore) DeactivateAccount(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`,
		s.timestamp(), id,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Entries ---

func scanSQLiteEntry(row rowScanner) (*models.Entry, error) {
	var e models.Entry
	var notesCT, notesIV, notesTag *string
	var createdAt, updatedAt string
	var lastAccessed sql.NullString
	err := row.Scan(&e.ID, &e.OwnerID, &e.Title, &e.URL, &e.Username,
		&e.Secret.Ciphertext, &e.Secret.IV, &e.Secret.AuthTag,
		&notesCT, &notesIV, &notesTag,
		&e.Category, &e.IsFavorite, &createdAt, &updatedAt, &lastAccessed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Notes = notesBundle(notesCT, notesIV, notesTag)
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if e.LastAccessed, err = parseNullTime(lastAccessed); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) CreateEntry(ctx context.Context, e *models.Entry) error {
	now := s.timestamp()
	notesCT, notesIV, notesTag := notesColumns(e.Notes)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO password_entries
		   (owner_id, title, url, username, encrypted_secret, secret_iv, secret_auth_tag,
		    encrypted_notes, notes_iv, notes_auth_tag, category, is_favorite, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OwnerID, e.Title, e.URL, e.Username, e.Secret.Ciphertext, e.Secret.IV, e.Secret.AuthTag,
		notesCT, notesIV, notesTag, e.Category, e.IsFavorite, now, now,
	)
	if err != nil {
		return fmt.Errorf("inserting entry: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	e.CreatedAt, _ = parseTime(now)
	e.UpdatedAt = e.CreatedAt
	return nil
}

func (s *SQLiteStore) GetEntry(ctx context.Context, ownerID, id int64) (*models.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM password_entries WHERE id = ? AND owner_id = ?`,
		id, ownerID,
	)
	return scanSQLiteEntry(row)
}

func (s *SQLiteStore) ListEntries(ctx context.Context, ownerID int64, filter EntryFilter) ([]*models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM password_entries WHERE owner_id = ?`
	args := []any{ownerID}

	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}
	if filter.FavoritesOnly {
		query += ` AND is_favorite = 1`
	}
	if filter.Search != "" {
		p := likePattern(filter.Search)
		query += ` AND (title LIKE ? ESCAPE '\' OR url LIKE ? ESCAPE '\' OR username LIKE ? ESCAPE '\')`
		args = append(args, p, p, p)
	}
	query += ` ORDER BY is_favorite DESC, title ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) UpdateEntry(ctx context.Context, ownerID, id int64, upd EntryUpdate) (*models.Entry, error) {
	sets := []string{"updated_at = ?"}
	args := []any{s.timestamp()}
	for _, a := range upd.assignments() {
		sets = append(sets, a.column+" = ?")
		args = append(args, a.value)
	}
	args = append(args, id, ownerID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE password_entries SET `+strings.Join(sets, ", ")+` WHERE id = ? AND owner_id = ?`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetEntry(ctx, ownerID, id)
}

func (s *SQLiteStore) TouchEntryAccess(ctx context.Context, ownerID, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE password_entries SET last_accessed = ? WHERE id = ? AND owner_id = ?`,
		s.timestamp(), id, ownerID,
	)
	return err
}

func (s *SQLiteStore) DeleteEntries(ctx context.Context, ownerID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM password_entries WHERE owner_id = ? AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) EntryStats(ctx context.Context, ownerID int64, since time.Time) (*models.EntryStats, error) {
	var st models.EntryStats
	ts := formatTime(since)
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   COUNT(*),
		   COALESCE(SUM(is_favorite = 1), 0),
		   COUNT(DISTINCT category),
		   COALESCE(SUM(created_at >= ?2), 0),
		   COALESCE(SUM(last_accessed IS NOT NULL AND last_accessed >= ?2), 0)
		 FROM password_entries WHERE owner_id = ?1`,
		ownerID, ts,
	).Scan(&st.Total, &st.Favorites, &st.Categories, &st.CreatedToday, &st.AccessedToday)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SQLiteStore) ListCategories(ctx context.Context, ownerID int64) ([]models.CategoryCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM password_entries
		 WHERE owner_id = ? GROUP BY category ORDER BY category`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.CategoryCount
	for rows.Next() {
		var c models.CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Token deny-list ---

func (s *SQLiteStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?)
		 ON CONFLICT (jti) DO NOTHING`,
		jti, formatTime(expiresAt),
	)
	return err
}

func (s *SQLiteStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = ?)`, jti,
	).Scan(&revoked)
	return revoked, err
}

func (s *SQLiteStore) PurgeExpiredRevocations(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < ?`, formatTime(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
