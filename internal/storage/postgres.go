package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/passkeeper/pkg/models"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgxpool connection and returns a ready store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// --- Accounts ---

const accountColumns = `id, username, email, password_hash, salt_factor, is_active, created_at, updated_at, last_login`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.SaltFactor,
		&a.IsActive, &a.CreatedAt, &a.UpdatedAt, &a.LastLogin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (p *PostgresStore) CreateAccount(ctx context.Context, a *models.Account) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO accounts (username, email, password_hash, salt_factor)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, is_active, created_at, updated_at`,
		a.Username, a.Email, a.PasswordHash, a.SaltFactor,
	).Scan(&a.ID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (p *PostgresStore) FindActiveAccount(ctx context.Context, identifier string) (*models.Account, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE is_active AND (LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1))
		 ORDER BY id LIMIT 1`,
		identifier,
	)
	return scanAccount(row)
}

func (p *PostgresStore) AccountTaken(ctx context.Context, username, email string, excludeID int64) (bool, bool, error) {
	var userTaken, emailTaken bool
	err := p.pool.QueryRow(ctx,
		`SELECT
		   COALESCE(BOOL_OR(LOWER(username) = LOWER($1)), FALSE),
		   COALESCE(BOOL_OR(LOWER(email) = LOWER($2)), FALSE)
		 FROM accounts
		 WHERE is_active AND id <> $3
		   AND (LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($2))`,
		username, email, excludeID,
	).Scan(&userTaken, &emailTaken)
	if err != nil {
		return false, false, fmt.Errorf("checking account uniqueness: %w", err)
	}
	return userTaken, emailTaken, nil
}

func (p *PostgresStore) UpdateAccountProfile(ctx context.Context, id int64, username, email string) (*models.Account, error) {
	row := p.pool.QueryRow(ctx,
		`UPDATE accounts SET username = $2, email = $3, updated_at = NOW()
		 WHERE id = $1 AND is_active
		 RETURNING `+accountColumns,
		id, username, email,
	)
	a, err := scanAccount(row)
	if err != nil && isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	return a, err
}

func (p *PostgresStore) UpdateAccountPassword(ctx context.Context, id int64, hash string, saltFactor int) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE accounts SET password_hash = $2, salt_factor = $3, updated_at = NOW()
		 WHERE id = $1 AND is_active`,
		id, hash, saltFactor,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) TouchLastLogin(ctx context.Context, id int64) error {
	_, err := p.pool.Exec(ctx, `UPDATE accounts SET last_login = NOW() WHERE id = $1`, id)
	return err
}

func (p *PostgresStore) DeactivateAccount(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE accounts SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Entries ---

const entryColumns = `id, owner_id, title, url, username,
	encrypted_secret, secret_iv, secret_auth_tag,
	encrypted_notes, notes_iv, notes_auth_tag,
	category, is_favorite, created_at, updated_at, last_accessed`

func scanEntry(row pgx.Row) (*models.Entry, error) {
	var e models.Entry
	var notesCT, notesIV, notesTag *string
	err := row.Scan(&e.ID, &e.OwnerID, &e.Title, &e.URL, &e.Username,
		&e.Secret.Ciphertext, &e.Secret.IV, &e.Secret.AuthTag,
		&notesCT, &notesIV, &notesTag,
		&e.Category, &e.IsFavorite, &e.CreatedAt, &e.UpdatedAt, &e.LastAccessed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Notes = notesBundle(notesCT, notesIV, notesTag)
	return &e, nil
}

func (p *PostgresStore) CreateEntry(ctx context.Context, e *models.Entry) error {
	notesCT, notesIV, notesTag := notesColumns(e.Notes)
	err := p.pool.QueryRow(ctx,
		`INSERT INTO password_entries
		   (owner_id, title, url, username, encrypted_secret, secret_iv, secret_auth_tag,
		    encrypted_notes, notes_iv, notes_auth_tag, category, is_favorite)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id, created_at, updated_at`,
		e.OwnerID, e.Title, e.URL, e.Username, e.Secret.Ciphertext, e.Secret.IV, e.Secret.AuthTag,
		notesCT, notesIV, notesTag, e.Category, e.IsFavorite,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetEntry(ctx context.Context, ownerID, id int64) (*models.Entry, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM password_entries WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	return scanEntry(row)
}

func (p *PostgresStore) ListEntries(ctx context.Context, ownerID int64, filter EntryFilter) ([]*models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM password_entries WHERE owner_id = $1`
	args := []any{ownerID}

	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	if filter.FavoritesOnly {
		query += ` AND is_favorite`
	}
	if filter.Search != "" {
		args = append(args, likePattern(filter.Search))
		n := len(args)
		query += fmt.Sprintf(` AND (title ILIKE $%d OR url ILIKE $%d OR username ILIKE $%d)`, n, n, n)
	}
	query += ` ORDER BY is_favorite DESC, title ASC, id ASC`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) UpdateEntry(ctx context.Context, ownerID, id int64, upd EntryUpdate) (*models.Entry, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id, ownerID}
	for _, a := range upd.assignments() {
		args = append(args, a.value)
		sets = append(sets, fmt.Sprintf("%s = $%d", a.column, len(args)))
	}
	row := p.pool.QueryRow(ctx,
		`UPDATE password_entries SET `+strings.Join(sets, ", ")+`
		 WHERE id = $1 AND owner_id = $2
		 RETURNING `+entryColumns,
		args...,
	)
	return scanEntry(row)
}

func (p *PostgresStore) TouchEntryAccess(ctx context.Context, ownerID, id int64) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE password_entries SET last_accessed = NOW() WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	return err
}

func (p *PostgresStore) DeleteEntries(ctx context.Context, ownerID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM password_entries WHERE owner_id = $1 AND id = ANY($2)`,
		ownerID, ids,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) EntryStats(ctx context.Context, ownerID int64, since time.Time) (*models.EntryStats, error) {
	var s models.EntryStats
	err := p.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*),
		   COUNT(*) FILTER (WHERE is_favorite),
		   COUNT(DISTINCT category),
		   COUNT(*) FILTER (WHERE created_at >= $2),
		   COUNT(*) FILTER (WHERE last_accessed >= $2)
		 FROM password_entries WHERE owner_id = $1`,
		ownerID, since,
	).Scan(&s.Total, &s.Favorites, &s.Categories, &s.CreatedToday, &s.AccessedToday)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) ListCategories(ctx context.Context, ownerID int64) ([]models.CategoryCount, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT category, COUNT(*) FROM password_entries
		 WHERE owner_id = $1 GROUP BY category ORDER BY category`,
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

func (p *PostgresStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO revoked_tokens (jti, expires_at) VALUES ($1, $2)
		 ON CONFLICT (jti) DO NOTHING`,
		jti, expiresAt,
	)
	return err
}

func (p *PostgresStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)`, jti,
	).Scan(&revoked)
	return revoked, err
}

func (p *PostgresStore) PurgeExpiredRevocations(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
