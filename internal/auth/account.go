package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/org/passkeeper/internal/crypto"
	"github.com/org/passkeeper/internal/shared"
	"github.com/org/passkeeper/internal/storage"
	"github.com/org/passkeeper/pkg/models"
	"github.com/rs/zerolog/log"
)

// AccountStore is the slice of storage.Store the account service needs.
type AccountStore interface {
	AccountGetter
	CreateAccount(ctx context.Context, a *models.Account) error
	FindActiveAccount(ctx context.Context, identifier string) (*models.Account, error)
	AccountTaken(ctx context.Context, username, email string, excludeID int64) (bool, bool, error)
	UpdateAccountProfile(ctx context.Context, id int64, username, email string) (*models.Account, error)
	UpdateAccountPassword(ctx context.Context, id int64, hash string, saltFactor int) error
	TouchLastLogin(ctx context.Context, id int64) error
	DeactivateAccount(ctx context.Context, id int64) error
}

// AccountService manages registration, login and profile changes.
type AccountService struct {
	store  AccountStore
	hasher *crypto.Hasher

	dummyOnce sync.Once
	dummyHash string
}

// NewAccountService creates an AccountService.
func NewAccountService(store AccountStore, hasher *crypto.Hasher) *AccountService {
	return &AccountService{store: store, hasher: hasher}
}

// RegisterAccount validates and stores a new account and returns its public
// view.
func (s *AccountService) RegisterAccount(ctx context.Context, username, email, password string) (*models.Account, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if err := s.checkAvailable(ctx, username, email, 0); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	account := &models.Account{
		Username:     username,
		Email:        email,
		PasswordHash: digest.Hash,
		SaltFactor:   digest.Cost,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, shared.ConflictError("username or email already exists")
		}
		return nil, shared.InternalError("creating account", err)
	}

	log.Info().Int64("account_id", account.ID).Str("username", username).Msg("account registered")
	return account.Public(), nil
}

func (s *AccountService) checkAvailable(ctx context.Context, username, email string, excludeID int64) error {
	userTaken, emailTaken, err := s.store.AccountTaken(ctx, username, email, excludeID)
	if err != nil {
		return shared.InternalError("checking account uniqueness", err)
	}
	if userTaken {
		return shared.ConflictError("username already exists")
	}
	if emailTaken {
		return shared.ConflictError("email already exists")
	}
	return nil
}

// VerifyLogin checks credentials for a username or email. Every failure is
// the same InvalidCredentials error, and an unknown identifier still pays
// for one bcrypt comparison.
func (s *AccountService) VerifyLogin(ctx context.Context, identifier, password string) (*models.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, shared.InvalidCredentialsError()
	}

	account, err := s.store.FindActiveAccount(ctx, identifier)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, shared.InternalError("looking up account", err)
		}
		s.hasher.Verify(password, s.dummy())
		log.Warn().Str("identifier", identifier).Msg("login failed: unknown account")
		return nil, shared.InvalidCredentialsError()
	}
	if !s.hasher.Verify(password, account.PasswordHash) {
		log.Warn().Int64("account_id", account.ID).Msg("login failed: wrong password")
		return nil, shared.InvalidCredentialsError()
	}

	if err := s.store.TouchLastLogin(ctx, account.ID); err != nil {
		return nil, shared.InternalError("recording login", err)
	}
	now := time.Now().UTC()
	account.LastLogin = &now
	return account.Public(), nil
}

// dummy returns a real bcrypt digest at the configured cost, computed once.
func (s *AccountService) dummy() string {
	s.dummyOnce.Do(func() {
		d, err := s.hasher.Hash("passkeeper-timing-equalizer")
		if err != nil {
			log.Error().Err(err).Msg("computing dummy hash")
			return
		}
		s.dummyHash = d.Hash
	})
	return s.dummyHash
}

// Profile returns the public view of an active account.
func (s *AccountService) Profile(ctx context.Context, id int64) (*models.Account, error) {
	account, err := s.activeAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return account.Public(), nil
}

// UpdateProfile changes username and/or email. Empty values keep the current
// ones.
func (s *AccountService) UpdateProfile(ctx context.Context, id int64, username, email string) (*models.Account, error) {
	current, err := s.activeAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = current.Username
	}
	email = normalizeEmail(email)
	if email == "" {
		email = current.Email
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := s.checkAvailable(ctx, username, email, id); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateAccountProfile(ctx, id, username, email)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrAlreadyExists):
			return nil, shared.ConflictError("username or email already exists")
		case errors.Is(err, storage.ErrNotFound):
			return nil, shared.NotFoundError("account not found")
		}
		return nil, shared.InternalError("updating profile", err)
	}
	return updated.Public(), nil
}

// ChangePassword replaces the password after checking the current one.
func (s *AccountService) ChangePassword(ctx context.Context, id int64, current, next string) error {
	account, err := s.activeAccount(ctx, id)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(current, account.PasswordHash) {
		return shared.InvalidCredentialsError()
	}
	if err := validatePassword(next); err != nil {
		return err
	}
	digest, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAccountPassword(ctx, id, digest.Hash, digest.Cost); err != nil {
		return shared.InternalError("updating password", err)
	}
	log.Info().Int64("account_id", id).Msg("password changed")
	return nil
}

// Deactivate soft-deletes the account after checking its password. Tokens
// already issued for it stop passing the gate.
func (s *AccountService) Deactivate(ctx context.Context, id int64, password string) error {
	account, err := s.activeAccount(ctx, id)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(password, account.PasswordHash) {
		return shared.InvalidCredentialsError()
	}
	if err := s.store.DeactivateAccount(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return shared.NotFoundError("account not found")
		}
		return shared.InternalError("deactivating account", err)
	}
	log.Info().Int64("account_id", id).Msg("account deactivated")
	return nil
}

func (s *AccountService) activeAccount(ctx context.Context, id int64) (*models.Account, error) {
	account, err := s.store.GetAccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, shared.NotFoundError("account not found")
		}
		return nil, shared.InternalError("loading account", err)
	}
	if !account.IsActive {
		return nil, shared.NotFoundError("account not found")
	}
	return account, nil
}
