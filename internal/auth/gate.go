package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/org/passkeeper/internal/shared"
	"github.com/org/passkeeper/internal/storage"
	"github.com/org/passkeeper/pkg/models"
	"github.com/rs/zerolog/log"
)

// AccountGetter resolves an account by id.
type AccountGetter interface {
	GetAccountByID(ctx context.Context, id int64) (*models.Account, error)
}

// Identity is the authenticated caller of a request.
type Identity struct {
	AccountID int64
	Username  string
	Email     string
	TokenID   string
	ExpiresAt time.Time

	claims *Claims
}

// Claims returns the verified token claims behind the identity.
func (i *Identity) Claims() *Claims { return i.claims }

// Gate turns a bearer token into the identity of an active account.
type Gate struct {
	tokens   *TokenService
	accounts AccountGetter
}

func NewGate(tokens *TokenService, accounts AccountGetter) *Gate {
	return &Gate{tokens: tokens, accounts: accounts}
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthenticateRequest validates the raw Authorization header. A token that
// verifies is still refused once its account is gone or deactivated.
func (g *Gate) AuthenticateRequest(ctx context.Context, rawHeader string) (*Identity, error) {
	token, ok := ParseBearer(rawHeader)
	if !ok {
		return nil, shared.UnauthenticatedError("access token required")
	}

	claims, err := g.tokens.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	id, _ := claims.AccountID()

	account, err := g.accounts.GetAccountByID(ctx, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, shared.InternalError("resolving account", err)
	}
	if account == nil || !account.IsActive {
		log.Warn().Int64("account_id", id).Str("jti", claims.ID).Msg("token presented for missing or inactive account")
		return nil, shared.UnauthenticatedError("user not found or inactive")
	}

	return &Identity{
		AccountID: account.ID,
		Username:  account.Username,
		Email:     account.Email,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
		claims:    claims,
	}, nil
}
