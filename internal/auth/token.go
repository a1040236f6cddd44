package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/org/passkeeper/internal/shared"
	"github.com/rs/zerolog/log"
)

// SessionTTL is how long an issued session token stays valid.
const SessionTTL = 24 * time.Hour

// minSecretBytes is the shortest accepted HMAC signing secret.
const minSecretBytes = 32

// RevocationStore persists the jti deny-list used for logout.
type RevocationStore interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	PurgeExpiredRevocations(ctx context.Context, now time.Time) (int64, error)
}

// Claims are the session token claims: sub is the account id.
type Claims struct {
	jwt.RegisteredClaims
}

// AccountID parses the subject as an account id.
func (c *Claims) AccountID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("subject %q is not an account id", c.Subject)
	}
	return id, nil
}

// TokenService issues and verifies HS256 session tokens.
type TokenService struct {
	secret      []byte
	ttl         time.Duration
	revocations RevocationStore
	now         func() time.Time
}

// NewTokenService creates a TokenService. There is no default secret: an
// empty or short one is a configuration error. A zero ttl means SessionTTL.
func NewTokenService(secret string, ttl time.Duration, revocations RevocationStore) (*TokenService, error) {
	if secret == "" {
		return nil, shared.ConfigurationError("JWT secret is not configured")
	}
	if len(secret) < minSecretBytes {
		return nil, shared.ConfigurationError(fmt.Sprintf("JWT secret must be at least %d bytes", minSecretBytes))
	}
	if ttl <= 0 {
		ttl = SessionTTL
	}
	return &TokenService{
		secret:      []byte(secret),
		ttl:         ttl,
		revocations: revocations,
		now:         time.Now,
	}, nil
}

// Issue signs a new session token for accountID.
func (s *TokenService) Issue(accountID int64) (string, *Claims, error) {
	now := s.now()
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(accountID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.NewString(),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing token: %w", err)
	}
	return token, claims, nil
}

// Verify checks signature, algorithm, expiry, subject and the deny-list.
func (s *TokenService) Verify(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, shared.ExpiredTokenError()
		}
		return nil, shared.InvalidTokenError(err)
	}
	if _, err := claims.AccountID(); err != nil {
		return nil, shared.InvalidTokenError(err)
	}
	if claims.ID == "" {
		return nil, shared.InvalidTokenError(errors.New("token has no jti"))
	}

	if s.revocations != nil {
		revoked, err := s.revocations.IsTokenRevoked(ctx, claims.ID)
		if err != nil {
			return nil, shared.InternalError("checking token revocation", err)
		}
		if revoked {
			return nil, shared.InvalidTokenError(errors.New("token has been revoked"))
		}
	}
	return claims, nil
}

// Revoke puts the token's jti on the deny-list until the token would have
// expired anyway.
func (s *TokenService) Revoke(ctx context.Context, claims *Claims) error {
	if s.revocations == nil {
		return nil
	}
	exp := s.now().Add(s.ttl)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	if err := s.revocations.RevokeToken(ctx, claims.ID, exp); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// RunSweeper purges expired deny-list rows every interval until ctx is done.
func (s *TokenService) RunSweeper(ctx context.Context, interval time.Duration) {
	if s.revocations == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.revocations.PurgeExpiredRevocations(ctx, s.now())
			if err != nil {
				log.Error().Err(err).Msg("purging revoked tokens")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("purged expired token revocations")
			}
		}
	}
}
