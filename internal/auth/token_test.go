package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/org/passkeeper/internal/shared"
	"github.com/org/passkeeper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret-of-at-least-32-bytes!"

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	s, err := storage.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func newTestTokens(t *testing.T, rev RevocationStore) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testSecret, 0, rev)
	require.NoError(t, err)
	return ts
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	_, err := NewTokenService("", 0, nil)
	assert.ErrorIs(t, err, shared.ErrConfiguration)

	_, err = NewTokenService("too-short", 0, nil)
	assert.ErrorIs(t, err, shared.ErrConfiguration)
}

func TestIssueAndVerify(t *testing.T) {
	ts := newTestTokens(t, nil)

	token, issued, err := ts.Issue(42)
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(token, ".")))
	assert.Equal(t, "42", issued.Subject)
	assert.NotEmpty(t, issued.ID)
	assert.Equal(t, SessionTTL, issued.ExpiresAt.Sub(issued.IssuedAt.Time))

	claims, err := ts.Verify(context.Background(), token)
	require.NoError(t, err)
	id, err := claims.AccountID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, issued.ID, claims.ID)

	_, second, err := ts.Issue(42)
	require.NoError(t, err)
	assert.NotEqual(t, issued.ID, second.ID, "each token gets its own jti")
}

func TestVerifyExpired(t *testing.T) {
	ts := newTestTokens(t, nil)
	start := time.Now()
	ts.now = func() time.Time { return start }
	token, _, err := ts.Issue(7)
	require.NoError(t, err)

	ts.now = func() time.Time { return start.Add(SessionTTL + time.Second) }
	_, err = ts.Verify(context.Background(), token)
	assert.ErrorIs(t, err, shared.ErrExpiredToken)
	assert.Equal(t, "token expired", shared.MessageOf(err))
}

func TestVerifyWrongSecret(t *testing.T) {
	ts := newTestTokens(t, nil)
	other, err := NewTokenService(strings.Repeat("x", 40), 0, nil)
	require.NoError(t, err)

	token, _, err := other.Issue(1)
	require.NoError(t, err)
	_, err = ts.Verify(context.Background(), token)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
}

func TestVerifyRejectsForeignAlgorithmsAndGarbage(t *testing.T) {
	ts := newTestTokens(t, nil)
	ctx := context.Background()
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "1", ExpiresAt: exp, ID: "x",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject: "1", ExpiresAt: exp, ID: "x",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "alice", ExpiresAt: exp, ID: "x",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "1", ID: "x",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"alg none":    none,
		"hs512":       hs512,
		"bad subject": badSubject,
		"no expiry":   noExpiry,
		"garbage":     "not.a.token",
		"empty":       "",
	} {
		_, err := ts.Verify(ctx, token)
		assert.True(t, errors.Is(err, shared.ErrInvalidToken), "%s: got %v", name, err)
	}
}

func TestRevokedTokenRejected(t *testing.T) {
	store := newTestStore(t)
	ts := newTestTokens(t, store)
	ctx := context.Background()

	token, claims, err := ts.Issue(5)
	require.NoError(t, err)
	_, err = ts.Verify(ctx, token)
	require.NoError(t, err)

	require.NoError(t, ts.Revoke(ctx, claims))
	_, err = ts.Verify(ctx, token)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)

	other, _, err := ts.Issue(5)
	require.NoError(t, err)
	_, err = ts.Verify(ctx, other)
	assert.NoError(t, err, "revocation is per token, not per account")
}

func TestRunSweeperPurges(t *testing.T) {
	store := newTestStore(t)
	ts := newTestTokens(t, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, store.RevokeToken(ctx, "stale", time.Now().Add(-time.Hour)))

	done := make(chan struct{})
	go func() {
		ts.RunSweeper(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		revoked, err := store.IsTokenRevoked(ctx, "stale")
		return err == nil && !revoked
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
