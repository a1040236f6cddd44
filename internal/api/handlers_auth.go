package api

import (
	"net/http"
	"time"

	"github.com/org/passkeeper/internal/shared"
	"github.com/org/passkeeper/pkg/models"
	"github.com/rs/zerolog/hlog"
)

type sessionResponse struct {
	User      *models.Account `json:"user"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// RegisterHandler handles POST /api/auth/register
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := s.accounts.RegisterAccount(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	registrationsTotal.Inc()

	token, claims, err := s.tokens.Issue(account.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{User: account, Token: token, ExpiresAt: claims.ExpiresAt.Time})
}

// LoginHandler handles POST /api/auth/login. identifier may be a username
// or an email; "username" and "email" are accepted as aliases.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Username   string `json:"username"`
		Email      string `json:"email"`
		Password   string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Username
	}
	if identifier == "" {
		identifier = req.Email
	}

	account, err := s.accounts.VerifyLogin(r.Context(), identifier, req.Password)
	if err != nil {
		if shared.KindOf(err) == shared.KindInvalidCredentials {
			loginAttemptsTotal.WithLabelValues("failure").Inc()
		}
		writeServiceError(w, r, err)
		return
	}
	loginAttemptsTotal.WithLabelValues("success").Inc()

	token, claims, err := s.tokens.Issue(account.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: account, Token: token, ExpiresAt: claims.ExpiresAt.Time})
}

// LogoutHandler handles POST /api/auth/logout by revoking the presented
// token.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	identity := identityFromCtx(r.Context())
	if err := s.tokens.Revoke(r.Context(), identity.Claims()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Str("jti", identity.TokenID).Msg("logged out")
	w.WriteHeader(http.StatusNoContent)
}

// ProfileHandler handles GET /api/auth/profile
func (s *Server) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	identity := identityFromCtx(r.Context())
	account, err := s.accounts.Profile(r.Context(), identity.AccountID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": account})
}

// ProfileUpdateHandler handles PUT /api/auth/profile
func (s *Server) ProfileUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	identity := identityFromCtx(r.Context())
	account, err := s.accounts.UpdateProfile(r.Context(), identity.AccountID, req.Username, req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": account})
}

// PasswordChangeHandler handles PUT /api/auth/password
func (s *Server) PasswordChangeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	identity := identityFromCtx(r.Context())
	if err := s.accounts.ChangePassword(r.Context(), identity.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AccountDeleteHandler handles DELETE /api/auth/account. The account is
// deactivated and the presented token revoked.
func (s *Server) AccountDeleteHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	identity := identityFromCtx(r.Context())
	if err := s.accounts.Deactivate(r.Context(), identity.AccountID, req.Password); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.tokens.Revoke(r.Context(), identity.Claims()); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("revoking token of deactivated account")
	}
	w.WriteHeader(http.StatusNoContent)
}
