package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/passkeeper/internal/auth"
	"github.com/org/passkeeper/internal/config"
	"github.com/org/passkeeper/internal/crypto"
	"github.com/org/passkeeper/internal/secret"
	"github.com/org/passkeeper/internal/storage"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// Version is reported by /health and /api.
var Version = "1.0.0"

// Config holds server configuration.
type Config struct {
	ListenAddr    string
	TLSCertFile   string
	TLSKeyFile    string
	RateLimit     config.RateLimit
	AuthRateLimit config.RateLimit
	CORSOrigins   []string
}

// Server is the API server.
type Server struct {
	store    storage.Store
	tokens   *auth.TokenService
	gate     *auth.Gate
	accounts *auth.AccountService
	entries  *secret.EntryService
	cfg      Config
	httpSrv  *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(store storage.Store, tokens *auth.TokenService, hasher *crypto.Hasher, cipher *crypto.Cipher, cfg Config) *Server {
	entries := secret.NewEntryService(store, cipher)
	entries.OnDecryptFailure = decryptFailuresTotal.Inc

	return &Server{
		store:    store,
		tokens:   tokens,
		gate:     auth.NewGate(tokens, store),
		accounts: auth.NewAccountService(store, hasher),
		entries:  entries,
		cfg:      cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(requestIDMiddleware)
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(chimiddleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(securityHeaders)
	r.Use(corsMiddleware(s.cfg.CORSOrigins))

	r.NotFound(s.NotFoundHandler)
	r.MethodNotAllowed(s.MethodNotAllowedHandler)

	r.Get("/health", s.HealthHandler)
	r.Handle("/metrics", MetricsHandler())

	authLimiter := newRateLimiter("auth", s.cfg.AuthRateLimit)

	r.Route("/api", func(r chi.Router) {
		r.Use(newRateLimiter("api", s.cfg.RateLimit).middleware)

		r.Get("/", s.APIInfoHandler)

		// Public routes (no auth required)
		r.Group(func(r chi.Router) {
			r.Use(authLimiter.middleware)
			r.Post("/auth/register", s.RegisterHandler)
			r.Post("/auth/login", s.LoginHandler)
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(s.gate))

			r.Post("/auth/logout", s.LogoutHandler)
			r.Get("/auth/profile", s.ProfileHandler)
			r.Put("/auth/profile", s.ProfileUpdateHandler)
			r.Put("/auth/password", s.PasswordChangeHandler)
			r.Delete("/auth/account", s.AccountDeleteHandler)

			r.Get("/passwords", s.EntryListHandler)
			r.Post("/passwords", s.EntryCreateHandler)
			r.Get("/passwords/stats", s.EntryStatsHandler)
			r.Get("/passwords/categories", s.EntryCategoriesHandler)
			r.Post("/passwords/bulk-delete", s.EntryBulkDeleteHandler)
			r.Get("/passwords/{id}", s.EntryGetHandler)
			r.Put("/passwords/{id}", s.EntryUpdateHandler)
			r.Delete("/passwords/{id}", s.EntryDeleteHandler)
		})
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
