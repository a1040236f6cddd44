package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/passkeeper/internal/api"
	"github.com/org/passkeeper/internal/auth"
	"github.com/org/passkeeper/internal/config"
	"github.com/org/passkeeper/internal/crypto"
	"github.com/org/passkeeper/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := "config.yaml"
	if v := os.Getenv("PASSKEEPER_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg, found, err := config.Load(cfgFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfgFile).Msg("failed to load config")
	}
	if !found {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		log.Fatal().Err(err).Msg("invalid environment override")
	}
	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to open database")
	}
	defer store.Close()

	cipher, err := crypto.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption key")
	}
	hasher, err := crypto.NewHasher(cfg.HashCost)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid hash cost")
	}
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL, store)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid jwt secret")
	}
	go tokens.RunSweeper(ctx, cfg.SweepInterval)

	srv := api.NewServer(store, tokens, hasher, cipher, api.Config{
		ListenAddr:    cfg.ListenAddr,
		TLSCertFile:   cfg.TLSCertFile,
		TLSKeyFile:    cfg.TLSKeyFile,
		RateLimit:     cfg.RateLimit,
		AuthRateLimit: cfg.AuthRateLimit,
		CORSOrigins:   cfg.CORSOrigins,
	})

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("driver", cfg.DBDriver).Str("version", api.Version).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

func setupLogging(cfg config.Config) {
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		return storage.NewSQLiteStore(ctx, cfg.DBUrl)
	case config.DriverPostgres:
		if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		log.Info().Msg("migrations applied")
		return storage.NewPostgresStore(ctx, cfg.DBUrl)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
}
