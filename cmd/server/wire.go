package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/exoxegroup/eng-ai/internal/auth"
	"github.com/exoxegroup/eng-ai/internal/config"
	"github.com/exoxegroup/eng-ai/internal/geo"
	"github.com/exoxegroup/eng-ai/internal/mail"
	"github.com/exoxegroup/eng-ai/internal/oracle"
	"github.com/exoxegroup/eng-ai/internal/repo"
	"github.com/exoxegroup/eng-ai/internal/services"
	"github.com/exoxegroup/eng-ai/internal/sysutil"
)

// app holds the stores and services shared by the subcommands.
type app struct {
	cfg    config.Config
	db     *gorm.DB
	mirror *repo.Mirror

	conversations *services.ConversationService
	sessions      *services.SessionService
	gate          *services.VerificationGate
	analytics     *services.AnalyticsService
	tokens        *auth.Issuer
}

// loadConfig reads the environment and configures the global logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	return cfg, nil
}

// openStores opens the durable store, migrates its schema and opens the
// local mirror.
func openStores(cfg config.Config) (*gorm.DB, *repo.Mirror, error) {
	db, err := repo.Open(cfg.Store.Driver, cfg.Store.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		closeDB(db)
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	mirror, err := repo.OpenMirror(cfg.Store.MirrorPath)
	if err != nil {
		closeDB(db)
		return nil, nil, fmt.Errorf("open mirror: %w", err)
	}
	return db, mirror, nil
}

// openApp opens the stores and builds the services. Missing optional
// integrations (model key, SMTP) are logged and left disabled.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	db, mirror, err := openStores(cfg)
	if err != nil {
		return nil, err
	}

	var o oracle.Oracle = oracle.Offline{}
	if g, err := oracle.NewGemini(ctx, cfg.Oracle.APIKey, cfg.Oracle.Model); err != nil {
		log.Warn().Err(err).Msg("language model disabled; conversations will use fallback replies")
	} else {
		o = g
	}

	conv := services.NewConversationService(services.NewSessionStore(db), o)
	conv.Mirror = mirror
	conv.OracleTimeout = cfg.Oracle.Timeout
	conv.MaxMessageRunes = cfg.MaxMessageRunes
	if cfg.Location.Enabled {
		conv.Locator = geo.New(cfg.Location.BaseURL, cfg.Location.Timeout)
	}

	var ch services.Channel
	smtp, err := mail.NewSMTP(mail.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		Timeout:  cfg.SMTP.Timeout,
	})
	switch {
	case errors.Is(err, mail.ErrNotConfigured):
		log.Warn().Msg("SMTP not configured; verification codes cannot be sent")
	case err != nil:
		log.Error().Err(err).Msg("SMTP setup failed; verification codes cannot be sent")
	default:
		ch = smtp
	}
	gate := services.NewVerificationGate(db, ch)
	gate.TTL = cfg.OTP.TTL
	gate.SweepInterval = cfg.OTP.SweepInterval

	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("AUTH_JWT_SECRET not set; researcher tokens will not survive a restart")
	}
	tokens, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		_ = mirror.Close()
		closeDB(db)
		return nil, err
	}

	return &app{
		cfg:           cfg,
		db:            db,
		mirror:        mirror,
		conversations: conv,
		sessions:      services.NewSessionService(db),
		gate:          gate,
		analytics:     &services.AnalyticsService{DB: db},
		tokens:        tokens,
	}, nil
}

func (a *app) Close() {
	if err := a.mirror.Close(); err != nil {
		log.Warn().Err(err).Msg("close mirror")
	}
	closeDB(a.db)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
