// Package app wires storage, the token ledger, and provider clients into
// the application's operations. Handlers pass an authenticated account id;
// the app re-fetches fresh state per operation rather than trusting any
// request-scoped copy.
package app

import (
	"fmt"
	"time"

	"musegate/pkg/ai"
	"musegate/pkg/auth"
	"musegate/pkg/domain"
	"musegate/pkg/payment"
	"musegate/pkg/storage"
	"musegate/pkg/store"
	"musegate/pkg/token"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	SessionTTL    time.Duration
	JWTSecret     string

	Packages        []domain.TokenPackage
	HistoryLimit    int
	PresignTTL      time.Duration
	RefundOnFailure bool

	Store    store.Store
	Sessions store.SessionStore
	Objects  storage.ObjectStore
	TextGen  ai.TextGenerator
	ImageGen ai.ImageGenerator
	Payments payment.Client
	Verifier auth.IdentityVerifier
}

// App is the core application service.
type App struct {
	store    store.Store
	sessions store.SessionStore
	tokens   *token.Service
	objects  storage.ObjectStore
	textGen  ai.TextGenerator
	imageGen ai.ImageGenerator
	payments payment.Client
	verifier auth.IdentityVerifier

	packages        []domain.TokenPackage
	packageByID     map[string]domain.TokenPackage
	historyLimit    int
	presignTTL      time.Duration
	refundOnFailure bool
}

// New constructs the application. Store and session fall back to Postgres
// and JWT/Redis respectively when not injected.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.PresignTTL == 0 {
		cfg.PresignTTL = 15 * time.Minute
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		switch {
		case cfg.JWTSecret != "":
			sessionStore = store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL)
		case cfg.RedisAddr != "":
			sessionStore = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
		default:
			return nil, fmt.Errorf("session store required (jwtSecret or redisAddr)")
		}
	}

	packageByID := make(map[string]domain.TokenPackage, len(cfg.Packages))
	for _, p := range cfg.Packages {
		if p.ID == "" || p.Tokens <= 0 {
			return nil, fmt.Errorf("invalid token package %q", p.ID)
		}
		packageByID[p.ID] = p
	}

	return &App{
		store:           dataStore,
		sessions:        sessionStore,
		tokens:          token.NewService(dataStore),
		objects:         cfg.Objects,
		textGen:         cfg.TextGen,
		imageGen:        cfg.ImageGen,
		payments:        cfg.Payments,
		verifier:        cfg.Verifier,
		packages:        cfg.Packages,
		packageByID:     packageByID,
		historyLimit:    cfg.HistoryLimit,
		presignTTL:      cfg.PresignTTL,
		refundOnFailure: cfg.RefundOnFailure,
	}, nil
}

// Tokens exposes the token account service.
func (a *App) Tokens() *token.Service {
	return a.tokens
}
