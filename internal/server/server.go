// Package server exposes the HTTP API. Handlers decode and validate
// requests, then delegate to the app; every business rule lives below this
// layer.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"musegate/internal/app"
	"musegate/internal/ratelimit"
	"musegate/internal/util"
	"musegate/pkg/auth"
	"musegate/pkg/domain"
	"musegate/pkg/store"
	"musegate/pkg/token"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	// AuthLimiter throttles credential endpoints per client IP. Nil disables
	// throttling (tests, single-user setups).
	AuthLimiter    *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies

	// MaxUploadBytes caps content upload size. Zero means 10 MiB.
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the application.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	authLimiter    *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		authLimiter:    cfg.AuthLimiter,
		trustedProxies: cfg.TrustedProxies,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = 10 << 20
	}
	s.routes()
	return s
}

// Router returns the configured handler wrapped with the shared middleware
// chain.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithRequestLog(h)
	h = util.WithSecurityHeaders(h)
	h = util.WithCORS(h)
	h = util.WithRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.Handle("/auth/signup", s.rateLimited(s.handleSignup))
	s.mux.Handle("/auth/login", s.rateLimited(s.handleLogin))
	s.mux.Handle("/auth/oauth", s.rateLimited(s.handleOAuthLogin))
	s.mux.HandleFunc("/auth/logout", s.handleLogout)
	s.mux.Handle("/auth/me", s.authenticated(s.handleMe))
	s.mux.Handle("/auth/me/password", s.authenticated(s.handleChangePassword))
	s.mux.Handle("/auth/me/age", s.authenticated(s.handleAgeVerify))

	// tokens
	s.mux.Handle("/tokens/balance", s.authenticated(s.handleBalance))
	s.mux.Handle("/tokens/ledger", s.authenticated(s.handleLedger))

	// purchases
	s.mux.HandleFunc("/packages", s.handlePackages)
	s.mux.Handle("/purchases/orders", s.authenticated(s.handleCreateOrder))
	s.mux.Handle("/purchases/capture", s.authenticated(s.handleCapture))

	// content
	s.mux.Handle("/content", s.authenticated(s.handleContent))
	s.mux.Handle("/content/", s.authenticated(s.handleContentByID))
	s.mux.Handle("/unlocks", s.authenticated(s.handleUnlocks))

	// generation and chat
	s.mux.Handle("/generate", s.authenticated(s.handleGenerate))
	s.mux.Handle("/characters", s.authenticated(s.handleCharacters))
	s.mux.Handle("/chats", s.authenticated(s.handleChats))
	s.mux.Handle("/chats/", s.authenticated(s.handleChatByID))

	// admin
	s.mux.Handle("/admin/accounts", s.adminOnly(s.handleAdminAccounts))
	s.mux.Handle("/admin/accounts/", s.adminOnly(s.handleAdminAccountByID))
	s.mux.Handle("/admin/content/", s.adminOnly(s.handleAdminContentByID))
	s.mux.Handle("/admin/characters", s.adminOnly(s.handleAdminCharacters))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.Account)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, account)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, account domain.Account) {
		if !account.Admin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, account)
	})
}

func (s *Server) rateLimited(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authLimiter != nil {
			if !s.authLimiter.Allow(util.ClientIP(r, s.trustedProxies)) {
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
		}
		next(w, r)
	})
}

func (s *Server) authorize(r *http.Request) (domain.Account, bool) {
	sessionToken, ok := bearerToken(r)
	if !ok {
		return domain.Account{}, false
	}
	return s.app.AccountFromToken(sessionToken)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	t := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if t == "" {
		return "", false
	}
	return t, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps app-layer errors onto HTTP statuses. Insufficient
// balance gets 402 with the shortfall so clients can render "need N more
// tokens".
func writeAppError(w http.ResponseWriter, err error) {
	if ibe, ok := token.AsInsufficientBalance(err); ok {
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":     "insufficient token balance",
			"required":  ibe.Required,
			"available": ibe.Available,
		})
		return
	}
	var provErr *app.ProviderError
	switch {
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrEmailAlreadyExists),
		errors.Is(err, app.ErrUsernameAlreadyExists),
		errors.Is(err, app.ErrInconsistentUnlockState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrContentNotFound),
		errors.Is(err, app.ErrCharacterNotFound),
		errors.Is(err, app.ErrConversationNotFound),
		errors.Is(err, store.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrPaymentNotCompleted):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, app.ErrSignupFieldsRequired),
		errors.Is(err, app.ErrPasswordNotSet),
		errors.Is(err, app.ErrUnknownPackage),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, token.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &provErr):
		writeError(w, http.StatusBadGateway, "upstream provider error")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
