package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"musegate/internal/util"
	"musegate/pkg/auth"
	"musegate/pkg/domain"
	"musegate/pkg/store"
)

// SignUp registers a new account with a password credential. The first
// account ever created becomes an administrator.
func (a *App) SignUp(displayName, username, email, password string) (domain.Account, string, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	email = strings.TrimSpace(strings.ToLower(email))
	if username == "" || email == "" || password == "" {
		return domain.Account{}, "", ErrSignupFieldsRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.Account{}, "", err
	}
	if exists, err := a.store.HasAccountEmail(email); err != nil {
		return domain.Account{}, "", fmt.Errorf("check email: %w", err)
	} else if exists {
		return domain.Account{}, "", ErrEmailAlreadyExists
	}
	if exists, err := a.store.HasAccountUsername(username); err != nil {
		return domain.Account{}, "", fmt.Errorf("check username: %w", err)
	} else if exists {
		return domain.Account{}, "", ErrUsernameAlreadyExists
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Account{}, "", fmt.Errorf("hash password: %w", err)
	}
	account, err := a.createAccount(displayName, username, email, passwordHash)
	if err != nil {
		return domain.Account{}, "", err
	}
	return a.issueSession(account)
}

// Login validates credentials (username or email) and issues a session.
func (a *App) Login(identifier, password string) (domain.Account, string, error) {
	identifier = strings.TrimSpace(strings.ToLower(identifier))
	account, ok, err := a.store.GetAccountByUsername(identifier)
	if err != nil {
		return domain.Account{}, "", fmt.Errorf("fetch account: %w", err)
	}
	if !ok {
		account, ok, err = a.store.GetAccountByEmail(identifier)
		if err != nil {
			return domain.Account{}, "", fmt.Errorf("fetch account: %w", err)
		}
	}
	if !ok {
		return domain.Account{}, "", ErrInvalidCredentials
	}
	if !account.HasPassword() {
		return domain.Account{}, "", ErrPasswordNotSet
	}
	if !auth.CheckPassword(password, account.PasswordHash) {
		return domain.Account{}, "", ErrInvalidCredentials
	}
	return a.issueSession(account)
}

// OAuthLogin verifies a provider credential and signs the caller in,
// creating the account on first callback. At most one account exists per
// (provider, providerId) pair and per email.
func (a *App) OAuthLogin(ctx context.Context, provider, credential string) (domain.Account, string, error) {
	if a.verifier == nil {
		return domain.Account{}, "", fmt.Errorf("oauth login not configured")
	}
	claim, err := a.verifier.Verify(ctx, provider, credential)
	if err != nil {
		return domain.Account{}, "", &ProviderError{Provider: provider, Err: err}
	}

	account, ok, err := a.store.GetAccountByIdentity(claim.Provider, claim.ProviderID)
	if err != nil {
		return domain.Account{}, "", fmt.Errorf("fetch account: %w", err)
	}
	if ok {
		return a.issueSession(account)
	}

	// Link to an existing account with the same verified email, otherwise
	// create a passwordless account.
	if claim.Email != "" {
		account, ok, err = a.store.GetAccountByEmail(claim.Email)
		if err != nil {
			return domain.Account{}, "", fmt.Errorf("fetch account: %w", err)
		}
	}
	if !ok {
		username, err := a.uniqueUsername(claim)
		if err != nil {
			return domain.Account{}, "", err
		}
		account, err = a.createAccount(claim.Name, username, claim.Email, "")
		if err != nil {
			return domain.Account{}, "", err
		}
	}
	if err := a.store.LinkIdentity(account.ID, domain.Identity{
		Provider:   claim.Provider,
		ProviderID: claim.ProviderID,
	}); err != nil {
		return domain.Account{}, "", fmt.Errorf("link identity: %w", err)
	}
	return a.issueSession(account)
}

func (a *App) uniqueUsername(claim auth.IdentityClaim) (string, error) {
	base := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(claim.Name), " ", ""))
	if base == "" {
		if at := strings.Index(claim.Email, "@"); at > 0 {
			base = claim.Email[:at]
		} else {
			base = claim.Provider
		}
	}
	candidate := base
	for i := 0; i < 5; i++ {
		exists, err := a.store.HasAccountUsername(candidate)
		if err != nil {
			return "", fmt.Errorf("check username: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = base + util.NewID()[:6]
	}
	return "", fmt.Errorf("could not derive a unique username")
}

func (a *App) createAccount(displayName, username, email, passwordHash string) (domain.Account, error) {
	count, err := a.store.AccountCount()
	if err != nil {
		return domain.Account{}, fmt.Errorf("count accounts: %w", err)
	}
	if displayName == "" {
		displayName = username
	}
	now := time.Now().UTC()
	account := domain.Account{
		ID:           util.NewID(),
		DisplayName:  displayName,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Admin:        count == 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveAccount(account); err != nil {
		return domain.Account{}, fmt.Errorf("save account: %w", err)
	}
	return account, nil
}

func (a *App) issueSession(account domain.Account) (domain.Account, string, error) {
	sessionToken, err := a.sessions.NewSession(account.ID)
	if err != nil {
		return domain.Account{}, "", fmt.Errorf("issue session: %w", err)
	}
	return account, sessionToken, nil
}

// AccountFromToken resolves an account from a session token.
func (a *App) AccountFromToken(sessionToken string) (domain.Account, bool) {
	id, ok, err := a.sessions.GetAccountIDByToken(sessionToken)
	if err != nil || !ok {
		return domain.Account{}, false
	}
	account, found, err := a.store.GetAccountByID(id)
	if err != nil || !found {
		return domain.Account{}, false
	}
	return account, true
}

// Logout removes a session token.
func (a *App) Logout(sessionToken string) error {
	return a.sessions.DeleteSession(sessionToken)
}

// ChangePassword rotates the password after verifying the current one.
func (a *App) ChangePassword(accountID, currentPassword, newPassword string) error {
	account, ok, err := a.store.GetAccountByID(accountID)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	if !ok {
		return store.ErrAccountNotFound
	}
	if !account.HasPassword() {
		return ErrPasswordNotSet
	}
	if !auth.CheckPassword(currentPassword, account.PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	account.PasswordHash = hash
	account.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveAccount(account); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

// SetAgeVerified flags an account as age-verified.
func (a *App) SetAgeVerified(accountID string) error {
	account, ok, err := a.store.GetAccountByID(accountID)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	if !ok {
		return store.ErrAccountNotFound
	}
	account.AgeVerified = true
	account.UpdatedAt = time.Now().UTC()
	return a.store.SaveAccount(account)
}
