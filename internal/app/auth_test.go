package app

import (
	"context"
	"errors"
	"testing"

	"musegate/pkg/auth"
)

const testPassword = "Sup3r-secret!"

type fakeVerifier struct {
	claim auth.IdentityClaim
	err   error
}

func (f *fakeVerifier) Verify(context.Context, string, string) (auth.IdentityClaim, error) {
	if f.err != nil {
		return auth.IdentityClaim{}, f.err
	}
	return f.claim, nil
}

func TestSignUpAndLogin(t *testing.T) {
	env := newTestApp(t, nil)

	account, sessionToken, err := env.app.SignUp("Pam", "pam", "pam@example.com", testPassword)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if sessionToken == "" {
		t.Fatal("expected a session token")
	}
	if !account.Admin {
		t.Fatal("first account must be admin")
	}
	if account.Tokens != 0 {
		t.Fatalf("new accounts start with zero tokens, got %d", account.Tokens)
	}

	// Login by username and by email.
	for _, identifier := range []string{"pam", "PAM@example.com"} {
		got, loginToken, err := env.app.Login(identifier, testPassword)
		if err != nil {
			t.Fatalf("login %q: %v", identifier, err)
		}
		if got.ID != account.ID || loginToken == "" {
			t.Fatalf("unexpected login result for %q", identifier)
		}
	}

	if _, _, err := env.app.Login("pam", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	// Second signup is not admin.
	second, _, err := env.app.SignUp("Quinn", "quinn", "quinn@example.com", testPassword)
	if err != nil {
		t.Fatalf("second signup: %v", err)
	}
	if second.Admin {
		t.Fatal("second account must not be admin")
	}
}

func TestSignUpRejectsDuplicates(t *testing.T) {
	env := newTestApp(t, nil)
	if _, _, err := env.app.SignUp("Pam", "pam", "pam@example.com", testPassword); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, _, err := env.app.SignUp("Other", "pam", "other@example.com", testPassword); !errors.Is(err, ErrUsernameAlreadyExists) {
		t.Fatalf("expected ErrUsernameAlreadyExists, got %v", err)
	}
	if _, _, err := env.app.SignUp("Other", "other", "pam@example.com", testPassword); !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
}

func TestSignUpRejectsWeakPassword(t *testing.T) {
	env := newTestApp(t, nil)
	if _, _, err := env.app.SignUp("Pam", "pam", "pam@example.com", "short"); !errors.Is(err, auth.ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	env := newTestApp(t, nil)
	account, sessionToken, err := env.app.SignUp("Pam", "pam", "pam@example.com", testPassword)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	got, ok := env.app.AccountFromToken(sessionToken)
	if !ok || got.ID != account.ID {
		t.Fatalf("expected session to resolve: ok=%v", ok)
	}
	if _, ok := env.app.AccountFromToken("garbage"); ok {
		t.Fatal("garbage token must not resolve")
	}
}

func TestOAuthLoginCreatesAndReusesAccount(t *testing.T) {
	verifier := &fakeVerifier{claim: auth.IdentityClaim{
		Provider:   "google",
		ProviderID: "g-123",
		Email:      "rita@example.com",
		Name:       "Rita",
	}}
	env := newTestApp(t, func(cfg *Config) { cfg.Verifier = verifier })

	account, sessionToken, err := env.app.OAuthLogin(context.Background(), "google", "credential")
	if err != nil {
		t.Fatalf("oauth login: %v", err)
	}
	if sessionToken == "" || account.Email != "rita@example.com" {
		t.Fatalf("unexpected oauth account: %+v", account)
	}
	if account.HasPassword() {
		t.Fatal("oauth-created accounts must be passwordless")
	}

	// Second login resolves the same account via the linked identity.
	again, _, err := env.app.OAuthLogin(context.Background(), "google", "credential")
	if err != nil {
		t.Fatalf("second oauth login: %v", err)
	}
	if again.ID != account.ID {
		t.Fatalf("expected same account, got %s and %s", account.ID, again.ID)
	}

	if _, _, err := env.app.Login("rita", testPassword); !errors.Is(err, ErrPasswordNotSet) {
		t.Fatalf("expected ErrPasswordNotSet, got %v", err)
	}
}

func TestOAuthLoginLinksByEmail(t *testing.T) {
	verifier := &fakeVerifier{claim: auth.IdentityClaim{
		Provider:   "google",
		ProviderID: "g-456",
		Email:      "pam@example.com",
		Name:       "Pam",
	}}
	env := newTestApp(t, func(cfg *Config) { cfg.Verifier = verifier })

	existing, _, err := env.app.SignUp("Pam", "pam", "pam@example.com", testPassword)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	linked, _, err := env.app.OAuthLogin(context.Background(), "google", "credential")
	if err != nil {
		t.Fatalf("oauth login: %v", err)
	}
	if linked.ID != existing.ID {
		t.Fatalf("expected oauth to link the existing account, got %s and %s", linked.ID, existing.ID)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestApp(t, nil)
	account, _, err := env.app.SignUp("Pam", "pam", "pam@example.com", testPassword)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	const newPassword = "An0ther-secret!"
	if err := env.app.ChangePassword(account.ID, "wrong", newPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := env.app.ChangePassword(account.ID, testPassword, newPassword); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, _, err := env.app.Login("pam", newPassword); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, _, err := env.app.Login("pam", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
}
