package app

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when the supplied credentials do not
	// match. The message is shown to end users and must not enable account
	// enumeration.
	ErrInvalidCredentials = errors.New("incorrect username, email, or password")

	ErrEmailAlreadyExists    = errors.New("email already exists")
	ErrUsernameAlreadyExists = errors.New("username already exists")
	ErrSignupFieldsRequired  = errors.New("username, email, and password required")
	ErrPasswordNotSet        = errors.New("account has no password credential")

	// ErrContentNotFound covers both missing and deactivated items; callers
	// cannot tell the two apart.
	ErrContentNotFound = errors.New("content not found")

	ErrCharacterNotFound    = errors.New("character not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUnknownPackage       = errors.New("unknown token package")
	ErrForbidden            = errors.New("forbidden")

	// ErrPaymentNotCompleted is returned when the provider reports a capture
	// status other than completed. The balance is untouched.
	ErrPaymentNotCompleted = errors.New("payment was not completed")

	// ErrInconsistentUnlockState marks a charged-but-not-unlocked account:
	// the debit landed but the unlock record write failed. The next unlock
	// attempt or the reconciler repairs it without re-charging.
	ErrInconsistentUnlockState = errors.New("unlock state inconsistent; retry to repair")
)

// ProviderError wraps any external-service failure. Handlers surface a
// generic retry-safe message and keep provider detail in logs.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
