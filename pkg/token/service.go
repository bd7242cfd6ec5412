// Package token is the single authority for reading and mutating account
// token balances. Every mutation goes through Credit or Debit, which pair
// the balance change with a completed ledger entry carrying before/after
// snapshots. The store applies both as one atomic unit, and serializes
// operations per account, so concurrent calls never observe a stale balance
// and a rejected debit leaves no trace.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"musegate/pkg/domain"
	"musegate/pkg/store"
)

// Service mediates all token balance reads and writes.
type Service struct {
	store store.Store
}

// NewService builds the token account service on a store.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Balance returns the current token balance of an account.
func (s *Service) Balance(accountID string) (int64, error) {
	account, ok, err := s.store.GetAccountByID(accountID)
	if err != nil {
		return 0, fmt.Errorf("fetch account: %w", err)
	}
	if !ok {
		return 0, store.ErrAccountNotFound
	}
	return account.Tokens, nil
}

// Credit atomically increases the balance by amount and writes the paired
// completed ledger entry. It returns the new balance.
func (s *Service) Credit(accountID string, amount int64, reason domain.LedgerType, metadata map[string]string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	entry := s.newEntry(accountID, reason, metadata)
	entry, err := s.store.CreditTokens(accountID, amount, entry)
	if err != nil {
		return 0, err
	}
	return entry.TokensAfter, nil
}

// Debit atomically decreases the balance by amount when the balance covers
// it, writing the paired completed ledger entry. A rejected debit mutates
// nothing and writes nothing; the error carries required vs available.
func (s *Service) Debit(accountID string, amount int64, reason domain.LedgerType, metadata map[string]string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	entry := s.newEntry(accountID, reason, metadata)
	entry, err := s.store.DebitTokens(accountID, amount, entry)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			available, balErr := s.Balance(accountID)
			if balErr != nil {
				return 0, balErr
			}
			return 0, &InsufficientBalanceError{Required: amount, Available: available}
		}
		return 0, err
	}
	return entry.TokensAfter, nil
}

// RecordFailedAttempt writes a failed-status ledger entry without touching
// the balance. Used when an external payment step fails after a purchase
// was initiated.
func (s *Service) RecordFailedAttempt(accountID string, reason domain.LedgerType, metadata map[string]string) error {
	entry := s.newEntry(accountID, reason, metadata)
	entry.Status = domain.LedgerStatusFailed
	if err := s.store.AppendLedgerEntry(entry); err != nil {
		return fmt.Errorf("append failed entry: %w", err)
	}
	return nil
}

// History returns the newest ledger entries for an account.
func (s *Service) History(accountID string, limit int) ([]domain.LedgerEntry, error) {
	return s.store.ListLedgerEntries(accountID, limit)
}

func (s *Service) newEntry(accountID string, reason domain.LedgerType, metadata map[string]string) domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Type:        reason,
		Currency:    "TOKEN",
		Description: describe(reason),
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
}

func describe(reason domain.LedgerType) string {
	switch reason {
	case domain.LedgerTypeTokenPurchase:
		return "token package purchase"
	case domain.LedgerTypeImageUnlock:
		return "image unlock"
	case domain.LedgerTypeAdminCredit:
		return "administrator credit"
	case domain.LedgerTypeGeneration:
		return "generation call"
	default:
		return string(reason)
	}
}
