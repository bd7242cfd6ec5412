package app

import (
	"fmt"
	"log/slog"

	"musegate/pkg/domain"
	"musegate/pkg/store"
)

// AdminCreditTokens grants tokens to an account outside of a purchase. The
// ledger entry records which administrator acted and why.
func (a *App) AdminCreditTokens(adminID, accountID string, amount int64, note string) (int64, error) {
	if _, ok, err := a.store.GetAccountByID(accountID); err != nil {
		return 0, fmt.Errorf("fetch account: %w", err)
	} else if !ok {
		return 0, store.ErrAccountNotFound
	}
	remaining, err := a.tokens.Credit(accountID, amount, domain.LedgerTypeAdminCredit, map[string]string{
		"adminId": adminID,
		"note":    note,
	})
	if err != nil {
		return 0, err
	}
	slog.Info("admin credit", "admin_id", adminID, "account_id", accountID, "amount", amount)
	return remaining, nil
}

// AdminListLedger returns the newest ledger entries of any account.
func (a *App) AdminListLedger(accountID string, limit int) ([]domain.LedgerEntry, error) {
	if _, ok, err := a.store.GetAccountByID(accountID); err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	} else if !ok {
		return nil, store.ErrAccountNotFound
	}
	return a.tokens.History(accountID, limit)
}

// ListAccounts returns all accounts (admin operation).
func (a *App) ListAccounts() ([]domain.Account, error) {
	return a.store.ListAccounts()
}

// DeleteAccount removes an account. Outstanding sessions die on the next
// lookup; ledger entries stay for the audit trail.
func (a *App) DeleteAccount(adminID, accountID string) error {
	if adminID == accountID {
		return fmt.Errorf("cannot delete own account")
	}
	if err := a.store.DeleteAccount(accountID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	slog.Info("account deleted", "admin_id", adminID, "account_id", accountID)
	return nil
}
