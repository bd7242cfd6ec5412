package app

import (
	"fmt"
	"log/slog"

	"musegate/pkg/domain"
	"musegate/pkg/store"
)

const metadataContentItemID = "contentItemId"

// Unlock grants an account paid access to a content item. It is idempotent:
// a second call for the same pair returns alreadyUnlocked without charging.
// The debit is the financially authoritative step and happens before the
// unlock record write; a crash between the two is repaired by
// reconciliation, never by a second debit.
func (a *App) Unlock(accountID, contentItemID string) (domain.UnlockResult, error) {
	item, ok, err := a.store.GetContentItem(contentItemID)
	if err != nil {
		return domain.UnlockResult{}, fmt.Errorf("fetch content: %w", err)
	}
	if !ok || !item.Active {
		return domain.UnlockResult{}, ErrContentNotFound
	}
	account, ok, err := a.store.GetAccountByID(accountID)
	if err != nil {
		return domain.UnlockResult{}, fmt.Errorf("fetch account: %w", err)
	}
	if !ok {
		return domain.UnlockResult{}, store.ErrAccountNotFound
	}

	unlocked, err := a.store.HasUnlockRecord(accountID, contentItemID)
	if err != nil {
		return domain.UnlockResult{}, fmt.Errorf("check unlock record: %w", err)
	}
	if !unlocked {
		// A completed debit without a record means a previous attempt was
		// charged but crashed before recording. Materialize the record
		// instead of charging again.
		unlocked, err = a.repairUnlock(accountID, contentItemID)
		if err != nil {
			return domain.UnlockResult{}, err
		}
	}
	if unlocked {
		return domain.UnlockResult{TokensRemaining: account.Tokens, AlreadyUnlocked: true}, nil
	}

	// The price read above is the snapshot used for the whole operation;
	// a concurrent admin price change affects only later unlocks.
	remaining := account.Tokens
	if item.UnlockPrice > 0 {
		remaining, err = a.tokens.Debit(accountID, item.UnlockPrice, domain.LedgerTypeImageUnlock, map[string]string{
			metadataContentItemID: contentItemID,
		})
		if err != nil {
			return domain.UnlockResult{}, err
		}
	}

	if err := a.store.AddUnlockRecord(domain.UnlockRecord{
		AccountID:     accountID,
		ContentItemID: contentItemID,
	}); err != nil {
		slog.Error("unlock record write failed after debit",
			"account_id", accountID, "content_item_id", contentItemID, "err", err)
		return domain.UnlockResult{}, ErrInconsistentUnlockState
	}
	if err := a.store.IncrementUnlockCount(contentItemID); err != nil {
		// The counter tolerates eventual consistency; the unlock itself
		// already landed.
		slog.Warn("unlock counter increment failed",
			"content_item_id", contentItemID, "err", err)
	}
	return domain.UnlockResult{TokensRemaining: remaining, AlreadyUnlocked: false}, nil
}

// repairUnlock materializes a missing unlock record when a completed
// image_unlock ledger entry exists for the pair. Returns whether the pair
// is now unlocked.
func (a *App) repairUnlock(accountID, contentItemID string) (bool, error) {
	entries, err := a.store.ListLedgerEntriesByType(accountID, domain.LedgerTypeImageUnlock, domain.LedgerStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("scan ledger: %w", err)
	}
	for _, e := range entries {
		if e.Metadata[metadataContentItemID] != contentItemID {
			continue
		}
		if err := a.store.AddUnlockRecord(domain.UnlockRecord{
			AccountID:     accountID,
			ContentItemID: contentItemID,
			CreatedAt:     e.CreatedAt,
		}); err != nil {
			return false, fmt.Errorf("materialize unlock record: %w", err)
		}
		slog.Info("reconciled missing unlock record",
			"account_id", accountID, "content_item_id", contentItemID, "ledger_entry_id", e.ID)
		return true, nil
	}
	return false, nil
}

// ListUnlocks returns an account's unlock records.
func (a *App) ListUnlocks(accountID string) ([]domain.UnlockRecord, error) {
	return a.store.ListUnlockRecords(accountID)
}

// ReconcileUnlocks repairs charged-but-not-unlocked state across all
// accounts: every completed image_unlock ledger entry must have a matching
// unlock record. Run periodically; each repair is an idempotent insert.
func (a *App) ReconcileUnlocks() error {
	accounts, err := a.store.ListAccounts()
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, account := range accounts {
		entries, err := a.store.ListLedgerEntriesByType(account.ID, domain.LedgerTypeImageUnlock, domain.LedgerStatusCompleted)
		if err != nil {
			return fmt.Errorf("scan ledger for %s: %w", account.ID, err)
		}
		for _, e := range entries {
			itemID := e.Metadata[metadataContentItemID]
			if itemID == "" {
				continue
			}
			unlocked, err := a.store.HasUnlockRecord(account.ID, itemID)
			if err != nil {
				return fmt.Errorf("check unlock record: %w", err)
			}
			if unlocked {
				continue
			}
			if err := a.store.AddUnlockRecord(domain.UnlockRecord{
				AccountID:     account.ID,
				ContentItemID: itemID,
				CreatedAt:     e.CreatedAt,
			}); err != nil {
				return fmt.Errorf("materialize unlock record: %w", err)
			}
			slog.Info("reconciled missing unlock record",
				"account_id", account.ID, "content_item_id", itemID, "ledger_entry_id", e.ID)
		}
	}
	return nil
}
