package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"

	"musegate/pkg/domain"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	// One named in-memory database per test keeps them isolated while the
	// connection pool shares the same data.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := NewGormStoreWithDialector(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return s
}

func saveAccount(t *testing.T, s *GormStore, id string, tokens int64) {
	t.Helper()
	now := time.Now().UTC()
	err := s.SaveAccount(domain.Account{
		ID:        id,
		Username:  id,
		Email:     id + "@example.com",
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("save account: %v", err)
	}
	if tokens > 0 {
		if _, err := s.CreditTokens(id, tokens, testEntry(id, domain.LedgerTypeAdminCredit)); err != nil {
			t.Fatalf("seed tokens: %v", err)
		}
	}
}

var entrySeq int

func testEntry(accountID string, t domain.LedgerType) domain.LedgerEntry {
	entrySeq++
	return domain.LedgerEntry{
		ID:        fmt.Sprintf("entry-%d", entrySeq),
		AccountID: accountID,
		Type:      t,
		Currency:  "TOKEN",
		CreatedAt: time.Now().UTC(),
	}
}

func TestGormDebitPairsBalanceAndLedger(t *testing.T) {
	s := newSQLiteStore(t)
	saveAccount(t, s, "acc-debit", 10)

	entry, err := s.DebitTokens("acc-debit", 4, testEntry("acc-debit", domain.LedgerTypeImageUnlock))
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if entry.Amount != -4 || entry.TokensBefore != 10 || entry.TokensAfter != 6 {
		t.Fatalf("unexpected entry: amount=%d before=%d after=%d", entry.Amount, entry.TokensBefore, entry.TokensAfter)
	}
	if entry.Status != domain.LedgerStatusCompleted || entry.ProcessedAt == nil {
		t.Fatalf("unexpected entry status: %s processedAt=%v", entry.Status, entry.ProcessedAt)
	}

	account, ok, err := s.GetAccountByID("acc-debit")
	if err != nil || !ok {
		t.Fatalf("fetch account: ok=%v err=%v", ok, err)
	}
	if account.Tokens != 6 {
		t.Fatalf("expected balance 6, got %d", account.Tokens)
	}
}

func TestGormDebitInsufficientLeavesNoTrace(t *testing.T) {
	s := newSQLiteStore(t)
	saveAccount(t, s, "acc-poor", 3)

	_, err := s.DebitTokens("acc-poor", 5, testEntry("acc-poor", domain.LedgerTypeImageUnlock))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	account, _, err := s.GetAccountByID("acc-poor")
	if err != nil {
		t.Fatalf("fetch account: %v", err)
	}
	if account.Tokens != 3 {
		t.Fatalf("rejected debit must not change balance, got %d", account.Tokens)
	}
	entries, err := s.ListLedgerEntries("acc-poor", 10)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 1 { // only the seed credit
		t.Fatalf("rejected debit must not write an entry, got %d", len(entries))
	}
}

func TestGormDebitUnknownAccount(t *testing.T) {
	s := newSQLiteStore(t)
	_, err := s.DebitTokens("ghost", 1, testEntry("ghost", domain.LedgerTypeImageUnlock))
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestGormSaveAccountDoesNotResetBalance(t *testing.T) {
	s := newSQLiteStore(t)
	saveAccount(t, s, "acc-upd", 7)

	account, _, err := s.GetAccountByID("acc-upd")
	if err != nil {
		t.Fatalf("fetch account: %v", err)
	}
	account.DisplayName = "renamed"
	if err := s.SaveAccount(account); err != nil {
		t.Fatalf("save account: %v", err)
	}
	updated, _, err := s.GetAccountByID("acc-upd")
	if err != nil {
		t.Fatalf("fetch account: %v", err)
	}
	if updated.DisplayName != "renamed" {
		t.Fatalf("expected rename to stick, got %q", updated.DisplayName)
	}
	if updated.Tokens != 7 {
		t.Fatalf("profile update must not touch balance, got %d", updated.Tokens)
	}
}

func TestGormUnlockRecordIdempotent(t *testing.T) {
	s := newSQLiteStore(t)
	saveAccount(t, s, "acc-unlock", 0)

	record := domain.UnlockRecord{AccountID: "acc-unlock", ContentItemID: "item-1"}
	if err := s.AddUnlockRecord(record); err != nil {
		t.Fatalf("add unlock record: %v", err)
	}
	if err := s.AddUnlockRecord(record); err != nil {
		t.Fatalf("second add must be a no-op, got %v", err)
	}
	records, err := s.ListUnlockRecords("acc-unlock")
	if err != nil {
		t.Fatalf("list unlock records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	ok, err := s.HasUnlockRecord("acc-unlock", "item-1")
	if err != nil || !ok {
		t.Fatalf("expected unlock record to exist: ok=%v err=%v", ok, err)
	}
}

func TestGormIncrementUnlockCount(t *testing.T) {
	s := newSQLiteStore(t)
	now := time.Now().UTC()
	item := domain.ContentItem{
		ID:          "item-1",
		UploaderID:  "acc-x",
		Title:       "sunset",
		ObjectKey:   "content/item-1",
		UnlockPrice: 5,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.SaveContentItem(item); err != nil {
		t.Fatalf("save content item: %v", err)
	}
	if err := s.IncrementUnlockCount("item-1"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	got, ok, err := s.GetContentItem("item-1")
	if err != nil || !ok {
		t.Fatalf("fetch content item: ok=%v err=%v", ok, err)
	}
	if got.UnlockCount != 1 {
		t.Fatalf("expected unlock count 1, got %d", got.UnlockCount)
	}
	if err := s.IncrementUnlockCount("missing"); !errors.Is(err, ErrContentItemNotFound) {
		t.Fatalf("expected ErrContentItemNotFound, got %v", err)
	}
}

func TestGormLedgerMetadataRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	saveAccount(t, s, "acc-meta", 0)

	entry := testEntry("acc-meta", domain.LedgerTypeImageUnlock)
	entry.Metadata = map[string]string{"contentItemId": "item-9"}
	if _, err := s.CreditTokens("acc-meta", 2, entry); err != nil {
		t.Fatalf("credit: %v", err)
	}
	entries, err := s.ListLedgerEntriesByType("acc-meta", domain.LedgerTypeImageUnlock, domain.LedgerStatusCompleted)
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Metadata["contentItemId"] != "item-9" {
		t.Fatalf("metadata lost: %v", entries[0].Metadata)
	}
}
