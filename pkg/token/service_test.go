package token

import (
	"errors"
	"sync"
	"testing"
	"time"

	"musegate/pkg/domain"
	"musegate/pkg/store"
)

func newTestAccount(t *testing.T, s *store.MemoryStore, id string) {
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
}

func TestCreditWritesSnapshotLedgerEntry(t *testing.T) {
	s := store.NewMemoryStore()
	newTestAccount(t, s, "acc-1")
	svc := NewService(s)

	balance, err := svc.Credit("acc-1", 50, domain.LedgerTypeTokenPurchase, map[string]string{"orderId": "o-1"})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if balance != 50 {
		t.Fatalf("expected balance 50, got %d", balance)
	}

	entries, err := svc.History("acc-1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Amount != 50 || e.TokensBefore != 0 || e.TokensAfter != 50 {
		t.Fatalf("unexpected snapshot: amount=%d before=%d after=%d", e.Amount, e.TokensBefore, e.TokensAfter)
	}
	if e.Status != domain.LedgerStatusCompleted {
		t.Fatalf("expected completed status, got %s", e.Status)
	}
	if e.Metadata["orderId"] != "o-1" {
		t.Fatalf("expected metadata to survive, got %v", e.Metadata)
	}
	if e.ProcessedAt == nil {
		t.Fatal("expected processedAt to be set")
	}
}

func TestDebitRecordsNegativeAmount(t *testing.T) {
	s := store.NewMemoryStore()
	newTestAccount(t, s, "acc-1")
	svc := NewService(s)

	if _, err := svc.Credit("acc-1", 10, domain.LedgerTypeAdminCredit, nil); err != nil {
		t.Fatalf("credit: %v", err)
	}
	balance, err := svc.Debit("acc-1", 3, domain.LedgerTypeImageUnlock, nil)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if balance != 7 {
		t.Fatalf("expected balance 7, got %d", balance)
	}
	entries, err := svc.History("acc-1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Newest first.
	e := entries[0]
	if e.Amount != -3 || e.TokensBefore != 10 || e.TokensAfter != 7 {
		t.Fatalf("unexpected debit snapshot: amount=%d before=%d after=%d", e.Amount, e.TokensBefore, e.TokensAfter)
	}
}

func TestRejectedDebitLeavesNoTrace(t *testing.T) {
	s := store.NewMemoryStore()
	newTestAccount(t, s, "acc-1")
	svc := NewService(s)

	if _, err := svc.Credit("acc-1", 2, domain.LedgerTypeAdminCredit, nil); err != nil {
		t.Fatalf("credit: %v", err)
	}
	_, err := svc.Debit("acc-1", 5, domain.LedgerTypeImageUnlock, nil)
	ibe, ok := AsInsufficientBalance(err)
	if !ok {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if ibe.Required != 5 || ibe.Available != 2 {
		t.Fatalf("unexpected shortfall: required=%d available=%d", ibe.Required, ibe.Available)
	}

	balance, err := svc.Balance("acc-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 2 {
		t.Fatalf("rejected debit must not change balance, got %d", balance)
	}
	entries, err := svc.History("acc-1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("rejected debit must not write a ledger entry, got %d entries", len(entries))
	}
}

func TestInvalidAmounts(t *testing.T) {
	s := store.NewMemoryStore()
	newTestAccount(t, s, "acc-1")
	svc := NewService(s)

	for _, amount := range []int64{0, -5} {
		if _, err := svc.Credit("acc-1", amount, domain.LedgerTypeAdminCredit, nil); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("credit %d: expected ErrInvalidAmount, got %v", amount, err)
		}
		if _, err := svc.Debit("acc-1", amount, domain.LedgerTypeImageUnlock, nil); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("debit %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestUnknownAccount(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	if _, err := svc.Credit("nope", 5, domain.LedgerTypeAdminCredit, nil); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := svc.Balance("nope"); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := store.NewMemoryStore()
	newTestAccount(t, s, "acc-1")
	svc := NewService(s)

	const initial = 10
	const attempts = 25
	if _, err := svc.Credit("acc-1", initial, domain.LedgerTypeAdminCredit, nil); err != nil {
		t.Fatalf("credit: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit("acc-1", 1, domain.LedgerTypeGeneration, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		if _, ok := AsInsufficientBalance(err); !ok {
			t.Fatalf("unexpected debit error: %v", err)
		}
	}
	if succeeded != initial {
		t.Fatalf("expected exactly %d successful debits, got %d", initial, succeeded)
	}
	balance, err := svc.Balance("acc-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected zero balance, got %d", balance)
	}

	// Every completed entry must chain: sorted oldest-to-newest the after
	// of one equals the before of the next.
	entries, err := svc.History("acc-1", attempts+1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != initial+1 {
		t.Fatalf("expected %d entries, got %d", initial+1, len(entries))
	}
	for i := len(entries) - 1; i > 0; i-- {
		older, newer := entries[i], entries[i-1]
		if older.TokensAfter != newer.TokensBefore {
			t.Fatalf("ledger snapshots do not chain: %d -> %d", older.TokensAfter, newer.TokensBefore)
		}
	}
}

func TestRecordFailedAttemptDoesNotTouchBalance(t *testing.T) {
	s := store.NewMemoryStore()
	newTestAccount(t, s, "acc-1")
	svc := NewService(s)

	if _, err := svc.Credit("acc-1", 5, domain.LedgerTypeAdminCredit, nil); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := svc.RecordFailedAttempt("acc-1", domain.LedgerTypeTokenPurchase, map[string]string{"orderId": "o-9"}); err != nil {
		t.Fatalf("record failed attempt: %v", err)
	}

	balance, err := svc.Balance("acc-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 5 {
		t.Fatalf("failed attempt must not change balance, got %d", balance)
	}
	entries, err := svc.History("acc-1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	failed := entries[0]
	if failed.Status != domain.LedgerStatusFailed || failed.Amount != 0 {
		t.Fatalf("unexpected failed entry: status=%s amount=%d", failed.Status, failed.Amount)
	}
}
