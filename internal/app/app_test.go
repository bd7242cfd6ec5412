package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"musegate/pkg/domain"
	"musegate/pkg/payment"
	"musegate/pkg/store"
	"musegate/pkg/token"
)

// fakeObjects keeps objects in a map and hands out deterministic URLs.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return "", fmt.Errorf("object %s not found", key)
	}
	return "https://objects.test/" + key, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

type fakeImageGen struct {
	calls int
	err   error
}

func (f *fakeImageGen) GenerateImage(context.Context, string) ([]byte, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte{0x89, 0x50, 0x4e, 0x47}, "image/png", nil
}

type fakeTextGen struct {
	reply string
	err   error
}

func (f *fakeTextGen) GenerateText(context.Context, string, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

// fakePayments returns scripted capture verdicts per order id.
type fakePayments struct {
	captures map[string]payment.Capture
	err      error
}

func (f *fakePayments) CreateOrder(_ context.Context, _, _, _ string) (payment.Order, error) {
	if f.err != nil {
		return payment.Order{}, f.err
	}
	return payment.Order{ID: "order-1", Status: "CREATED"}, nil
}

func (f *fakePayments) CaptureOrder(_ context.Context, orderID string) (payment.Capture, error) {
	if f.err != nil {
		return payment.Capture{}, f.err
	}
	capture, ok := f.captures[orderID]
	if !ok {
		return payment.Capture{}, &payment.APIError{Status: 404, Message: "order not found"}
	}
	return capture, nil
}

type testEnv struct {
	app      *App
	store    *store.MemoryStore
	objects  *fakeObjects
	imageGen *fakeImageGen
	textGen  *fakeTextGen
	payments *fakePayments
}

func newTestApp(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    store.NewMemoryStore(),
		objects:  newFakeObjects(),
		imageGen: &fakeImageGen{},
		textGen:  &fakeTextGen{reply: "hello there"},
		payments: &fakePayments{captures: map[string]payment.Capture{}},
	}
	cfg := Config{
		JWTSecret:  "0123456789abcdef0123456789abcdef",
		SessionTTL: time.Hour,
		Packages: []domain.TokenPackage{
			{ID: "starter", Tokens: 50, Price: "4.99", Currency: "USD"},
		},
		Store:    env.store,
		Objects:  env.objects,
		TextGen:  env.textGen,
		ImageGen: env.imageGen,
		Payments: env.payments,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	env.app = a
	return env
}

func (e *testEnv) addAccount(t *testing.T, id string, tokens int64) {
	t.Helper()
	now := time.Now().UTC()
	err := e.store.SaveAccount(domain.Account{
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
		if _, err := e.app.Tokens().Credit(id, tokens, domain.LedgerTypeAdminCredit, nil); err != nil {
			t.Fatalf("seed tokens: %v", err)
		}
	}
}

func (e *testEnv) addContent(t *testing.T, id string, price int64) {
	t.Helper()
	now := time.Now().UTC()
	err := e.store.SaveContentItem(domain.ContentItem{
		ID:          id,
		UploaderID:  "uploader",
		Title:       "item " + id,
		ObjectKey:   "content/" + id,
		ContentType: "image/jpeg",
		UnlockPrice: price,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("save content item: %v", err)
	}
	if err := e.objects.Put(context.Background(), "content/"+id, bytes.NewReader([]byte("img")), 3, "image/jpeg"); err != nil {
		t.Fatalf("seed object: %v", err)
	}
}

func TestUnlockChargesOnceAndIsIdempotent(t *testing.T) {
	env := newTestApp(t, nil)
	env.addAccount(t, "alice", 10)
	env.addContent(t, "item-1", 3)

	result, err := env.app.Unlock("alice", "item-1")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if result.AlreadyUnlocked || result.TokensRemaining != 7 {
		t.Fatalf("unexpected first unlock: %+v", result)
	}

	again, err := env.app.Unlock("alice", "item-1")
	if err != nil {
		t.Fatalf("second unlock: %v", err)
	}
	if !again.AlreadyUnlocked || again.TokensRemaining != 7 {
		t.Fatalf("second unlock must be free: %+v", again)
	}

	entries, err := env.app.Tokens().History("alice", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	unlockEntries := 0
	for _, e := range entries {
		if e.Type == domain.LedgerTypeImageUnlock {
			unlockEntries++
			if e.Metadata["contentItemId"] != "item-1" {
				t.Fatalf("unlock entry missing content metadata: %v", e.Metadata)
			}
		}
	}
	if unlockEntries != 1 {
		t.Fatalf("expected exactly one unlock entry, got %d", unlockEntries)
	}

	item, _, err := env.store.GetContentItem("item-1")
	if err != nil {
		t.Fatalf("fetch item: %v", err)
	}
	if item.UnlockCount != 1 {
		t.Fatalf("expected unlock count 1, got %d", item.UnlockCount)
	}
}

func TestUnlockInsufficientBalance(t *testing.T) {
	env := newTestApp(t, nil)
	env.addAccount(t, "bob", 2)
	env.addContent(t, "item-1", 5)

	_, err := env.app.Unlock("bob", "item-1")
	ibe, ok := token.AsInsufficientBalance(err)
	if !ok {
		t.Fatalf("expected insufficient balance error, got %v", err)
	}
	if ibe.Required != 5 || ibe.Available != 2 {
		t.Fatalf("unexpected shortfall: %+v", ibe)
	}

	unlocked, err := env.store.HasUnlockRecord("bob", "item-1")
	if err != nil {
		t.Fatalf("check record: %v", err)
	}
	if unlocked {
		t.Fatal("rejected unlock must not grant access")
	}
	entries, err := env.app.Tokens().History("bob", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, e := range entries {
		if e.Type == domain.LedgerTypeImageUnlock {
			t.Fatalf("rejected unlock must not write a ledger entry: %+v", e)
		}
	}
}

func TestUnlockFreeItemSkipsDebit(t *testing.T) {
	env := newTestApp(t, nil)
	env.addAccount(t, "carol", 0)
	env.addContent(t, "free-1", 0)

	result, err := env.app.Unlock("carol", "free-1")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if result.AlreadyUnlocked || result.TokensRemaining != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	entries, err := env.app.Tokens().History("carol", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("free unlock must not touch the ledger, got %d entries", len(entries))
	}
}

func TestUnlockRepairsChargedButUnrecordedState(t *testing.T) {
	env := newTestApp(t, nil)
	env.addAccount(t, "dave", 10)
	env.addContent(t, "item-1", 3)

	// Simulate a crash between the debit and the record write.
	if _, err := env.app.Tokens().Debit("dave", 3, domain.LedgerTypeImageUnlock, map[string]string{
		"contentItemId": "item-1",
	}); err != nil {
		t.Fatalf("debit: %v", err)
	}

	result, err := env.app.Unlock("dave", "item-1")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !result.AlreadyUnlocked {
		t.Fatal("repair must report the item as unlocked without a second charge")
	}
	balance, err := env.app.Tokens().Balance("dave")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 7 {
		t.Fatalf("repair must not charge again, balance %d", balance)
	}
	unlocked, err := env.store.HasUnlockRecord("dave", "item-1")
	if err != nil || !unlocked {
		t.Fatalf("expected record after repair: ok=%v err=%v", unlocked, err)
	}
}

func TestReconcileUnlocksBackfillsRecords(t *testing.T) {
	env := newTestApp(t, nil)
	env.addAccount(t, "erin", 10)
	env.addContent(t, "item-1", 4)

	if _, err := env.app.Tokens().Debit("erin", 4, domain.LedgerTypeImageUnlock, map[string]string{
		"contentItemId": "item-1",
	}); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := env.app.ReconcileUnlocks(); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	unlocked, err := env.store.HasUnlockRecord("erin", "item-1")
	if err != nil || !unlocked {
		t.Fatalf("expected record after reconcile: ok=%v err=%v", unlocked, err)
	}
	// Running again must be a no-op.
	if err := env.app.ReconcileUnlocks(); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
}

func TestGenerateImageMetersOneToken(t *testing.T) {
	env := newTestApp(t, nil)
	env.addAccount(t, "frank", 2)

	item, err := env.app.GenerateImage(context.Background(), "frank", "a quiet harbor at dawn")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if item.UploaderID != "frank" {
		t.Fatalf("generated item must belong to the caller, got %q", item.UploaderID)
	}
	balance, err := env.app.Tokens().Balance("frank")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 1 {
		t.Fatalf("expected 1 token left, got %d", balance)
	}
	unlocked, err := env.store.HasUnlockRecord("frank", item.ID)
	if err != nil || !unlocked {
		t.Fatalf("owner must hold an unlock record: ok=%v err=%v", unlocked, err)
	}
}

func TestGenerateImageRejectsEmptyBalanceWithoutProviderCall(t *testing.T) {
	env := newTestApp(t, nil)
	env.addAccount(t, "gina", 0)

	_, err := env.app.GenerateImage(context.Background(), "gina", "anything")
	if _, ok := token.AsInsufficientBalance(err); !ok {
		t.Fatalf("expected insufficient balance error, got %v", err)
	}
	if env.imageGen.calls != 0 {
		t.Fatalf("provider must not be called on a rejected debit, got %d calls", env.imageGen.calls)
	}
}

func TestGenerateImageFailureKeepsCharge(t *testing.T) {
	env := newTestApp(t, nil)
	env.addAccount(t, "hank", 5)
	env.imageGen.err = errors.New("provider exploded")

	_, err := env.app.GenerateImage(context.Background(), "hank", "anything")
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	balance, err := env.app.Tokens().Balance("hank")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 4 {
		t.Fatalf("failed generation keeps the charge by default, balance %d", balance)
	}
}

func TestGenerateImageFailureRefundsWhenEnabled(t *testing.T) {
	env := newTestApp(t, func(cfg *Config) { cfg.RefundOnFailure = true })
	env.addAccount(t, "iris", 5)
	env.imageGen.err = errors.New("provider exploded")

	if _, err := env.app.GenerateImage(context.Background(), "iris", "anything"); err == nil {
		t.Fatal("expected error")
	}
	balance, err := env.app.Tokens().Balance("iris")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 5 {
		t.Fatalf("refund-on-failure must restore the token, balance %d", balance)
	}
}

func TestCapturePurchaseCreditsPackage(t *testing.T) {
	env := newTestApp(t, nil)
	env.addAccount(t, "judy", 10)
	env.payments.captures["order-1"] = payment.Capture{OrderID: "order-1", Status: payment.CaptureStatusCompleted}

	result, err := env.app.CapturePurchase(context.Background(), "judy", "starter", "order-1")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if result.TokensCredited != 50 || result.TokensRemaining != 60 {
		t.Fatalf("unexpected result: %+v", result)
	}

	entries, err := env.store.ListLedgerEntriesByType("judy", domain.LedgerTypeTokenPurchase, domain.LedgerStatusCompleted)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one purchase entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Amount != 50 || e.TokensBefore != 10 || e.TokensAfter != 60 {
		t.Fatalf("unexpected purchase entry: amount=%d before=%d after=%d", e.Amount, e.TokensBefore, e.TokensAfter)
	}
	if e.Metadata["orderId"] != "order-1" || e.Metadata["packageId"] != "starter" {
		t.Fatalf("purchase entry missing metadata: %v", e.Metadata)
	}
}

func TestCapturePurchaseNotCompleted(t *testing.T) {
	env := newTestApp(t, nil)
	env.addAccount(t, "kate", 10)
	env.payments.captures["order-2"] = payment.Capture{OrderID: "order-2", Status: "DECLINED"}

	_, err := env.app.CapturePurchase(context.Background(), "kate", "starter", "order-2")
	if !errors.Is(err, ErrPaymentNotCompleted) {
		t.Fatalf("expected ErrPaymentNotCompleted, got %v", err)
	}
	balance, err := env.app.Tokens().Balance("kate")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("failed capture must not credit, balance %d", balance)
	}
	failed, err := env.store.ListLedgerEntriesByType("kate", domain.LedgerTypeTokenPurchase, domain.LedgerStatusFailed)
	if err != nil {
		t.Fatalf("list failed entries: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected one failed entry, got %d", len(failed))
	}
	if failed[0].Metadata["status"] != "DECLINED" {
		t.Fatalf("failed entry should record provider status: %v", failed[0].Metadata)
	}
}

func TestCapturePurchaseUnknownPackage(t *testing.T) {
	env := newTestApp(t, nil)
	env.addAccount(t, "liam", 0)
	if _, err := env.app.CapturePurchase(context.Background(), "liam", "mega", "order-1"); !errors.Is(err, ErrUnknownPackage) {
		t.Fatalf("expected ErrUnknownPackage, got %v", err)
	}
}

func TestSendMessageMetersAndPersists(t *testing.T) {
	env := newTestApp(t, nil)
	env.addAccount(t, "mia", 3)
	if err := env.store.SaveCharacter(domain.Character{
		ID:      "char-1",
		Name:    "Captain Aria",
		Persona: "a weathered starship captain",
		Active:  true,
	}); err != nil {
		t.Fatalf("save character: %v", err)
	}

	reply, err := env.app.SendMessage(context.Background(), "mia", "char-1", "hello?")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if reply.Message.Content != "hello there" || reply.Message.Role != domain.RoleAssistant {
		t.Fatalf("unexpected reply: %+v", reply.Message)
	}
	if reply.TokensRemaining != 2 {
		t.Fatalf("expected 2 tokens left, got %d", reply.TokensRemaining)
	}

	messages, err := env.app.ListMessages("mia", reply.ConversationID, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected user and assistant turns, got %d", len(messages))
	}
	if messages[0].Role != domain.RoleUser || messages[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected turn order: %s, %s", messages[0].Role, messages[1].Role)
	}

	// A second message reuses the conversation.
	again, err := env.app.SendMessage(context.Background(), "mia", "char-1", "still there?")
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if again.ConversationID != reply.ConversationID {
		t.Fatal("expected the same conversation to be reused")
	}
}

func TestAdminCreditTokens(t *testing.T) {
	env := newTestApp(t, nil)
	env.addAccount(t, "admin", 0)
	env.addAccount(t, "nora", 0)

	balance, err := env.app.AdminCreditTokens("admin", "nora", 25, "welcome grant")
	if err != nil {
		t.Fatalf("admin credit: %v", err)
	}
	if balance != 25 {
		t.Fatalf("expected balance 25, got %d", balance)
	}
	entries, err := env.store.ListLedgerEntriesByType("nora", domain.LedgerTypeAdminCredit, domain.LedgerStatusCompleted)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Metadata["adminId"] != "admin" {
		t.Fatalf("expected admin credit entry with adminId, got %+v", entries)
	}
}

func TestUnlockUnknownContent(t *testing.T) {
	env := newTestApp(t, nil)
	env.addAccount(t, "omar", 10)
	if _, err := env.app.Unlock("omar", "missing"); !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("expected ErrContentNotFound, got %v", err)
	}
}
