package store

import (
	"errors"

	"musegate/pkg/domain"
)

var (
	// ErrAccountNotFound is returned by balance operations targeting a
	// missing account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientBalance is returned by DebitTokens when the account
	// balance is below the requested amount. No mutation happens and no
	// ledger entry is written.
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// ErrContentItemNotFound is returned by content mutations targeting a
	// missing item.
	ErrContentItemNotFound = errors.New("content item not found")
)

// Store defines persistence operations for accounts, content, the token
// ledger, unlock records, and chat data.
//
// CreditTokens and DebitTokens are the only balance mutators. Each applies
// the balance change and writes the paired ledger entry as one atomic unit:
// either both land or neither does. DebitTokens additionally guarantees the
// balance never goes below zero under concurrent calls (the check and the
// decrement are evaluated as a single conditional update).
type Store interface {
	// accounts
	SaveAccount(domain.Account) error
	GetAccountByID(id string) (domain.Account, bool, error)
	GetAccountByEmail(email string) (domain.Account, bool, error)
	GetAccountByUsername(username string) (domain.Account, bool, error)
	GetAccountByIdentity(provider, providerID string) (domain.Account, bool, error)
	HasAccountEmail(email string) (bool, error)
	HasAccountUsername(username string) (bool, error)
	ListAccounts() ([]domain.Account, error)
	AccountCount() (int, error)
	DeleteAccount(id string) error
	LinkIdentity(accountID string, identity domain.Identity) error

	// token ledger
	CreditTokens(accountID string, amount int64, entry domain.LedgerEntry) (domain.LedgerEntry, error)
	DebitTokens(accountID string, amount int64, entry domain.LedgerEntry) (domain.LedgerEntry, error)
	AppendLedgerEntry(entry domain.LedgerEntry) error
	ListLedgerEntries(accountID string, limit int) ([]domain.LedgerEntry, error)
	ListLedgerEntriesByType(accountID string, t domain.LedgerType, status domain.LedgerStatus) ([]domain.LedgerEntry, error)

	// content
	SaveContentItem(domain.ContentItem) error
	GetContentItem(id string) (domain.ContentItem, bool, error)
	ListContentItems(activeOnly bool) ([]domain.ContentItem, error)
	ListContentItemsByUploader(uploaderID string) ([]domain.ContentItem, error)
	DeleteContentItem(id string) error
	IncrementUnlockCount(id string) error

	// unlocks
	AddUnlockRecord(domain.UnlockRecord) error
	HasUnlockRecord(accountID, contentItemID string) (bool, error)
	ListUnlockRecords(accountID string) ([]domain.UnlockRecord, error)

	// characters and chat
	SaveCharacter(domain.Character) error
	GetCharacter(id string) (domain.Character, bool, error)
	ListCharacters(activeOnly bool) ([]domain.Character, error)
	SaveConversation(domain.Conversation) error
	GetConversation(id string) (domain.Conversation, bool, error)
	FindConversation(accountID, characterID string) (domain.Conversation, bool, error)
	ListConversations(accountID string) ([]domain.Conversation, error)
	AppendMessage(domain.Message) error
	ListMessages(conversationID string, limit int) ([]domain.Message, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(accountID string) (string, error)
	GetAccountIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
