package domain

import "time"

type LedgerType string

const (
	LedgerTypeTokenPurchase LedgerType = "token_purchase"
	LedgerTypeImageUnlock   LedgerType = "image_unlock"
	LedgerTypeAdminCredit   LedgerType = "admin_credit"
	LedgerTypeGeneration    LedgerType = "generation"
	LedgerTypeOther         LedgerType = "other"
)

type LedgerStatus string

const (
	LedgerStatusPending   LedgerStatus = "pending"
	LedgerStatusCompleted LedgerStatus = "completed"
	LedgerStatusFailed    LedgerStatus = "failed"
	LedgerStatusRefunded  LedgerStatus = "refunded"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Identity is a linked external login (OAuth provider + provider-assigned id).
type Identity struct {
	Provider   string `json:"provider"`
	ProviderID string `json:"providerId"`
}

type Account struct {
	ID           string     `json:"id"`
	DisplayName  string     `json:"displayName"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Tokens       int64      `json:"tokens"`
	Admin        bool       `json:"admin"`
	AgeVerified  bool       `json:"ageVerified"`
	Identities   []Identity `json:"identities,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// HasPassword reports whether the account carries a password credential.
// OAuth-only accounts have none.
func (a Account) HasPassword() bool {
	return a.PasswordHash != ""
}

type ContentItem struct {
	ID            string    `json:"id"`
	UploaderID    string    `json:"uploaderId"`
	Title         string    `json:"title"`
	ObjectKey     string    `json:"-"`
	ContentType   string    `json:"contentType"`
	Blurred       bool      `json:"blurred"`
	BlurIntensity int       `json:"blurIntensity"`
	UnlockPrice   int64     `json:"unlockPrice"`
	UnlockCount   int64     `json:"unlockCount"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// UnlockRecord proves an account paid for access to one content item.
// Created exactly once per (account, item); never mutated.
type UnlockRecord struct {
	AccountID     string    `json:"accountId"`
	ContentItemID string    `json:"contentItemId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// LedgerEntry is the immutable audit record of one balance-affecting event.
// Amount is signed: positive for credits, negative for debits. TokensBefore
// and TokensAfter snapshot the account balance around the mutation.
type LedgerEntry struct {
	ID           string            `json:"id"`
	AccountID    string            `json:"accountId"`
	Type         LedgerType        `json:"type"`
	Status       LedgerStatus      `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	TokensBefore int64             `json:"tokensBefore"`
	TokensAfter  int64             `json:"tokensAfter"`
	ProcessedAt  *time.Time        `json:"processedAt,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// UnlockResult is returned by the unlock operation. AlreadyUnlocked means
// the account had paid before and no charge was made.
type UnlockResult struct {
	TokensRemaining int64 `json:"tokensRemaining"`
	AlreadyUnlocked bool  `json:"alreadyUnlocked"`
}

type Character struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Tagline   string    `json:"tagline,omitempty"`
	Persona   string    `json:"-"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

type Conversation struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"accountId"`
	CharacterID string    `json:"characterId"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// TokenPackage maps a purchasable package id to a fixed token quantity
// and real-currency price. The table is configuration, not data.
type TokenPackage struct {
	ID       string `json:"id" yaml:"id"`
	Tokens   int64  `json:"tokens" yaml:"tokens"`
	Price    string `json:"price" yaml:"price"`
	Currency string `json:"currency" yaml:"currency"`
}
