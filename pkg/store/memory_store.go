package store

import (
	"sort"
	"sync"
	"time"

	"musegate/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and local runs
// without Postgres. Balance operations are serialized per account with a
// dedicated mutex; unrelated accounts do not contend.
type MemoryStore struct {
	mu            sync.RWMutex
	accounts      map[string]domain.Account
	accountOrder  []string
	identities    map[string]domain.Identity // provider+"/"+providerID -> identity
	identityOwner map[string]string          // provider+"/"+providerID -> account ID
	content       map[string]domain.ContentItem
	contentOrder  []string
	unlocks       map[string]domain.UnlockRecord // accountID+"/"+itemID
	ledger        []domain.LedgerEntry
	characters    map[string]domain.Character
	charOrder     []string
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message

	balanceMu sync.Mutex
	balances  map[string]*sync.Mutex // per-account balance locks
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[string]domain.Account),
		identities:    make(map[string]domain.Identity),
		identityOwner: make(map[string]string),
		content:       make(map[string]domain.ContentItem),
		unlocks:       make(map[string]domain.UnlockRecord),
		characters:    make(map[string]domain.Character),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
		balances:      make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) accountLock(accountID string) *sync.Mutex {
	m.balanceMu.Lock()
	defer m.balanceMu.Unlock()
	lock, ok := m.balances[accountID]
	if !ok {
		lock = &sync.Mutex{}
		m.balances[accountID] = lock
	}
	return lock
}

// SaveAccount stores or replaces an account record. The token balance of an
// existing account is preserved; only Credit/Debit mutate it.
func (m *MemoryStore) SaveAccount(a domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.accounts[a.ID]; ok {
		a.Tokens = existing.Tokens
	} else {
		m.accountOrder = append(m.accountOrder, a.ID)
	}
	a.Identities = nil
	m.accounts[a.ID] = a
	return nil
}

// GetAccountByID returns an account with linked identities attached.
func (m *MemoryStore) GetAccountByID(id string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return domain.Account{}, false, nil
	}
	return m.attachIdentities(a), true, nil
}

func (m *MemoryStore) attachIdentities(a domain.Account) domain.Account {
	a.Identities = nil
	for key, owner := range m.identityOwner {
		if owner == a.ID {
			a.Identities = append(a.Identities, m.identities[key])
		}
	}
	sort.Slice(a.Identities, func(i, j int) bool {
		return a.Identities[i].Provider < a.Identities[j].Provider
	})
	return a
}

// GetAccountByEmail looks up an account by email.
func (m *MemoryStore) GetAccountByEmail(email string) (domain.Account, bool, error) {
	return m.findAccount(func(a domain.Account) bool { return a.Email == email })
}

// GetAccountByUsername looks up an account by username.
func (m *MemoryStore) GetAccountByUsername(username string) (domain.Account, bool, error) {
	return m.findAccount(func(a domain.Account) bool { return a.Username == username })
}

func (m *MemoryStore) findAccount(match func(domain.Account) bool) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.accountOrder {
		if a, ok := m.accounts[id]; ok && match(a) {
			return m.attachIdentities(a), true, nil
		}
	}
	return domain.Account{}, false, nil
}

// GetAccountByIdentity resolves an account from a linked provider identity.
func (m *MemoryStore) GetAccountByIdentity(provider, providerID string) (domain.Account, bool, error) {
	m.mu.RLock()
	owner, ok := m.identityOwner[provider+"/"+providerID]
	m.mu.RUnlock()
	if !ok {
		return domain.Account{}, false, nil
	}
	return m.GetAccountByID(owner)
}

// HasAccountEmail checks if email exists.
func (m *MemoryStore) HasAccountEmail(email string) (bool, error) {
	_, ok, err := m.GetAccountByEmail(email)
	return ok, err
}

// HasAccountUsername checks if username exists.
func (m *MemoryStore) HasAccountUsername(username string) (bool, error) {
	_, ok, err := m.GetAccountByUsername(username)
	return ok, err
}

// ListAccounts returns accounts in insertion order.
func (m *MemoryStore) ListAccounts() ([]domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Account, 0, len(m.accountOrder))
	for _, id := range m.accountOrder {
		if a, ok := m.accounts[id]; ok {
			res = append(res, m.attachIdentities(a))
		}
	}
	return res, nil
}

// AccountCount returns the number of accounts.
func (m *MemoryStore) AccountCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts), nil
}

// DeleteAccount removes the account and its identities.
func (m *MemoryStore) DeleteAccount(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
	for key, owner := range m.identityOwner {
		if owner == id {
			delete(m.identityOwner, key)
			delete(m.identities, key)
		}
	}
	return nil
}

// LinkIdentity attaches an external identity to an account.
func (m *MemoryStore) LinkIdentity(accountID string, identity domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := identity.Provider + "/" + identity.ProviderID
	if _, exists := m.identityOwner[key]; exists {
		return nil
	}
	m.identityOwner[key] = accountID
	m.identities[key] = identity
	return nil
}

// CreditTokens increases the balance and appends the completed entry under
// the account's balance lock.
func (m *MemoryStore) CreditTokens(accountID string, amount int64, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	lock := m.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return domain.LedgerEntry{}, ErrAccountNotFound
	}
	now := time.Now().UTC()
	entry.TokensBefore = a.Tokens
	a.Tokens += amount
	a.UpdatedAt = now
	m.accounts[accountID] = a
	entry.TokensAfter = a.Tokens
	entry.Amount = amount
	entry.Status = domain.LedgerStatusCompleted
	entry.ProcessedAt = &now
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	m.ledger = append(m.ledger, entry)
	return entry, nil
}

// DebitTokens decreases the balance only when it covers the amount, then
// appends the completed entry. A rejected debit leaves no trace.
func (m *MemoryStore) DebitTokens(accountID string, amount int64, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	lock := m.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return domain.LedgerEntry{}, ErrAccountNotFound
	}
	if a.Tokens < amount {
		return domain.LedgerEntry{}, ErrInsufficientBalance
	}
	now := time.Now().UTC()
	entry.TokensBefore = a.Tokens
	a.Tokens -= amount
	a.UpdatedAt = now
	m.accounts[accountID] = a
	entry.TokensAfter = a.Tokens
	entry.Amount = -amount
	entry.Status = domain.LedgerStatusCompleted
	entry.ProcessedAt = &now
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	m.ledger = append(m.ledger, entry)
	return entry, nil
}

// AppendLedgerEntry records an entry without touching any balance.
func (m *MemoryStore) AppendLedgerEntry(entry domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.ledger = append(m.ledger, entry)
	return nil
}

// ListLedgerEntries returns the newest entries for an account.
func (m *MemoryStore) ListLedgerEntries(accountID string, limit int) ([]domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.LedgerEntry
	for i := len(m.ledger) - 1; i >= 0; i-- {
		if m.ledger[i].AccountID != accountID {
			continue
		}
		res = append(res, m.ledger[i])
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res, nil
}

// ListLedgerEntriesByType filters an account's entries by type and status.
func (m *MemoryStore) ListLedgerEntriesByType(accountID string, t domain.LedgerType, status domain.LedgerStatus) ([]domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.LedgerEntry
	for _, e := range m.ledger {
		if e.AccountID == accountID && e.Type == t && e.Status == status {
			res = append(res, e)
		}
	}
	return res, nil
}

// SaveContentItem stores or replaces a content item. The unlock counter of
// an existing item is preserved.
func (m *MemoryStore) SaveContentItem(c domain.ContentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.content[c.ID]; ok {
		c.UnlockCount = existing.UnlockCount
	} else {
		m.contentOrder = append(m.contentOrder, c.ID)
	}
	m.content[c.ID] = c
	return nil
}

// GetContentItem retrieves a content item.
func (m *MemoryStore) GetContentItem(id string) (domain.ContentItem, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.content[id]
	return c, ok, nil
}

// ListContentItems returns content in insertion order.
func (m *MemoryStore) ListContentItems(activeOnly bool) ([]domain.ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ContentItem, 0, len(m.contentOrder))
	for _, id := range m.contentOrder {
		if c, ok := m.content[id]; ok && (!activeOnly || c.Active) {
			res = append(res, c)
		}
	}
	return res, nil
}

// ListContentItemsByUploader returns content owned by one account.
func (m *MemoryStore) ListContentItemsByUploader(uploaderID string) ([]domain.ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.ContentItem
	for _, id := range m.contentOrder {
		if c, ok := m.content[id]; ok && c.UploaderID == uploaderID {
			res = append(res, c)
		}
	}
	return res, nil
}

// DeleteContentItem removes the row.
func (m *MemoryStore) DeleteContentItem(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.content, id)
	return nil
}

// IncrementUnlockCount bumps the distinct-unlocker counter.
func (m *MemoryStore) IncrementUnlockCount(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.content[id]
	if !ok {
		return ErrContentItemNotFound
	}
	c.UnlockCount++
	m.content[id] = c
	return nil
}

// AddUnlockRecord inserts the grant; existing pairs are left untouched.
func (m *MemoryStore) AddUnlockRecord(r domain.UnlockRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := r.AccountID + "/" + r.ContentItemID
	if _, exists := m.unlocks[key]; exists {
		return nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.unlocks[key] = r
	return nil
}

// HasUnlockRecord reports whether the account unlocked the item.
func (m *MemoryStore) HasUnlockRecord(accountID, contentItemID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.unlocks[accountID+"/"+contentItemID]
	return ok, nil
}

// ListUnlockRecords returns an account's unlocks ordered by grant time.
func (m *MemoryStore) ListUnlockRecords(accountID string) ([]domain.UnlockRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.UnlockRecord
	for _, r := range m.unlocks {
		if r.AccountID == accountID {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// SaveCharacter stores or replaces a character.
func (m *MemoryStore) SaveCharacter(c domain.Character) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.characters[c.ID]; !exists {
		m.charOrder = append(m.charOrder, c.ID)
	}
	m.characters[c.ID] = c
	return nil
}

// GetCharacter retrieves a character.
func (m *MemoryStore) GetCharacter(id string) (domain.Character, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.characters[id]
	return c, ok, nil
}

// ListCharacters returns characters in insertion order.
func (m *MemoryStore) ListCharacters(activeOnly bool) ([]domain.Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Character, 0, len(m.charOrder))
	for _, id := range m.charOrder {
		if c, ok := m.characters[id]; ok && (!activeOnly || c.Active) {
			res = append(res, c)
		}
	}
	return res, nil
}

// SaveConversation stores or replaces a conversation.
func (m *MemoryStore) SaveConversation(c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
	return nil
}

// GetConversation retrieves a conversation.
func (m *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	return c, ok, nil
}

// FindConversation returns the conversation between an account and a character.
func (m *MemoryStore) FindConversation(accountID, characterID string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best domain.Conversation
	found := false
	for _, c := range m.conversations {
		if c.AccountID != accountID || c.CharacterID != characterID {
			continue
		}
		if !found || c.CreatedAt.Before(best.CreatedAt) {
			best = c
			found = true
		}
	}
	return best, found, nil
}

// ListConversations returns an account's conversations, most recent first.
func (m *MemoryStore) ListConversations(accountID string) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Conversation
	for _, c := range m.conversations {
		if c.AccountID == accountID {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return res, nil
}

// AppendMessage appends an immutable message.
func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return nil
}

// ListMessages returns the most recent messages in chronological order.
func (m *MemoryStore) ListMessages(conversationID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	res := make([]domain.Message, len(msgs))
	copy(res, msgs)
	return res, nil
}
