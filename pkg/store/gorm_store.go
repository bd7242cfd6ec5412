package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"musegate/pkg/domain"
)

const migrateLockID int64 = 52195219

// GormStore implements Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a Postgres connection and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	return NewGormStoreWithDialector(postgres.Open(dsn))
}

// NewGormStoreWithDialector opens the store over an arbitrary GORM dialector.
// Tests use this with a sqlite database.
func NewGormStoreWithDialector(dialector gorm.Dialector) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&AccountModel{},
			&IdentityModel{},
			&ContentItemModel{},
			&UnlockRecordModel{},
			&LedgerEntryModel{},
			&CharacterModel{},
			&ConversationModel{},
			&MessageModel{},
		)
	}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// withMigrationLock serializes migrations across replicas via a Postgres
// advisory lock. Other dialects run the migration directly.
func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	if db.Dialector.Name() != "postgres" {
		return fn(db)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveAccount registers or updates an account.
func (s *GormStore) SaveAccount(a domain.Account) error {
	model := accountToModel(a)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "username", "email", "password_hash", "admin", "age_verified", "updated_at"}),
	}).Create(&model).Error
}

// GetAccountByID returns an account with its linked identities.
func (s *GormStore) GetAccountByID(id string) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	return s.withIdentities(accountFromModel(model))
}

// GetAccountByEmail looks up an account by email.
func (s *GormStore) GetAccountByEmail(email string) (domain.Account, bool, error) {
	return s.findAccount("email = ?", email)
}

// GetAccountByUsername looks up an account by username.
func (s *GormStore) GetAccountByUsername(username string) (domain.Account, bool, error) {
	return s.findAccount("username = ?", username)
}

func (s *GormStore) findAccount(cond string, args ...any) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.Where(cond, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	return s.withIdentities(accountFromModel(model))
}

// GetAccountByIdentity resolves an account from a linked (provider, providerId).
func (s *GormStore) GetAccountByIdentity(provider, providerID string) (domain.Account, bool, error) {
	var link IdentityModel
	if err := s.db.Where("provider = ? AND provider_id = ?", provider, providerID).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	return s.GetAccountByID(link.AccountID)
}

func (s *GormStore) withIdentities(a domain.Account) (domain.Account, bool, error) {
	var links []IdentityModel
	if err := s.db.Where("account_id = ?", a.ID).Find(&links).Error; err != nil {
		return domain.Account{}, false, err
	}
	for _, l := range links {
		a.Identities = append(a.Identities, domain.Identity{Provider: l.Provider, ProviderID: l.ProviderID})
	}
	return a, true, nil
}

// HasAccountEmail checks if email exists.
func (s *GormStore) HasAccountEmail(email string) (bool, error) {
	return s.hasAccount("email = ?", email)
}

// HasAccountUsername checks if username exists.
func (s *GormStore) HasAccountUsername(username string) (bool, error) {
	return s.hasAccount("username = ?", username)
}

func (s *GormStore) hasAccount(cond string, args ...any) (bool, error) {
	var count int64
	if err := s.db.Model(&AccountModel{}).Where(cond, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListAccounts returns all accounts ordered by created_at.
func (s *GormStore) ListAccounts() ([]domain.Account, error) {
	var models []AccountModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Account, 0, len(models))
	for _, m := range models {
		res = append(res, accountFromModel(m))
	}
	return res, nil
}

// AccountCount returns the number of accounts.
func (s *GormStore) AccountCount() (int, error) {
	var count int64
	if err := s.db.Model(&AccountModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// DeleteAccount removes the account and its linked identities. Content,
// unlock records, and ledger entries are kept (audit trail).
func (s *GormStore) DeleteAccount(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&IdentityModel{}, "account_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&AccountModel{}, "id = ?", id).Error
	})
}

// LinkIdentity attaches an external identity to an account. Linking the same
// pair twice is a no-op.
func (s *GormStore) LinkIdentity(accountID string, identity domain.Identity) error {
	link := IdentityModel{
		AccountID:  accountID,
		Provider:   identity.Provider,
		ProviderID: identity.ProviderID,
		CreatedAt:  time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error
}

// CreditTokens atomically increases the balance and writes the completed
// ledger entry in one transaction.
func (s *GormStore) CreditTokens(accountID string, amount int64, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&AccountModel{}).
			Where("id = ?", accountID).
			Updates(map[string]any{
				"tokens":     gorm.Expr("tokens + ?", amount),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}
		after, err := s.balanceInTx(tx, accountID)
		if err != nil {
			return err
		}
		entry.TokensAfter = after
		entry.TokensBefore = after - amount
		return s.completeEntryInTx(tx, &entry, amount, now)
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

// DebitTokens atomically decreases the balance when it covers the amount and
// writes the completed ledger entry in one transaction. The sufficiency
// check and the decrement are a single conditional update, so concurrent
// debits on one account cannot overdraw it.
func (s *GormStore) DebitTokens(accountID string, amount int64, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&AccountModel{}).
			Where("id = ? AND tokens >= ?", accountID, amount).
			Updates(map[string]any{
				"tokens":     gorm.Expr("tokens - ?", amount),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&AccountModel{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrAccountNotFound
			}
			return ErrInsufficientBalance
		}
		after, err := s.balanceInTx(tx, accountID)
		if err != nil {
			return err
		}
		entry.TokensAfter = after
		entry.TokensBefore = after + amount
		return s.completeEntryInTx(tx, &entry, -amount, now)
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

// balanceInTx reads the balance on the transaction connection. The updated
// account row is locked by the preceding conditional update until commit, so
// the value read here is the post-mutation balance.
func (s *GormStore) balanceInTx(tx *gorm.DB, accountID string) (int64, error) {
	var model AccountModel
	if err := tx.First(&model, "id = ?", accountID).Error; err != nil {
		return 0, err
	}
	return model.Tokens, nil
}

func (s *GormStore) completeEntryInTx(tx *gorm.DB, entry *domain.LedgerEntry, signedAmount int64, now time.Time) error {
	entry.Amount = signedAmount
	entry.Status = domain.LedgerStatusCompleted
	entry.ProcessedAt = &now
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	model, err := ledgerEntryToModel(*entry)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}
	return tx.Create(&model).Error
}

// AppendLedgerEntry writes an entry without touching any balance. Used for
// failed payment attempts.
func (s *GormStore) AppendLedgerEntry(entry domain.LedgerEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	model, err := ledgerEntryToModel(entry)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}
	return s.db.Create(&model).Error
}

// ListLedgerEntries returns the newest entries for an account.
func (s *GormStore) ListLedgerEntries(accountID string, limit int) ([]domain.LedgerEntry, error) {
	var models []LedgerEntryModel
	tx := s.db.Where("account_id = ?", accountID).Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.LedgerEntry, 0, len(models))
	for _, m := range models {
		res = append(res, ledgerEntryFromModel(m))
	}
	return res, nil
}

// ListLedgerEntriesByType filters an account's entries by type and status.
func (s *GormStore) ListLedgerEntriesByType(accountID string, t domain.LedgerType, status domain.LedgerStatus) ([]domain.LedgerEntry, error) {
	var models []LedgerEntryModel
	if err := s.db.
		Where("account_id = ? AND type = ? AND status = ?", accountID, string(t), string(status)).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.LedgerEntry, 0, len(models))
	for _, m := range models {
		res = append(res, ledgerEntryFromModel(m))
	}
	return res, nil
}

// SaveContentItem stores or updates a content item.
func (s *GormStore) SaveContentItem(c domain.ContentItem) error {
	model := contentItemToModel(c)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "object_key", "content_type", "blurred", "blur_intensity", "unlock_price", "active", "updated_at"}),
	}).Create(&model).Error
}

// GetContentItem retrieves a content item.
func (s *GormStore) GetContentItem(id string) (domain.ContentItem, bool, error) {
	var model ContentItemModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ContentItem{}, false, nil
		}
		return domain.ContentItem{}, false, err
	}
	return contentItemFromModel(model), true, nil
}

// ListContentItems returns content ordered by created_at, optionally only
// active items.
func (s *GormStore) ListContentItems(activeOnly bool) ([]domain.ContentItem, error) {
	tx := s.db.Order("created_at DESC")
	if activeOnly {
		tx = tx.Where("active = ?", true)
	}
	var models []ContentItemModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ContentItem, 0, len(models))
	for _, m := range models {
		res = append(res, contentItemFromModel(m))
	}
	return res, nil
}

// ListContentItemsByUploader returns content owned by one account.
func (s *GormStore) ListContentItemsByUploader(uploaderID string) ([]domain.ContentItem, error) {
	var models []ContentItemModel
	if err := s.db.Where("uploader_id = ?", uploaderID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ContentItem, 0, len(models))
	for _, m := range models {
		res = append(res, contentItemFromModel(m))
	}
	return res, nil
}

// DeleteContentItem removes the row. The stored object is the caller's
// responsibility.
func (s *GormStore) DeleteContentItem(id string) error {
	return s.db.Delete(&ContentItemModel{}, "id = ?", id).Error
}

// IncrementUnlockCount bumps the distinct-unlocker counter.
func (s *GormStore) IncrementUnlockCount(id string) error {
	res := s.db.Model(&ContentItemModel{}).
		Where("id = ?", id).
		Update("unlock_count", gorm.Expr("unlock_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrContentItemNotFound
	}
	return nil
}

// AddUnlockRecord inserts the (account, item) grant. Inserting an existing
// pair is a no-op, which makes retries and reconciliation safe.
func (s *GormStore) AddUnlockRecord(r domain.UnlockRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	model := UnlockRecordModel{
		AccountID:     r.AccountID,
		ContentItemID: r.ContentItemID,
		CreatedAt:     r.CreatedAt,
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// HasUnlockRecord reports whether the account unlocked the item.
func (s *GormStore) HasUnlockRecord(accountID, contentItemID string) (bool, error) {
	var count int64
	if err := s.db.Model(&UnlockRecordModel{}).
		Where("account_id = ? AND content_item_id = ?", accountID, contentItemID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListUnlockRecords returns an account's unlocks ordered by grant time.
func (s *GormStore) ListUnlockRecords(accountID string) ([]domain.UnlockRecord, error) {
	var models []UnlockRecordModel
	if err := s.db.Where("account_id = ?", accountID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.UnlockRecord, 0, len(models))
	for _, m := range models {
		res = append(res, domain.UnlockRecord{
			AccountID:     m.AccountID,
			ContentItemID: m.ContentItemID,
			CreatedAt:     m.CreatedAt,
		})
	}
	return res, nil
}

// SaveCharacter stores or updates a character.
func (s *GormStore) SaveCharacter(c domain.Character) error {
	model := CharacterModel{
		ID:        c.ID,
		Name:      c.Name,
		Tagline:   c.Tagline,
		Persona:   c.Persona,
		AvatarURL: c.AvatarURL,
		Active:    c.Active,
		CreatedAt: c.CreatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "tagline", "persona", "avatar_url", "active"}),
	}).Create(&model).Error
}

// GetCharacter retrieves a character.
func (s *GormStore) GetCharacter(id string) (domain.Character, bool, error) {
	var model CharacterModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Character{}, false, nil
		}
		return domain.Character{}, false, err
	}
	return characterFromModel(model), true, nil
}

// ListCharacters returns characters, optionally only active ones.
func (s *GormStore) ListCharacters(activeOnly bool) ([]domain.Character, error) {
	tx := s.db.Order("created_at ASC")
	if activeOnly {
		tx = tx.Where("active = ?", true)
	}
	var models []CharacterModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Character, 0, len(models))
	for _, m := range models {
		res = append(res, characterFromModel(m))
	}
	return res, nil
}

// SaveConversation stores or updates a conversation.
func (s *GormStore) SaveConversation(c domain.Conversation) error {
	model := ConversationModel{
		ID:          c.ID,
		AccountID:   c.AccountID,
		CharacterID: c.CharacterID,
		Title:       c.Title,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "updated_at"}),
	}).Create(&model).Error
}

// GetConversation retrieves a conversation.
func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// FindConversation returns the conversation between an account and a character.
func (s *GormStore) FindConversation(accountID, characterID string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.Where("account_id = ? AND character_id = ?", accountID, characterID).
		Order("created_at ASC").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversations returns an account's conversations, most recent first.
func (s *GormStore) ListConversations(accountID string) ([]domain.Conversation, error) {
	var models []ConversationModel
	if err := s.db.Where("account_id = ?", accountID).Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Conversation, 0, len(models))
	for _, m := range models {
		res = append(res, conversationFromModel(m))
	}
	return res, nil
}

// AppendMessage inserts an immutable message row.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model := MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
	return s.db.Create(&model).Error
}

// ListMessages returns the most recent messages in chronological order.
func (s *GormStore) ListMessages(conversationID string, limit int) ([]domain.Message, error) {
	var models []MessageModel
	tx := s.db.Where("conversation_id = ?", conversationID).Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		m := models[i]
		res = append(res, domain.Message{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Role:           domain.MessageRole(m.Role),
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		})
	}
	return res, nil
}
