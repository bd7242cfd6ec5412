package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"musegate/pkg/domain"
)

// GORM models used for persistence.
type AccountModel struct {
	ID           string    `gorm:"primaryKey"`
	DisplayName  string
	Username     string    `gorm:"uniqueIndex;not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string
	Tokens       int64     `gorm:"not null;default:0"`
	Admin        bool      `gorm:"not null;default:false"`
	AgeVerified  bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type IdentityModel struct {
	AccountID  string    `gorm:"primaryKey;index"`
	Provider   string    `gorm:"primaryKey"`
	ProviderID string    `gorm:"primaryKey;index"`
	CreatedAt  time.Time `gorm:"not null"`
}

type ContentItemModel struct {
	ID            string    `gorm:"primaryKey"`
	UploaderID    string    `gorm:"index"`
	Title         string
	ObjectKey     string
	ContentType   string
	Blurred       bool      `gorm:"not null;default:true"`
	BlurIntensity int       `gorm:"not null;default:0"`
	UnlockPrice   int64     `gorm:"not null;default:1"`
	UnlockCount   int64     `gorm:"not null;default:0"`
	Active        bool      `gorm:"not null;default:true"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// UnlockRecordModel is its own table keyed by (account, item) rather than an
// embedded array so the account row stays cheap to update atomically.
type UnlockRecordModel struct {
	AccountID     string    `gorm:"primaryKey;index"`
	ContentItemID string    `gorm:"primaryKey;index"`
	CreatedAt     time.Time `gorm:"not null"`
}

type LedgerEntryModel struct {
	ID           string         `gorm:"primaryKey"`
	AccountID    string         `gorm:"index;not null"`
	Type         string         `gorm:"type:varchar(32);not null;index"`
	Status       string         `gorm:"type:varchar(16);not null"`
	Amount       int64          `gorm:"not null"`
	Currency     string         `gorm:"type:varchar(8)"`
	Description  string
	Metadata     datatypes.JSON
	TokensBefore int64          `gorm:"not null"`
	TokensAfter  int64          `gorm:"not null"`
	ProcessedAt  *time.Time
	CreatedAt    time.Time      `gorm:"not null;index"`
}

type CharacterModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	Tagline   string
	Persona   string    `gorm:"type:text"`
	AvatarURL string
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null"`
}

type ConversationModel struct {
	ID          string    `gorm:"primaryKey"`
	AccountID   string    `gorm:"index;not null"`
	CharacterID string    `gorm:"index;not null"`
	Title       string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"not null;index"`
}

func accountToModel(a domain.Account) AccountModel {
	return AccountModel{
		ID:           a.ID,
		DisplayName:  a.DisplayName,
		Username:     a.Username,
		Email:        a.Email,
		PasswordHash: a.PasswordHash,
		Tokens:       a.Tokens,
		Admin:        a.Admin,
		AgeVerified:  a.AgeVerified,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func accountFromModel(m AccountModel) domain.Account {
	return domain.Account{
		ID:           m.ID,
		DisplayName:  m.DisplayName,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Tokens:       m.Tokens,
		Admin:        m.Admin,
		AgeVerified:  m.AgeVerified,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func contentItemToModel(c domain.ContentItem) ContentItemModel {
	return ContentItemModel{
		ID:            c.ID,
		UploaderID:    c.UploaderID,
		Title:         c.Title,
		ObjectKey:     c.ObjectKey,
		ContentType:   c.ContentType,
		Blurred:       c.Blurred,
		BlurIntensity: c.BlurIntensity,
		UnlockPrice:   c.UnlockPrice,
		UnlockCount:   c.UnlockCount,
		Active:        c.Active,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func contentItemFromModel(m ContentItemModel) domain.ContentItem {
	return domain.ContentItem{
		ID:            m.ID,
		UploaderID:    m.UploaderID,
		Title:         m.Title,
		ObjectKey:     m.ObjectKey,
		ContentType:   m.ContentType,
		Blurred:       m.Blurred,
		BlurIntensity: m.BlurIntensity,
		UnlockPrice:   m.UnlockPrice,
		UnlockCount:   m.UnlockCount,
		Active:        m.Active,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func ledgerEntryToModel(e domain.LedgerEntry) (LedgerEntryModel, error) {
	var meta datatypes.JSON
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return LedgerEntryModel{}, err
		}
		meta = datatypes.JSON(raw)
	}
	return LedgerEntryModel{
		ID:           e.ID,
		AccountID:    e.AccountID,
		Type:         string(e.Type),
		Status:       string(e.Status),
		Amount:       e.Amount,
		Currency:     e.Currency,
		Description:  e.Description,
		Metadata:     meta,
		TokensBefore: e.TokensBefore,
		TokensAfter:  e.TokensAfter,
		ProcessedAt:  e.ProcessedAt,
		CreatedAt:    e.CreatedAt,
	}, nil
}

func ledgerEntryFromModel(m LedgerEntryModel) domain.LedgerEntry {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.LedgerEntry{
		ID:           m.ID,
		AccountID:    m.AccountID,
		Type:         domain.LedgerType(m.Type),
		Status:       domain.LedgerStatus(m.Status),
		Amount:       m.Amount,
		Currency:     m.Currency,
		Description:  m.Description,
		Metadata:     meta,
		TokensBefore: m.TokensBefore,
		TokensAfter:  m.TokensAfter,
		ProcessedAt:  m.ProcessedAt,
		CreatedAt:    m.CreatedAt,
	}
}

func characterFromModel(m CharacterModel) domain.Character {
	return domain.Character{
		ID:        m.ID,
		Name:      m.Name,
		Tagline:   m.Tagline,
		Persona:   m.Persona,
		AvatarURL: m.AvatarURL,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:          m.ID,
		AccountID:   m.AccountID,
		CharacterID: m.CharacterID,
		Title:       m.Title,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
