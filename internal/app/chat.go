package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"musegate/internal/util"
	"musegate/pkg/domain"
)

// ListCharacters returns the active chat characters.
func (a *App) ListCharacters() ([]domain.Character, error) {
	return a.store.ListCharacters(true)
}

// SaveCharacter creates or updates a chat character (admin operation).
func (a *App) SaveCharacter(c domain.Character) (domain.Character, error) {
	if strings.TrimSpace(c.Name) == "" {
		return domain.Character{}, fmt.Errorf("character name required")
	}
	if c.ID == "" {
		c.ID = util.NewID()
		c.CreatedAt = time.Now().UTC()
		c.Active = true
	} else {
		existing, ok, err := a.store.GetCharacter(c.ID)
		if err != nil {
			return domain.Character{}, fmt.Errorf("fetch character: %w", err)
		}
		if !ok {
			return domain.Character{}, ErrCharacterNotFound
		}
		c.CreatedAt = existing.CreatedAt
		c.Active = existing.Active
	}
	if err := a.store.SaveCharacter(c); err != nil {
		return domain.Character{}, fmt.Errorf("save character: %w", err)
	}
	return c, nil
}

// ListConversations returns the caller's conversations.
func (a *App) ListConversations(accountID string) ([]domain.Conversation, error) {
	return a.store.ListConversations(accountID)
}

// ListMessages returns the newest messages of one of the caller's
// conversations.
func (a *App) ListMessages(accountID, conversationID string, limit int) ([]domain.Message, error) {
	conv, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation: %w", err)
	}
	if !ok || conv.AccountID != accountID {
		return nil, ErrConversationNotFound
	}
	if limit <= 0 {
		limit = a.historyLimit
	}
	return a.store.ListMessages(conversationID, limit)
}

// ChatReply is the outcome of one metered chat turn.
type ChatReply struct {
	ConversationID  string         `json:"conversationId"`
	Message         domain.Message `json:"message"`
	TokensRemaining int64          `json:"tokensRemaining"`
}

// SendMessage meters one token and exchanges one chat turn with a
// character. The user turn is persisted before the provider call so a
// provider failure never loses it; the charge stands either way.
func (a *App) SendMessage(ctx context.Context, accountID, characterID, content string) (ChatReply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return ChatReply{}, fmt.Errorf("message content required")
	}
	if a.textGen == nil {
		return ChatReply{}, fmt.Errorf("chat generation not configured")
	}
	character, ok, err := a.store.GetCharacter(characterID)
	if err != nil {
		return ChatReply{}, fmt.Errorf("fetch character: %w", err)
	}
	if !ok || !character.Active {
		return ChatReply{}, ErrCharacterNotFound
	}
	conv, err := a.ensureConversation(accountID, character)
	if err != nil {
		return ChatReply{}, err
	}

	meta := map[string]string{"kind": "chat", "characterId": character.ID}
	remaining, err := a.tokens.Debit(accountID, generationCost, domain.LedgerTypeGeneration, meta)
	if err != nil {
		return ChatReply{}, err
	}

	// Read history before persisting the new turn so the prompt does not
	// carry it twice.
	prompt, err := a.buildPrompt(conv.ID, content)
	if err != nil {
		return ChatReply{}, err
	}
	userMsg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.store.AppendMessage(userMsg); err != nil {
		return ChatReply{}, fmt.Errorf("append message: %w", err)
	}
	reply, err := a.textGen.GenerateText(ctx, character.Persona, prompt)
	if err != nil {
		a.handleGenerationFailure(accountID, meta)
		return ChatReply{}, &ProviderError{Provider: "chat", Err: err}
	}

	assistantMsg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        reply,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.store.AppendMessage(assistantMsg); err != nil {
		return ChatReply{}, fmt.Errorf("append message: %w", err)
	}
	conv.UpdatedAt = assistantMsg.CreatedAt
	if err := a.store.SaveConversation(conv); err != nil {
		return ChatReply{}, fmt.Errorf("save conversation: %w", err)
	}
	return ChatReply{ConversationID: conv.ID, Message: assistantMsg, TokensRemaining: remaining}, nil
}

// ensureConversation returns the account's conversation with a character,
// creating it on first contact.
func (a *App) ensureConversation(accountID string, character domain.Character) (domain.Conversation, error) {
	conv, ok, err := a.store.FindConversation(accountID, character.ID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("find conversation: %w", err)
	}
	if ok {
		return conv, nil
	}
	now := time.Now().UTC()
	conv = domain.Conversation{
		ID:          util.NewID(),
		AccountID:   accountID,
		CharacterID: character.ID,
		Title:       character.Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveConversation(conv); err != nil {
		return domain.Conversation{}, fmt.Errorf("save conversation: %w", err)
	}
	return conv, nil
}

// buildPrompt folds recent history and the new turn into a single prompt.
// Oldest first so the provider reads the exchange in order.
func (a *App) buildPrompt(conversationID, content string) (string, error) {
	history, err := a.store.ListMessages(conversationID, a.historyLimit)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	var b strings.Builder
	for _, m := range history {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("user: ")
	b.WriteString(content)
	return b.String(), nil
}
