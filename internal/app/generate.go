package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"musegate/internal/util"
	"musegate/pkg/domain"
)

// generationCost is the flat per-call token price for generation requests.
const generationCost = 1

// GenerateImage meters one token, renders an image for the prompt, and
// stores it as a content item owned by the caller. The token is charged
// up front; a provider failure does not refund it unless refund-on-failure
// is enabled.
func (a *App) GenerateImage(ctx context.Context, accountID, prompt string) (domain.ContentItem, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.ContentItem{}, fmt.Errorf("prompt required")
	}
	if a.imageGen == nil {
		return domain.ContentItem{}, fmt.Errorf("image generation not configured")
	}
	if a.objects == nil {
		return domain.ContentItem{}, fmt.Errorf("object storage not configured")
	}

	entryMeta := map[string]string{"kind": "image"}
	if _, err := a.tokens.Debit(accountID, generationCost, domain.LedgerTypeGeneration, entryMeta); err != nil {
		return domain.ContentItem{}, err
	}

	data, contentType, err := a.imageGen.GenerateImage(ctx, prompt)
	if err != nil {
		a.handleGenerationFailure(accountID, entryMeta)
		return domain.ContentItem{}, &ProviderError{Provider: "image", Err: err}
	}

	id := util.NewID()
	key := "generated/" + id
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		a.handleGenerationFailure(accountID, entryMeta)
		return domain.ContentItem{}, fmt.Errorf("store generated image: %w", err)
	}

	now := time.Now().UTC()
	item := domain.ContentItem{
		ID:          id,
		UploaderID:  accountID,
		Title:       generatedTitle(prompt),
		ObjectKey:   key,
		ContentType: contentType,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveContentItem(item); err != nil {
		return domain.ContentItem{}, fmt.Errorf("save content item: %w", err)
	}
	// The owner never pays to view their own generation; the record keeps
	// the unlock listing complete.
	if err := a.store.AddUnlockRecord(domain.UnlockRecord{
		AccountID:     accountID,
		ContentItemID: id,
		CreatedAt:     now,
	}); err != nil {
		slog.Warn("owner unlock record write failed", "content_item_id", id, "err", err)
	}
	return item, nil
}

// handleGenerationFailure keeps the metering debit by default; the
// provider call was made and billed. Refund-on-failure credits the token
// back when operators opt in.
func (a *App) handleGenerationFailure(accountID string, meta map[string]string) {
	if !a.refundOnFailure {
		return
	}
	refundMeta := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		refundMeta[k] = v
	}
	refundMeta["refund"] = "generation_failure"
	if _, err := a.tokens.Credit(accountID, generationCost, domain.LedgerTypeGeneration, refundMeta); err != nil {
		slog.Error("generation refund failed", "account_id", accountID, "err", err)
	}
}

func generatedTitle(prompt string) string {
	const maxTitle = 80
	if len(prompt) <= maxTitle {
		return prompt
	}
	return prompt[:maxTitle]
}
