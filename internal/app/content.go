package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"musegate/internal/util"
	"musegate/pkg/domain"
)

// ContentView is a content item as seen by a specific account: the unlock
// state decides whether the image URL is handed out.
type ContentView struct {
	domain.ContentItem
	Unlocked bool   `json:"unlocked"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// ListContent returns active content items annotated with the caller's
// unlock state. Image URLs are only presigned for unlocked items.
func (a *App) ListContent(ctx context.Context, accountID string) ([]ContentView, error) {
	items, err := a.store.ListContentItems(true)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	records, err := a.store.ListUnlockRecords(accountID)
	if err != nil {
		return nil, fmt.Errorf("list unlocks: %w", err)
	}
	unlocked := make(map[string]bool, len(records))
	for _, r := range records {
		unlocked[r.ContentItemID] = true
	}
	views := make([]ContentView, 0, len(items))
	for _, item := range items {
		views = append(views, a.viewFor(ctx, item, accountID, unlocked[item.ID]))
	}
	return views, nil
}

// GetContent returns one content item annotated with the caller's unlock
// state.
func (a *App) GetContent(ctx context.Context, accountID, contentItemID string) (ContentView, error) {
	item, ok, err := a.store.GetContentItem(contentItemID)
	if err != nil {
		return ContentView{}, fmt.Errorf("fetch content: %w", err)
	}
	if !ok || !item.Active {
		return ContentView{}, ErrContentNotFound
	}
	unlocked, err := a.store.HasUnlockRecord(accountID, contentItemID)
	if err != nil {
		return ContentView{}, fmt.Errorf("check unlock record: %w", err)
	}
	return a.viewFor(ctx, item, accountID, unlocked), nil
}

// ContentURL resolves a presigned image URL for a content item the caller
// has unlocked. Free items and the uploader's own items need no unlock.
func (a *App) ContentURL(ctx context.Context, accountID, contentItemID string) (string, error) {
	item, ok, err := a.store.GetContentItem(contentItemID)
	if err != nil {
		return "", fmt.Errorf("fetch content: %w", err)
	}
	if !ok || !item.Active {
		return "", ErrContentNotFound
	}
	if !a.canView(item, accountID) {
		unlocked, err := a.store.HasUnlockRecord(accountID, contentItemID)
		if err != nil {
			return "", fmt.Errorf("check unlock record: %w", err)
		}
		if !unlocked {
			return "", ErrForbidden
		}
	}
	if a.objects == nil {
		return "", fmt.Errorf("object storage not configured")
	}
	url, err := a.objects.PresignGet(ctx, item.ObjectKey, a.presignTTL)
	if err != nil {
		return "", fmt.Errorf("presign content url: %w", err)
	}
	return url, nil
}

// UploadContent stores an image in object storage and records a content
// item for it. The uploader can always view their own item without paying.
func (a *App) UploadContent(ctx context.Context, uploaderID, title string, r io.Reader, size int64, contentType string, unlockPrice int64, blurred bool) (domain.ContentItem, error) {
	if title == "" {
		return domain.ContentItem{}, fmt.Errorf("title required")
	}
	if unlockPrice < 0 {
		return domain.ContentItem{}, fmt.Errorf("unlock price must not be negative")
	}
	if a.objects == nil {
		return domain.ContentItem{}, fmt.Errorf("object storage not configured")
	}
	id := util.NewID()
	key := "content/" + id
	if err := a.objects.Put(ctx, key, r, size, contentType); err != nil {
		return domain.ContentItem{}, fmt.Errorf("store image: %w", err)
	}
	now := time.Now().UTC()
	item := domain.ContentItem{
		ID:            id,
		UploaderID:    uploaderID,
		Title:         title,
		ObjectKey:     key,
		ContentType:   contentType,
		Blurred:       blurred,
		BlurIntensity: defaultBlurIntensity(blurred),
		UnlockPrice:   unlockPrice,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.SaveContentItem(item); err != nil {
		return domain.ContentItem{}, fmt.Errorf("save content item: %w", err)
	}
	return item, nil
}

// ContentUpdate carries optional admin edits to a content item.
type ContentUpdate struct {
	Title         *string `json:"title,omitempty"`
	UnlockPrice   *int64  `json:"unlockPrice,omitempty"`
	Blurred       *bool   `json:"blurred,omitempty"`
	BlurIntensity *int    `json:"blurIntensity,omitempty"`
	Active        *bool   `json:"active,omitempty"`
}

// UpdateContent applies an admin edit. Price changes do not touch existing
// unlock records; past unlocks keep the price they paid.
func (a *App) UpdateContent(contentItemID string, upd ContentUpdate) (domain.ContentItem, error) {
	item, ok, err := a.store.GetContentItem(contentItemID)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("fetch content: %w", err)
	}
	if !ok {
		return domain.ContentItem{}, ErrContentNotFound
	}
	if upd.Title != nil {
		item.Title = *upd.Title
	}
	if upd.UnlockPrice != nil {
		if *upd.UnlockPrice < 0 {
			return domain.ContentItem{}, fmt.Errorf("unlock price must not be negative")
		}
		item.UnlockPrice = *upd.UnlockPrice
	}
	if upd.Blurred != nil {
		item.Blurred = *upd.Blurred
	}
	if upd.BlurIntensity != nil {
		item.BlurIntensity = *upd.BlurIntensity
	}
	if upd.Active != nil {
		item.Active = *upd.Active
	}
	item.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveContentItem(item); err != nil {
		return domain.ContentItem{}, fmt.Errorf("save content item: %w", err)
	}
	return item, nil
}

// DeleteContent removes a content item and its stored object. Unlock
// records and ledger entries stay; the ledger is immutable history.
func (a *App) DeleteContent(ctx context.Context, contentItemID string) error {
	item, ok, err := a.store.GetContentItem(contentItemID)
	if err != nil {
		return fmt.Errorf("fetch content: %w", err)
	}
	if !ok {
		return ErrContentNotFound
	}
	if err := a.store.DeleteContentItem(contentItemID); err != nil {
		return fmt.Errorf("delete content item: %w", err)
	}
	if a.objects != nil && item.ObjectKey != "" {
		if err := a.objects.Delete(ctx, item.ObjectKey); err != nil {
			slog.Warn("content object delete failed",
				"content_item_id", contentItemID, "object_key", item.ObjectKey, "err", err)
		}
	}
	return nil
}

func (a *App) viewFor(ctx context.Context, item domain.ContentItem, accountID string, unlocked bool) ContentView {
	view := ContentView{ContentItem: item, Unlocked: unlocked || a.canView(item, accountID)}
	if view.Unlocked && a.objects != nil {
		url, err := a.objects.PresignGet(ctx, item.ObjectKey, a.presignTTL)
		if err != nil {
			slog.Warn("presign content url failed", "content_item_id", item.ID, "err", err)
		} else {
			view.ImageURL = url
		}
	}
	return view
}

// canView reports view access that needs no unlock record: free items and
// the uploader's own items.
func (a *App) canView(item domain.ContentItem, accountID string) bool {
	return item.UnlockPrice == 0 || item.UploaderID == accountID
}

func defaultBlurIntensity(blurred bool) int {
	if blurred {
		return 20
	}
	return 0
}
