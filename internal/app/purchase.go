package app

import (
	"context"
	"fmt"
	"log/slog"

	"musegate/pkg/domain"
	"musegate/pkg/payment"
)

const (
	metadataPackageID = "packageId"
	metadataOrderID   = "orderId"
	metadataStatus    = "status"
)

// Packages returns the purchasable token packages.
func (a *App) Packages() []domain.TokenPackage {
	return a.packages
}

// PurchaseOrder pairs a provider order with the package it pays for. The
// client completes approval with the provider, then calls capture.
type PurchaseOrder struct {
	OrderID   string `json:"orderId"`
	PackageID string `json:"packageId"`
	Status    string `json:"status"`
}

// CreatePurchaseOrder opens a provider order for a token package. No
// tokens move until the capture completes.
func (a *App) CreatePurchaseOrder(ctx context.Context, accountID, packageID string) (PurchaseOrder, error) {
	pkg, ok := a.packageByID[packageID]
	if !ok {
		return PurchaseOrder{}, ErrUnknownPackage
	}
	if a.payments == nil {
		return PurchaseOrder{}, fmt.Errorf("payments not configured")
	}
	description := fmt.Sprintf("%d tokens (%s)", pkg.Tokens, pkg.ID)
	order, err := a.payments.CreateOrder(ctx, pkg.Price, pkg.Currency, description)
	if err != nil {
		return PurchaseOrder{}, &ProviderError{Provider: "paypal", Err: err}
	}
	slog.Info("purchase order created",
		"account_id", accountID, "package_id", packageID, "order_id", order.ID)
	return PurchaseOrder{OrderID: order.ID, PackageID: packageID, Status: order.Status}, nil
}

// PurchaseResult reports a completed capture and the credited balance.
type PurchaseResult struct {
	OrderID         string `json:"orderId"`
	TokensCredited  int64  `json:"tokensCredited"`
	TokensRemaining int64  `json:"tokensRemaining"`
}

// CapturePurchase captures an approved provider order and credits the
// package's tokens. A capture that does not come back completed credits
// nothing and leaves a failed ledger entry for the audit trail.
func (a *App) CapturePurchase(ctx context.Context, accountID, packageID, orderID string) (PurchaseResult, error) {
	pkg, ok := a.packageByID[packageID]
	if !ok {
		return PurchaseResult{}, ErrUnknownPackage
	}
	if a.payments == nil {
		return PurchaseResult{}, fmt.Errorf("payments not configured")
	}

	capture, err := a.payments.CaptureOrder(ctx, orderID)
	if err != nil {
		a.recordFailedPurchase(accountID, pkg.ID, orderID, "capture_error")
		return PurchaseResult{}, &ProviderError{Provider: "paypal", Err: err}
	}
	if capture.Status != payment.CaptureStatusCompleted {
		a.recordFailedPurchase(accountID, pkg.ID, orderID, capture.Status)
		return PurchaseResult{}, ErrPaymentNotCompleted
	}

	remaining, err := a.tokens.Credit(accountID, pkg.Tokens, domain.LedgerTypeTokenPurchase, map[string]string{
		metadataPackageID: pkg.ID,
		metadataOrderID:   orderID,
	})
	if err != nil {
		// The provider has the money but the credit failed. This needs an
		// operator; log with everything required to replay the credit.
		slog.Error("token credit failed after completed capture",
			"account_id", accountID, "package_id", pkg.ID, "order_id", orderID, "err", err)
		return PurchaseResult{}, fmt.Errorf("credit tokens: %w", err)
	}
	slog.Info("purchase captured",
		"account_id", accountID, "package_id", pkg.ID, "order_id", orderID, "tokens", pkg.Tokens)
	return PurchaseResult{
		OrderID:         orderID,
		TokensCredited:  pkg.Tokens,
		TokensRemaining: remaining,
	}, nil
}

func (a *App) recordFailedPurchase(accountID, packageID, orderID, status string) {
	err := a.tokens.RecordFailedAttempt(accountID, domain.LedgerTypeTokenPurchase, map[string]string{
		metadataPackageID: packageID,
		metadataOrderID:   orderID,
		metadataStatus:    status,
	})
	if err != nil {
		slog.Error("record failed purchase", "account_id", accountID, "order_id", orderID, "err", err)
	}
}
