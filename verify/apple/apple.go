// Package apple verifies App Store receipts through the legacy
// verifyReceipt endpoint.
package apple

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/awa/go-iap/appstore"
	"go.uber.org/zap"

	"github.com/bivex/iap-bridge/verify"
)

// Verifier checks base64 app receipts with Apple. The underlying
// client retries against the sandbox environment when Apple reports a
// sandbox receipt.
type Verifier struct {
	client       *appstore.Client
	sharedSecret string
	bundleID     string
	log          *zap.Logger
}

// New builds an Apple verifier. bundleID, when non-empty, must match
// the receipt's bundle identifier.
func New(sharedSecret, bundleID string, log *zap.Logger) *Verifier {
	return &Verifier{
		client:       appstore.New(),
		sharedSecret: sharedSecret,
		bundleID:     bundleID,
		log:          log,
	}
}

// VerifyReceipt implements verify.Verifier.
func (v *Verifier) VerifyReceipt(ctx context.Context, receipt, productID string) (*verify.Result, error) {
	req := appstore.IAPRequest{
		ReceiptData:            receipt,
		Password:               v.sharedSecret,
		ExcludeOldTransactions: true,
	}

	resp := &appstore.IAPResponse{}
	if err := v.client.Verify(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("verifyReceipt call failed: %w", err)
	}

	if err := appstore.HandleError(resp.Status); err != nil {
		v.log.Debug("apple rejected receipt",
			zap.Int("status", resp.Status),
			zap.Error(err))
		return &verify.Result{Valid: false}, nil
	}

	if v.bundleID != "" && resp.Receipt.BundleID != v.bundleID {
		v.log.Warn("receipt bundle id mismatch",
			zap.String("got", resp.Receipt.BundleID))
		return &verify.Result{Valid: false}, nil
	}

	inApp := latestTransaction(resp, productID)
	if inApp == nil {
		return &verify.Result{Valid: false}, nil
	}

	return &verify.Result{
		Valid:                 true,
		TransactionID:         inApp.TransactionID,
		OriginalTransactionID: string(inApp.OriginalTransactionID),
		ProductID:             inApp.ProductID,
		ExpiresAt:             parseMillis(inApp.ExpiresDate.ExpiresDateMS),
		AutoRenewing:          autoRenewing(resp, inApp.ProductID),
		LatestReceipt:         resp.LatestReceipt,
	}, nil
}

// latestTransaction picks the newest in-app entry for productID, or the
// newest entry overall when productID is empty or absent. Apple may
// omit the requested product from the envelope, so the filter is
// best-effort.
func latestTransaction(resp *appstore.IAPResponse, productID string) *appstore.InApp {
	entries := resp.LatestReceiptInfo
	if len(entries) == 0 {
		entries = resp.Receipt.InApp
	}

	var newest *appstore.InApp
	var newestMatch *appstore.InApp
	for i := range entries {
		entry := &entries[i]
		if newer(entry, newest) {
			newest = entry
		}
		if entry.ProductID == productID && newer(entry, newestMatch) {
			newestMatch = entry
		}
	}
	if newestMatch != nil {
		return newestMatch
	}
	return newest
}

func newer(candidate, current *appstore.InApp) bool {
	if current == nil {
		return true
	}
	return parseMillis(candidate.PurchaseDate.PurchaseDateMS).
		After(parseMillis(current.PurchaseDate.PurchaseDateMS))
}

func autoRenewing(resp *appstore.IAPResponse, productID string) bool {
	for _, info := range resp.PendingRenewalInfo {
		if info.ProductID == productID {
			return info.SubscriptionAutoRenewStatus == "1"
		}
	}
	return false
}

func parseMillis(ms string) time.Time {
	if ms == "" {
		return time.Time{}
	}
	v, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
