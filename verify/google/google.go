// Package google verifies Play Billing purchase tokens through the
// Google Play Developer API.
package google

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	"github.com/bivex/iap-bridge/verify"
)

// purchaseStatePurchased is the androidpublisher purchased state; 1 is
// canceled, 2 is pending.
const purchaseStatePurchased = 0

// Verifier checks purchase tokens with the androidpublisher API using
// service account credentials.
type Verifier struct {
	serviceAccountJSON []byte
	packageName        string
	subscriptions      map[string]bool
	log                *zap.Logger
}

// New builds a Google verifier. subscriptionSKUs lists product ids that
// must be checked through the subscriptions API rather than the
// one-time products API.
func New(serviceAccountJSON []byte, packageName string, subscriptionSKUs []string, log *zap.Logger) *Verifier {
	subs := make(map[string]bool, len(subscriptionSKUs))
	for _, sku := range subscriptionSKUs {
		subs[sku] = true
	}
	return &Verifier{
		serviceAccountJSON: serviceAccountJSON,
		packageName:        packageName,
		subscriptions:      subs,
		log:                log,
	}
}

// VerifyReceipt implements verify.Verifier. receipt is the purchase
// token from the Play Billing client.
func (v *Verifier) VerifyReceipt(ctx context.Context, receipt, productID string) (*verify.Result, error) {
	svc, err := v.newService(ctx)
	if err != nil {
		return nil, err
	}

	if v.subscriptions[productID] {
		return v.verifySubscription(ctx, svc, receipt, productID)
	}
	return v.verifyProduct(ctx, svc, receipt, productID)
}

func (v *Verifier) newService(ctx context.Context) (*androidpublisher.Service, error) {
	creds, err := google.CredentialsFromJSON(ctx, v.serviceAccountJSON, androidpublisher.AndroidpublisherScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account credentials: %w", err)
	}

	svc, err := androidpublisher.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create android publisher client: %w", err)
	}
	return svc, nil
}

func (v *Verifier) verifyProduct(ctx context.Context, svc *androidpublisher.Service, token, productID string) (*verify.Result, error) {
	purchase, err := svc.Purchases.Products.Get(v.packageName, productID, token).Context(ctx).Do()
	if err != nil {
		// A 404 means the token is unknown to Play; that is an invalid
		// receipt, not an infrastructure failure.
		v.log.Debug("product purchase lookup failed", zap.Error(err))
		return &verify.Result{Valid: false}, nil
	}

	if purchase.PurchaseState != purchaseStatePurchased {
		return &verify.Result{Valid: false}, nil
	}

	return &verify.Result{
		Valid:         true,
		TransactionID: token,
		ProductID:     productID,
	}, nil
}

func (v *Verifier) verifySubscription(ctx context.Context, svc *androidpublisher.Service, token, productID string) (*verify.Result, error) {
	sub, err := svc.Purchases.Subscriptions.Get(v.packageName, productID, token).Context(ctx).Do()
	if err != nil {
		v.log.Debug("subscription purchase lookup failed", zap.Error(err))
		return &verify.Result{Valid: false}, nil
	}

	expiresAt := time.UnixMilli(sub.ExpiryTimeMillis)
	paid := sub.PaymentState != nil && *sub.PaymentState == 1

	return &verify.Result{
		Valid:                 paid && expiresAt.After(time.Now()),
		TransactionID:         token,
		OriginalTransactionID: sub.LinkedPurchaseToken,
		ProductID:             productID,
		ExpiresAt:             expiresAt,
		AutoRenewing:          sub.AutoRenewing,
	}, nil
}
