// Package playbilling drives the Google Play Billing client behind the
// unified iapbridge API. The billing client is supplied by the host
// application (a gomobile binding or a test fake) through the
// BillingClient interface; this package owns the single
// purchases-updated listener per connection, translates the fixed
// response-code table into the unified taxonomy, and tracks concurrent
// purchase flows by correlation id.
package playbilling

import (
	"context"
	"fmt"
	"time"
)

// ResponseCode mirrors BillingClient.BillingResponseCode.
type ResponseCode int

const (
	ResponseServiceTimeout      ResponseCode = -3
	ResponseFeatureNotSupported ResponseCode = -2
	ResponseServiceDisconnected ResponseCode = -1
	ResponseOK                  ResponseCode = 0
	ResponseUserCanceled        ResponseCode = 1
	ResponseServiceUnavailable  ResponseCode = 2
	ResponseBillingUnavailable  ResponseCode = 3
	ResponseItemUnavailable     ResponseCode = 4
	ResponseDeveloperError      ResponseCode = 5
	ResponseError               ResponseCode = 6
	ResponseItemAlreadyOwned    ResponseCode = 7
	ResponseItemNotOwned        ResponseCode = 8
	ResponseNetworkError        ResponseCode = 12
)

// BillingResult is the outcome of one billing client call.
type BillingResult struct {
	Code         ResponseCode
	DebugMessage string
}

// OK reports whether the call succeeded.
func (r BillingResult) OK() bool { return r.Code == ResponseOK }

func (r BillingResult) String() string {
	return fmt.Sprintf("billing result %d: %s", r.Code, r.DebugMessage)
}

// PurchaseState mirrors Purchase.PurchaseState.
type PurchaseState int

const (
	PurchaseStateUnspecified PurchaseState = 0
	PurchaseStatePurchased   PurchaseState = 1
	PurchaseStatePending     PurchaseState = 2
)

// Purchase is one native Play Billing purchase.
type Purchase struct {
	OrderID        string
	ProductIDs     []string
	PurchaseToken  string
	PurchaseState  PurchaseState
	PurchaseTime   time.Time
	IsAutoRenewing bool
	IsAcknowledged bool
	Quantity       int
	Signature      string
	OriginalJSON   string
}

// OneTimeOfferDetails is the pricing of a one-time product.
type OneTimeOfferDetails struct {
	FormattedPrice    string
	PriceAmountMicros int64
	PriceCurrencyCode string
}

// PricingPhase is one step of a subscription offer pricing schedule.
type PricingPhase struct {
	BillingPeriod     string // ISO-8601
	BillingCycleCount int
	RecurrenceMode    int // 1 infinite, 2 finite, 3 non-recurring
	FormattedPrice    string
	PriceAmountMicros int64
	PriceCurrencyCode string
}

// SubscriptionOfferDetails is one purchasable offer of a subscription.
type SubscriptionOfferDetails struct {
	OfferID       string
	BasePlanID    string
	OfferToken    string
	PricingPhases []PricingPhase
}

// ProductDetails is the native catalog entry. Exactly one of
// OneTimeOffer and SubscriptionOffers is populated, which decides the
// product type.
type ProductDetails struct {
	ProductID          string
	Title              string
	Description        string
	OneTimeOffer       *OneTimeOfferDetails
	SubscriptionOffers []SubscriptionOfferDetails
}

// BillingFlowParams parameterizes one launch of the purchase sheet.
type BillingFlowParams struct {
	ProductID           string
	OfferToken          string
	ObfuscatedAccountID string
	ObfuscatedProfileID string
	IsSubscription      bool
}

// ActivityHandle is the opaque UI context the purchase sheet is
// launched from. It is injected explicitly at driver construction;
// there is no automatic discovery.
type ActivityHandle interface{}

// ConnectionListener receives connection lifecycle callbacks.
type ConnectionListener interface {
	OnBillingSetupFinished(result BillingResult)
	OnBillingServiceDisconnected()
}

// PurchasesUpdatedListener receives the purchase-updated callback, the
// single native stream all purchase outcomes arrive on.
type PurchasesUpdatedListener interface {
	OnPurchasesUpdated(result BillingResult, purchases []Purchase)
}

// BillingClient abstracts com.android.billingclient. The host supplies
// the implementation; callbacks arrive on the client's own goroutine.
type BillingClient interface {
	// StartConnection begins the session. Completion is reported to the
	// connection listener; purchase outcomes to the purchases listener.
	StartConnection(conn ConnectionListener, purchases PurchasesUpdatedListener)

	// EndConnection tears the session down.
	EndConnection()

	// QueryProductDetails loads catalog metadata for the given product
	// type ("inapp" or "subs").
	QueryProductDetails(ctx context.Context, productIDs []string, productType string) ([]ProductDetails, BillingResult)

	// LaunchBillingFlow opens the purchase sheet. The outcome arrives on
	// the purchases-updated listener, not the return value.
	LaunchBillingFlow(activity ActivityHandle, params BillingFlowParams) BillingResult

	// QueryPurchases returns the user's current purchases of the given
	// product type.
	QueryPurchases(ctx context.Context, productType string) ([]Purchase, BillingResult)

	// AcknowledgePurchase acknowledges a non-consumable purchase.
	AcknowledgePurchase(ctx context.Context, purchaseToken string) BillingResult

	// ConsumePurchase consumes a consumable purchase, which implicitly
	// acknowledges it.
	ConsumePurchase(ctx context.Context, purchaseToken string) BillingResult
}
