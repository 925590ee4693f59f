package iapbridge

import (
	"time"
)

// Platform identifies which native store a value originated from.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// ProductQueryType selects which catalog segment a product fetch targets.
type ProductQueryType string

const (
	ProductQueryInApp ProductQueryType = "inapp"
	ProductQuerySubs  ProductQueryType = "subs"
	ProductQueryAll   ProductQueryType = "all"
)

// ProductType distinguishes one-time products from subscriptions.
type ProductType string

const (
	ProductTypeInApp ProductType = "inapp"
	ProductTypeSubs  ProductType = "subs"
)

// RecurrenceMode describes how a subscription pricing phase repeats.
// Values follow the Play Billing recurrence constants.
type RecurrenceMode int

const (
	RecurrenceModeUnknown           RecurrenceMode = 0
	RecurrenceModeInfiniteRecurring RecurrenceMode = 1
	RecurrenceModeFiniteRecurring   RecurrenceMode = 2
	RecurrenceModeNonRecurring      RecurrenceMode = 3
)

// PricingPhase is one step of a subscription offer's pricing schedule,
// e.g. a free trial followed by a recurring base price.
type PricingPhase struct {
	BillingPeriod     string         `json:"billingPeriod"` // ISO-8601, e.g. "P1M"
	BillingCycleCount int            `json:"billingCycleCount"`
	RecurrenceMode    RecurrenceMode `json:"recurrenceMode"`
	FormattedPrice    string         `json:"formattedPrice"`
	PriceAmountMicros int64          `json:"priceAmountMicros"`
	PriceCurrencyCode string         `json:"priceCurrencyCode"`
}

// SubscriptionOffer is a purchasable subscription offer with its full
// pricing-phase schedule (Android).
type SubscriptionOffer struct {
	OfferID       string         `json:"offerId,omitempty"`
	BasePlanID    string         `json:"basePlanId"`
	OfferToken    string         `json:"offerToken"`
	PricingPhases []PricingPhase `json:"pricingPhases"`
}

// Product is the unified view of a store catalog entry. It is an
// immutable value created fresh on every fetch; identity is the pair
// (ID, Platform).
type Product struct {
	Platform    Platform    `json:"platform"`
	ID          string      `json:"id"`
	Type        ProductType `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description"`

	// DisplayPrice is the store-localized price string when available,
	// otherwise a formatted fallback derived from Price and Currency.
	DisplayPrice string  `json:"displayPrice"`
	Price        float64 `json:"price"`
	Currency     string  `json:"currency"`

	// Android only.
	SubscriptionOffers []SubscriptionOffer `json:"subscriptionOffers,omitempty"`

	// iOS only.
	IsFamilyShareable  bool   `json:"isFamilyShareable,omitempty"`
	SubscriptionPeriod string `json:"subscriptionPeriod,omitempty"`
}

// PurchaseState is the lifecycle state of a purchase as last reported
// by the native store.
type PurchaseState string

const (
	PurchaseStateUnknown   PurchaseState = "unknown"
	PurchaseStatePending   PurchaseState = "pending"
	PurchaseStatePurchased PurchaseState = "purchased"
	PurchaseStateFailed    PurchaseState = "failed"
	PurchaseStateRestored  PurchaseState = "restored"
	PurchaseStateDeferred  PurchaseState = "deferred"
)

// Purchase is the unified record of a single native transaction.
// Each value corresponds to exactly one native transaction at the time
// of conversion; state changes yield new values, never mutation.
type Purchase struct {
	Platform      Platform      `json:"platform"`
	ProductIDs    []string      `json:"productIds"`
	TransactionID string        `json:"transactionId"`
	State         PurchaseState `json:"purchaseState"`
	PurchasedAt   time.Time     `json:"purchasedAt"`
	Quantity      int           `json:"quantity,omitempty"`

	IsAutoRenewing bool `json:"isAutoRenewing,omitempty"`

	// Android only. PurchaseToken is the server-verifiable token;
	// OriginalJSON carries the raw purchase payload for audit.
	PurchaseToken  string `json:"purchaseToken,omitempty"`
	Signature      string `json:"signature,omitempty"`
	IsAcknowledged bool   `json:"isAcknowledged,omitempty"`
	OriginalJSON   string `json:"originalJson,omitempty"`

	// iOS only.
	OriginalTransactionID string `json:"originalTransactionId,omitempty"`
	TransactionReceipt    string `json:"transactionReceipt,omitempty"`
}

// ProductID returns the primary product id of the purchase. Android
// purchases may carry several ids; the first one is primary.
func (p *Purchase) ProductID() string {
	if len(p.ProductIDs) == 0 {
		return ""
	}
	return p.ProductIDs[0]
}

// IsTerminal reports whether the purchase has reached a final state and
// no further transitions will be delivered for it.
func (p *Purchase) IsTerminal() bool {
	switch p.State {
	case PurchaseStatePurchased, PurchaseStateFailed, PurchaseStateRestored:
		return true
	default:
		return false
	}
}

// ActiveSubscription is a derived, read-only view over the purchase
// list. It is computed on demand and never persisted.
type ActiveSubscription struct {
	ProductID     string     `json:"productId"`
	IsActive      bool       `json:"isActive"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"` // nil when the store does not report expiry client-side
	AutoRenewing  bool       `json:"autoRenewing"`
	TransactionID string     `json:"transactionId"`
}

// DaysUntilExpiry returns the number of whole days until expiry, or -1
// when the expiry date is unknown.
func (s *ActiveSubscription) DaysUntilExpiry(now time.Time) int {
	if s.ExpiresAt == nil {
		return -1
	}
	d := s.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// RequestPurchaseProps describes a one-time purchase request.
type RequestPurchaseProps struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity,omitempty"` // iOS, defaults to 1

	// iOS only.
	AppAccountToken string `json:"appAccountToken,omitempty"`

	// Android only.
	ObfuscatedAccountID string `json:"obfuscatedAccountId,omitempty"`
	ObfuscatedProfileID string `json:"obfuscatedProfileId,omitempty"`
}

// RequestSubscriptionProps describes a subscription purchase request.
type RequestSubscriptionProps struct {
	SKU string `json:"sku"`

	// Android only. OfferToken selects a specific subscription offer;
	// empty selects the first offer returned by the store.
	OfferToken          string `json:"offerToken,omitempty"`
	ObfuscatedAccountID string `json:"obfuscatedAccountId,omitempty"`
	ObfuscatedProfileID string `json:"obfuscatedProfileId,omitempty"`

	// iOS only.
	AppAccountToken string `json:"appAccountToken,omitempty"`
}

// ReceiptValidationProps carries the platform receipt material for
// server-side validation.
type ReceiptValidationProps struct {
	SKU string `json:"sku"`

	// iOS: base64 receipt payload. Android: purchase token.
	Receipt string `json:"receipt"`

	// Android only: whether the sku is a subscription.
	IsSubscription bool `json:"isSubscription,omitempty"`
}

// ReceiptValidationResult is the unified outcome of a receipt check.
type ReceiptValidationResult struct {
	IsValid       bool       `json:"isValid"`
	ProductID     string     `json:"productId,omitempty"`
	TransactionID string     `json:"transactionId,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	AutoRenewing  bool       `json:"autoRenewing,omitempty"`
}
