package playbilling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iapbridge "github.com/bivex/iap-bridge"
)

func TestConvertProduct(t *testing.T) {
	t.Run("one-time product", func(t *testing.T) {
		p := convertProduct(ProductDetails{
			ProductID:   "coins_100",
			Title:       "100 Coins",
			Description: "A pile of coins",
			OneTimeOffer: &OneTimeOfferDetails{
				FormattedPrice:    "$0.99",
				PriceAmountMicros: 990_000,
				PriceCurrencyCode: "USD",
			},
		})

		assert.Equal(t, iapbridge.PlatformAndroid, p.Platform)
		assert.Equal(t, iapbridge.ProductTypeInApp, p.Type)
		assert.Equal(t, "$0.99", p.DisplayPrice)
		assert.InDelta(t, 0.99, p.Price, 1e-9)
		assert.Equal(t, "USD", p.Currency)
	})

	t.Run("subscription takes pricing from the first phase of the first offer", func(t *testing.T) {
		p := convertProduct(ProductDetails{
			ProductID: "premium_monthly",
			SubscriptionOffers: []SubscriptionOfferDetails{
				{
					OfferID:    "intro",
					BasePlanID: "monthly",
					OfferToken: "tok-intro",
					PricingPhases: []PricingPhase{
						{BillingPeriod: "P1W", FormattedPrice: "Free", PriceAmountMicros: 0, PriceCurrencyCode: "USD", RecurrenceMode: 2, BillingCycleCount: 1},
						{BillingPeriod: "P1M", FormattedPrice: "$4.99", PriceAmountMicros: 4_990_000, PriceCurrencyCode: "USD", RecurrenceMode: 1},
					},
				},
				{
					BasePlanID: "monthly",
					OfferToken: "tok-base",
					PricingPhases: []PricingPhase{
						{BillingPeriod: "P1M", FormattedPrice: "$4.99", PriceAmountMicros: 4_990_000, PriceCurrencyCode: "USD", RecurrenceMode: 1},
					},
				},
			},
		})

		assert.Equal(t, iapbridge.ProductTypeSubs, p.Type)
		assert.Equal(t, "Free", p.DisplayPrice)
		require.Len(t, p.SubscriptionOffers, 2)
		assert.Equal(t, "tok-intro", p.SubscriptionOffers[0].OfferToken)
		require.Len(t, p.SubscriptionOffers[0].PricingPhases, 2)
		assert.Equal(t, iapbridge.RecurrenceModeFiniteRecurring, p.SubscriptionOffers[0].PricingPhases[0].RecurrenceMode)
	})

	t.Run("entry without pricing keeps the id", func(t *testing.T) {
		p := convertProduct(ProductDetails{ProductID: "mystery"})
		assert.Equal(t, "mystery", p.ID)
		assert.Equal(t, iapbridge.ProductTypeInApp, p.Type)
		assert.Empty(t, p.DisplayPrice)
	})
}

func TestConvertPurchase(t *testing.T) {
	now := time.Now()
	up := convertPurchase(Purchase{
		OrderID:        "GPA.1234",
		ProductIDs:     []string{"premium_monthly"},
		PurchaseToken:  "token-1",
		PurchaseState:  PurchaseStatePurchased,
		PurchaseTime:   now,
		IsAutoRenewing: true,
		IsAcknowledged: true,
		Quantity:       1,
		Signature:      "sig",
		OriginalJSON:   `{"orderId":"GPA.1234"}`,
	})

	assert.Equal(t, iapbridge.PlatformAndroid, up.Platform)
	assert.Equal(t, "premium_monthly", up.ProductID())
	assert.Equal(t, "GPA.1234", up.TransactionID)
	assert.Equal(t, iapbridge.PurchaseStatePurchased, up.State)
	assert.Equal(t, now, up.PurchasedAt)
	assert.True(t, up.IsAutoRenewing)
	assert.True(t, up.IsAcknowledged)
	assert.Equal(t, "token-1", up.PurchaseToken)
	assert.Equal(t, "sig", up.Signature)

	pending := convertPurchase(Purchase{PurchaseState: PurchaseStatePending})
	assert.Equal(t, iapbridge.PurchaseStatePending, pending.State)

	unknown := convertPurchase(Purchase{PurchaseState: PurchaseState(9)})
	assert.Equal(t, iapbridge.PurchaseStateUnknown, unknown.State)
}
