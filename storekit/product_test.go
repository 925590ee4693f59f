package storekit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	iapbridge "github.com/bivex/iap-bridge"
)

func TestConvertProduct(t *testing.T) {
	t.Run("prefers the store-formatted price", func(t *testing.T) {
		p := convertProduct(Product{
			Identifier:           "premium_upgrade",
			LocalizedTitle:       "Premium Upgrade",
			LocalizedDescription: "Unlock everything",
			Price:                9.99,
			CurrencyCode:         "USD",
			LocalizedPrice:       "$9.99",
		})

		assert.Equal(t, iapbridge.PlatformIOS, p.Platform)
		assert.Equal(t, iapbridge.ProductTypeInApp, p.Type)
		assert.Equal(t, "$9.99", p.DisplayPrice)
		assert.Equal(t, 9.99, p.Price)
		assert.Equal(t, "USD", p.Currency)
	})

	t.Run("subscription period marks the product as subs", func(t *testing.T) {
		p := convertProduct(Product{Identifier: "premium_monthly", SubscriptionPeriod: "P1M"})
		assert.Equal(t, iapbridge.ProductTypeSubs, p.Type)
		assert.Equal(t, "P1M", p.SubscriptionPeriod)
	})

	t.Run("formats missing display price from currency and locale", func(t *testing.T) {
		p := convertProduct(Product{
			Identifier:   "coins_100",
			Price:        4.99,
			CurrencyCode: "USD",
			PriceLocale:  "en-US",
		})
		assert.Contains(t, p.DisplayPrice, "4.99")
	})
}

func TestFormatPriceFallsBackOnBadCurrency(t *testing.T) {
	assert.Equal(t, "4.99", formatPrice(4.99, "", "en-US"))
	assert.Equal(t, "4.99", formatPrice(4.99, "NOPE", "en-US"))
}
