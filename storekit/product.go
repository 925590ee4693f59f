package storekit

import (
	"strconv"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	iapbridge "github.com/bivex/iap-bridge"
)

// convertProduct maps a native SKProduct view into the unified model.
// Localized metadata is read defensively: the store sometimes returns
// products with absent locale information, in which case the display
// price falls back to a locale-formatted or raw numeric string.
func convertProduct(p Product) iapbridge.Product {
	typ := iapbridge.ProductTypeInApp
	if p.IsSubscription() {
		typ = iapbridge.ProductTypeSubs
	}

	display := p.LocalizedPrice
	if display == "" {
		display = formatPrice(p.Price, p.CurrencyCode, p.PriceLocale)
	}

	return iapbridge.Product{
		Platform:           iapbridge.PlatformIOS,
		ID:                 p.Identifier,
		Type:               typ,
		Title:              p.LocalizedTitle,
		Description:        p.LocalizedDescription,
		DisplayPrice:       display,
		Price:              p.Price,
		Currency:           p.CurrencyCode,
		IsFamilyShareable:  p.IsFamilyShareable,
		SubscriptionPeriod: p.SubscriptionPeriod,
	}
}

// formatPrice renders price in the product's locale and currency. When
// the currency code is unusable the raw numeric string is returned.
func formatPrice(price float64, currencyCode, locale string) string {
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return strconv.FormatFloat(price, 'f', -1, 64)
	}
	printer := message.NewPrinter(language.Make(locale))
	return printer.Sprint(currency.Symbol(unit.Amount(price)))
}
