package playbilling

import (
	iapbridge "github.com/bivex/iap-bridge"
)

const microsPerUnit = 1_000_000

// convertProduct maps native product details into the unified model.
// Whether one-time or subscription offer details are present decides
// the product type; for subscriptions the display price and currency
// come from the first pricing phase of the first offer.
func convertProduct(d ProductDetails) iapbridge.Product {
	p := iapbridge.Product{
		Platform:    iapbridge.PlatformAndroid,
		ID:          d.ProductID,
		Title:       d.Title,
		Description: d.Description,
	}

	switch {
	case d.OneTimeOffer != nil:
		p.Type = iapbridge.ProductTypeInApp
		p.DisplayPrice = d.OneTimeOffer.FormattedPrice
		p.Price = float64(d.OneTimeOffer.PriceAmountMicros) / microsPerUnit
		p.Currency = d.OneTimeOffer.PriceCurrencyCode

	case len(d.SubscriptionOffers) > 0:
		p.Type = iapbridge.ProductTypeSubs
		p.SubscriptionOffers = convertOffers(d.SubscriptionOffers)

		if phases := d.SubscriptionOffers[0].PricingPhases; len(phases) > 0 {
			first := phases[0]
			p.DisplayPrice = first.FormattedPrice
			p.Price = float64(first.PriceAmountMicros) / microsPerUnit
			p.Currency = first.PriceCurrencyCode
		}

	default:
		// Catalog entry with no pricing at all; surface it as a one-time
		// product with empty price fields rather than dropping it.
		p.Type = iapbridge.ProductTypeInApp
	}

	return p
}

func convertOffers(offers []SubscriptionOfferDetails) []iapbridge.SubscriptionOffer {
	out := make([]iapbridge.SubscriptionOffer, 0, len(offers))
	for _, offer := range offers {
		phases := make([]iapbridge.PricingPhase, 0, len(offer.PricingPhases))
		for _, phase := range offer.PricingPhases {
			phases = append(phases, iapbridge.PricingPhase{
				BillingPeriod:     phase.BillingPeriod,
				BillingCycleCount: phase.BillingCycleCount,
				RecurrenceMode:    iapbridge.RecurrenceMode(phase.RecurrenceMode),
				FormattedPrice:    phase.FormattedPrice,
				PriceAmountMicros: phase.PriceAmountMicros,
				PriceCurrencyCode: phase.PriceCurrencyCode,
			})
		}
		out = append(out, iapbridge.SubscriptionOffer{
			OfferID:       offer.OfferID,
			BasePlanID:    offer.BasePlanID,
			OfferToken:    offer.OfferToken,
			PricingPhases: phases,
		})
	}
	return out
}

// convertPurchase maps a native purchase into the unified model,
// carrying through token, signature, acknowledgment and the original
// JSON blob for audit.
func convertPurchase(p Purchase) iapbridge.Purchase {
	return iapbridge.Purchase{
		Platform:       iapbridge.PlatformAndroid,
		ProductIDs:     append([]string(nil), p.ProductIDs...),
		TransactionID:  p.OrderID,
		State:          convertPurchaseState(p.PurchaseState),
		PurchasedAt:    p.PurchaseTime,
		Quantity:       p.Quantity,
		IsAutoRenewing: p.IsAutoRenewing,
		PurchaseToken:  p.PurchaseToken,
		Signature:      p.Signature,
		IsAcknowledged: p.IsAcknowledged,
		OriginalJSON:   p.OriginalJSON,
	}
}

func convertPurchaseState(state PurchaseState) iapbridge.PurchaseState {
	switch state {
	case PurchaseStatePurchased:
		return iapbridge.PurchaseStatePurchased
	case PurchaseStatePending:
		return iapbridge.PurchaseStatePending
	default:
		return iapbridge.PurchaseStateUnknown
	}
}
