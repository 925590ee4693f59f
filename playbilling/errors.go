package playbilling

import (
	iapbridge "github.com/bivex/iap-bridge"
)

// MapResponseCode translates a Play Billing response code into the
// unified taxonomy. Total: codes outside the table fall through to
// Unknown.
func MapResponseCode(code ResponseCode) iapbridge.ErrorCode {
	switch code {
	case ResponseUserCanceled:
		return iapbridge.ErrorCodeUserCancelled
	case ResponseServiceUnavailable, ResponseServiceTimeout:
		return iapbridge.ErrorCodeServiceError
	case ResponseServiceDisconnected:
		return iapbridge.ErrorCodeServiceDisconnected
	case ResponseBillingUnavailable:
		return iapbridge.ErrorCodeBillingUnavailable
	case ResponseItemUnavailable:
		return iapbridge.ErrorCodeItemUnavailable
	case ResponseDeveloperError:
		return iapbridge.ErrorCodeDeveloperError
	case ResponseError:
		return iapbridge.ErrorCodeServiceError
	case ResponseItemAlreadyOwned:
		return iapbridge.ErrorCodeAlreadyOwned
	case ResponseItemNotOwned:
		return iapbridge.ErrorCodeItemNotOwned
	case ResponseFeatureNotSupported:
		return iapbridge.ErrorCodeFeatureNotSupported
	case ResponseNetworkError:
		return iapbridge.ErrorCodeNetworkError
	default:
		return iapbridge.ErrorCodeUnknown
	}
}

// mapResult converts a failed billing result into a unified error,
// attributed to productID when known.
func mapResult(result BillingResult, productID string) *iapbridge.PurchaseError {
	msg := result.DebugMessage
	if msg == "" {
		msg = "billing request failed"
	}
	return iapbridge.NewPurchaseError(MapResponseCode(result.Code), msg, productID)
}
