package storekit

import (
	iapbridge "github.com/bivex/iap-bridge"
)

// MapErrorCode translates a StoreKit error code into the unified
// taxonomy. Total: codes outside the table fall through to Unknown.
func MapErrorCode(code ErrorCode) iapbridge.ErrorCode {
	switch code {
	case ErrCodePaymentCancelled, ErrCodeOverlayCancelled:
		return iapbridge.ErrorCodeUserCancelled
	case ErrCodeClientInvalid,
		ErrCodeCloudServicePermissionDenied,
		ErrCodeCloudServiceRevoked:
		return iapbridge.ErrorCodeServiceError
	case ErrCodeCloudServiceNetworkConnection:
		return iapbridge.ErrorCodeNetworkError
	case ErrCodePaymentNotAllowed:
		return iapbridge.ErrorCodeBillingUnavailable
	case ErrCodeStoreProductNotAvailable:
		return iapbridge.ErrorCodeItemUnavailable
	case ErrCodePaymentInvalid,
		ErrCodePrivacyAcknowledgementRequired,
		ErrCodeUnauthorizedRequestData,
		ErrCodeInvalidOfferIdentifier,
		ErrCodeInvalidSignature,
		ErrCodeMissingOfferParams,
		ErrCodeInvalidOfferPrice:
		return iapbridge.ErrorCodeDeveloperError
	default:
		return iapbridge.ErrorCodeUnknown
	}
}

// mapError converts a native queue error into a unified PurchaseError,
// attributed to productID when known.
func mapError(err *Error, productID string) *iapbridge.PurchaseError {
	if err == nil {
		return iapbridge.NewPurchaseError(iapbridge.ErrorCodeUnknown, "unknown storekit failure", productID)
	}
	msg := err.Description
	if msg == "" {
		msg = "storekit request failed"
	}
	return iapbridge.NewPurchaseError(MapErrorCode(err.Code), msg, productID)
}
