package storekit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	iapbridge "github.com/bivex/iap-bridge"
)

func TestMapErrorCode(t *testing.T) {
	cases := []struct {
		name string
		code ErrorCode
		want iapbridge.ErrorCode
	}{
		{"payment cancelled", ErrCodePaymentCancelled, iapbridge.ErrorCodeUserCancelled},
		{"overlay cancelled", ErrCodeOverlayCancelled, iapbridge.ErrorCodeUserCancelled},
		{"client invalid", ErrCodeClientInvalid, iapbridge.ErrorCodeServiceError},
		{"cloud permission denied", ErrCodeCloudServicePermissionDenied, iapbridge.ErrorCodeServiceError},
		{"cloud revoked", ErrCodeCloudServiceRevoked, iapbridge.ErrorCodeServiceError},
		{"cloud network", ErrCodeCloudServiceNetworkConnection, iapbridge.ErrorCodeNetworkError},
		{"payment not allowed", ErrCodePaymentNotAllowed, iapbridge.ErrorCodeBillingUnavailable},
		{"product not available", ErrCodeStoreProductNotAvailable, iapbridge.ErrorCodeItemUnavailable},
		{"payment invalid", ErrCodePaymentInvalid, iapbridge.ErrorCodeDeveloperError},
		{"invalid offer identifier", ErrCodeInvalidOfferIdentifier, iapbridge.ErrorCodeDeveloperError},
		{"invalid signature", ErrCodeInvalidSignature, iapbridge.ErrorCodeDeveloperError},
		{"unknown", ErrCodeUnknown, iapbridge.ErrorCodeUnknown},
		{"out of range", ErrorCode(99), iapbridge.ErrorCodeUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MapErrorCode(tc.code))
		})
	}
}

func TestMapError(t *testing.T) {
	t.Run("carries description and product id", func(t *testing.T) {
		perr := mapError(&Error{Code: ErrCodePaymentCancelled, Description: "user cancelled"}, "coins_100")
		assert.Equal(t, iapbridge.ErrorCodeUserCancelled, perr.Code)
		assert.Equal(t, "user cancelled", perr.Message)
		assert.Equal(t, "coins_100", perr.ProductID)
	})

	t.Run("nil error falls back to unknown", func(t *testing.T) {
		perr := mapError(nil, "coins_100")
		assert.Equal(t, iapbridge.ErrorCodeUnknown, perr.Code)
		assert.Equal(t, "coins_100", perr.ProductID)
	})

	t.Run("empty description gets a default message", func(t *testing.T) {
		perr := mapError(&Error{Code: ErrCodePaymentInvalid}, "")
		assert.NotEmpty(t, perr.Message)
	})
}
