package iapbridge

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed set of unified failure codes. Native response
// and error codes are always translated into this set before reaching
// callers; raw platform codes never leak.
type ErrorCode string

const (
	ErrorCodeUnknown              ErrorCode = "E_UNKNOWN"
	ErrorCodeUserCancelled        ErrorCode = "E_USER_CANCELLED"
	ErrorCodeServiceError         ErrorCode = "E_SERVICE_ERROR"
	ErrorCodeServiceDisconnected  ErrorCode = "E_SERVICE_DISCONNECTED"
	ErrorCodeBillingUnavailable   ErrorCode = "E_BILLING_UNAVAILABLE"
	ErrorCodeItemUnavailable      ErrorCode = "E_ITEM_UNAVAILABLE"
	ErrorCodeDeveloperError       ErrorCode = "E_DEVELOPER_ERROR"
	ErrorCodeAlreadyOwned         ErrorCode = "E_ALREADY_OWNED"
	ErrorCodeItemNotOwned         ErrorCode = "E_ITEM_NOT_OWNED"
	ErrorCodeFeatureNotSupported  ErrorCode = "E_FEATURE_NOT_SUPPORTED"
	ErrorCodeNetworkError         ErrorCode = "E_NETWORK_ERROR"
	ErrorCodeNotPrepared          ErrorCode = "E_NOT_PREPARED"
	ErrorCodeEmptySKUList         ErrorCode = "E_EMPTY_SKU_LIST"
	ErrorCodeActivityUnavailable  ErrorCode = "E_ACTIVITY_UNAVAILABLE"
	ErrorCodeDeferred             ErrorCode = "E_DEFERRED"
	ErrorCodeReceiptFailed        ErrorCode = "E_RECEIPT_FAILED"
	ErrorCodeVerificationFailed   ErrorCode = "E_PURCHASE_VERIFICATION_FAILED"
	ErrorCodeInterrupted          ErrorCode = "E_INTERRUPTED"
)

// PurchaseError is the typed error surfaced on every failure path, both
// on the error stream and as the return of the in-flight call.
type PurchaseError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	ProductID string    `json:"productId,omitempty"`
}

func (e *PurchaseError) Error() string {
	if e.ProductID != "" {
		return fmt.Sprintf("%s: %s (product %s)", e.Code, e.Message, e.ProductID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsFatal reports whether the error terminates the operation that
// produced it. Deferred purchases are informational: the flow is still
// in progress and a terminal event will follow.
func (e *PurchaseError) IsFatal() bool {
	return e.Code != ErrorCodeDeferred
}

// NewPurchaseError builds a PurchaseError for the given product.
func NewPurchaseError(code ErrorCode, message, productID string) *PurchaseError {
	return &PurchaseError{Code: code, Message: message, ProductID: productID}
}

// AsPurchaseError unwraps err into a *PurchaseError if one is present
// anywhere in its chain.
func AsPurchaseError(err error) (*PurchaseError, bool) {
	var pe *PurchaseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// CodeOf returns the unified code of err, or ErrorCodeUnknown when err
// is not a PurchaseError.
func CodeOf(err error) ErrorCode {
	if pe, ok := AsPurchaseError(err); ok {
		return pe.Code
	}
	return ErrorCodeUnknown
}
