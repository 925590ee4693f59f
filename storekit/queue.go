// Package storekit drives the Apple StoreKit payment queue behind the
// unified iapbridge API. The queue itself is supplied by the host
// application (a gomobile binding or a test fake) through the
// PaymentQueue interface; this package owns the single observer
// registration, converts native transactions into unified purchases,
// and maps StoreKit error codes into the unified taxonomy.
package storekit

import (
	"fmt"
	"time"
)

// TransactionState mirrors SKPaymentTransactionState.
type TransactionState int

const (
	TransactionStatePurchasing TransactionState = 0
	TransactionStatePurchased  TransactionState = 1
	TransactionStateFailed     TransactionState = 2
	TransactionStateRestored   TransactionState = 3
	TransactionStateDeferred   TransactionState = 4
)

// ErrorCode mirrors the SKError domain codes.
type ErrorCode int

const (
	ErrCodeUnknown                          ErrorCode = 0
	ErrCodeClientInvalid                    ErrorCode = 1
	ErrCodePaymentCancelled                 ErrorCode = 2
	ErrCodePaymentInvalid                   ErrorCode = 3
	ErrCodePaymentNotAllowed                ErrorCode = 4
	ErrCodeStoreProductNotAvailable         ErrorCode = 5
	ErrCodeCloudServicePermissionDenied     ErrorCode = 6
	ErrCodeCloudServiceNetworkConnection    ErrorCode = 7
	ErrCodeCloudServiceRevoked              ErrorCode = 8
	ErrCodePrivacyAcknowledgementRequired   ErrorCode = 9
	ErrCodeUnauthorizedRequestData          ErrorCode = 10
	ErrCodeInvalidOfferIdentifier           ErrorCode = 11
	ErrCodeInvalidSignature                 ErrorCode = 12
	ErrCodeMissingOfferParams               ErrorCode = 13
	ErrCodeInvalidOfferPrice                ErrorCode = 14
	ErrCodeOverlayCancelled                 ErrorCode = 15
)

// Error is a StoreKit-domain error as delivered by the payment queue.
type Error struct {
	Code        ErrorCode
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("storekit error %d: %s", e.Code, e.Description)
}

// Payment is a payment submitted to the queue.
type Payment struct {
	ProductID           string
	Quantity            int
	ApplicationUsername string
}

// Transaction is one SKPaymentTransaction as reported by the queue.
type Transaction struct {
	Identifier         string
	OriginalIdentifier string
	State              TransactionState
	Payment            Payment
	Date               time.Time
	Err                *Error // set when State is failed
}

// Product is the native SKProduct view handed over by the queue. Any
// localized field may be empty when store metadata is absent.
type Product struct {
	Identifier           string
	LocalizedTitle       string
	LocalizedDescription string
	Price                float64
	CurrencyCode         string
	PriceLocale          string // BCP-47 tag, e.g. "en-US"
	LocalizedPrice       string // preformatted by the store, may be empty
	IsFamilyShareable    bool
	SubscriptionPeriod   string // ISO-8601, empty for one-time products
}

// IsSubscription reports whether the product is an auto-renewable
// subscription.
func (p *Product) IsSubscription() bool { return p.SubscriptionPeriod != "" }

// TransactionObserver receives raw payment queue callbacks. The driver
// is the single observer per process; at most one observer may be
// registered with a queue at a time.
type TransactionObserver interface {
	// UpdatedTransactions delivers a batch of state transitions in queue
	// order.
	UpdatedTransactions(transactions []Transaction)

	// RestoreCompleted signals the end of a restore pass.
	RestoreCompleted()

	// RestoreFailed signals a restore pass aborted with an error.
	RestoreFailed(err *Error)

	// PromotedProduct delivers an App Store promoted product the user
	// tapped before the app was running.
	PromotedProduct(product Product)
}

// ProductsDelegate receives the outcome of one products request.
// Exactly one of the two callbacks fires per request.
type ProductsDelegate interface {
	ProductsLoaded(products []Product, invalidIdentifiers []string)
	ProductsRequestFailed(err *Error)
}

// ProductsRequest is the handle of an outstanding product-metadata
// lookup. Cancelling it suppresses its delegate callbacks.
type ProductsRequest interface {
	Cancel()
}

// PaymentQueue abstracts SKPaymentQueue plus the products-request API.
// The host supplies the implementation; all callbacks arrive on the
// queue's own callback goroutine.
type PaymentQueue interface {
	// CanMakePayments reports whether the device user is allowed to
	// authorize payments.
	CanMakePayments() bool

	// SetObserver registers the transaction observer. Passing nil
	// detaches the current observer.
	SetObserver(observer TransactionObserver)

	// FetchProducts starts an asynchronous metadata lookup; results are
	// delivered to the delegate, keyed by the returned request handle.
	FetchProducts(identifiers []string, delegate ProductsDelegate) ProductsRequest

	// AddPayment submits a payment, launching the native payment sheet.
	AddPayment(payment Payment)

	// FinishTransaction retires the transaction with the OS queue.
	// Unknown identifiers are ignored.
	FinishTransaction(transactionID string)

	// RestoreCompletedTransactions replays completed transactions to the
	// observer, ending with RestoreCompleted or RestoreFailed.
	RestoreCompletedTransactions()

	// ReceiptData returns the current base64 app receipt, or empty when
	// none is on disk.
	ReceiptData() string
}
