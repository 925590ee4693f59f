package storekit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	iapbridge "github.com/bivex/iap-bridge"
	"github.com/bivex/iap-bridge/verify"
)

// pendingTransactionPrefix marks the synthetic id of the optimistic
// purchase value returned at payment-submission time. The real
// transaction arrives later through the observer.
const pendingTransactionPrefix = "pending-"

type productsResult struct {
	products []Product
	invalid  []string
	err      *Error
	perr     *iapbridge.PurchaseError
}

// productWaiter resolves exactly one outstanding products request.
type productWaiter struct {
	ch chan productsResult
}

func (w *productWaiter) ProductsLoaded(products []Product, invalidIdentifiers []string) {
	w.ch <- productsResult{products: products, invalid: invalidIdentifiers}
}

func (w *productWaiter) ProductsRequestFailed(err *Error) {
	w.ch <- productsResult{err: err}
}

type restoreResult struct {
	purchases []iapbridge.Purchase
	err       *iapbridge.PurchaseError
}

// Driver is the iOS platform adapter. It is the single transaction
// observer attached to the payment queue and must not be shared across
// queues.
type Driver struct {
	queue            PaymentQueue
	events           *iapbridge.Events
	log              *zap.Logger
	verifier         verify.Verifier
	subscriptionSKUs map[string]bool

	mu              sync.Mutex
	connected       bool
	productRequests map[ProductsRequest]*productWaiter
	restoreWaiters  []chan restoreResult
	restoreBuffer   []Transaction
	finished        map[string]struct{}
}

// DriverOption configures the driver.
type DriverOption func(*Driver)

// WithLogger attaches a logger; the default is a no-op logger.
func WithLogger(log *zap.Logger) DriverOption {
	return func(d *Driver) { d.log = log }
}

// WithReceiptVerifier wires a server-side verifier for ValidateReceipt.
func WithReceiptVerifier(v verify.Verifier) DriverOption {
	return func(d *Driver) { d.verifier = v }
}

// WithSubscriptionSKUs declares which product ids are subscriptions.
// Restored StoreKit transactions do not say what kind of product they
// belong to, so GetActiveSubscriptions needs this set to keep one-time
// products out of the subscription view.
func WithSubscriptionSKUs(skus ...string) DriverOption {
	return func(d *Driver) {
		for _, sku := range skus {
			d.subscriptionSKUs[sku] = true
		}
	}
}

// New builds the iOS driver around the host-supplied payment queue.
// Converted events are published into the given sink.
func New(queue PaymentQueue, events *iapbridge.Events, opts ...DriverOption) *Driver {
	d := &Driver{
		queue:            queue,
		events:           events,
		log:              zap.NewNop(),
		productRequests:  make(map[ProductsRequest]*productWaiter),
		finished:         make(map[string]struct{}),
		subscriptionSKUs: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Platform implements iapbridge.Driver.
func (d *Driver) Platform() iapbridge.Platform { return iapbridge.PlatformIOS }

// Connect attaches the driver as the queue observer.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		d.log.Warn("connect called on an already connected driver")
		return nil
	}
	if !d.queue.CanMakePayments() {
		err := iapbridge.NewPurchaseError(iapbridge.ErrorCodeBillingUnavailable, "this device is not allowed to make payments", "")
		d.events.EmitError(err)
		return err
	}

	d.queue.SetObserver(d)
	d.connected = true
	d.log.Debug("attached to payment queue")
	return nil
}

// Disconnect detaches the observer and fails outstanding restore
// waiters and product lookups. In-flight payment sheets are
// native-controlled and keep running.
func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}
	d.queue.SetObserver(nil)
	d.connected = false

	err := iapbridge.NewPurchaseError(iapbridge.ErrorCodeNotPrepared, "connection ended", "")
	for _, w := range d.restoreWaiters {
		w <- restoreResult{err: err}
	}
	d.restoreWaiters = nil
	d.restoreBuffer = nil

	for req, w := range d.productRequests {
		req.Cancel()
		select {
		case w.ch <- productsResult{perr: err}:
		default:
			// A native result is already queued; the waiter takes that.
		}
		delete(d.productRequests, req)
	}
	return nil
}

func (d *Driver) notPrepared(productID string) *iapbridge.PurchaseError {
	err := iapbridge.NewPurchaseError(iapbridge.ErrorCodeNotPrepared, "connection not initialized, call InitConnection first", productID)
	d.events.EmitError(err)
	return err
}

func (d *Driver) isConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// FetchProducts runs one asynchronous metadata lookup. Cancelling ctx
// cancels the native request and removes it from the pending table.
func (d *Driver) FetchProducts(ctx context.Context, skus []string, query iapbridge.ProductQueryType) ([]iapbridge.Product, error) {
	if !d.isConnected() {
		return nil, d.notPrepared("")
	}

	waiter := &productWaiter{ch: make(chan productsResult, 1)}
	req := d.queue.FetchProducts(skus, waiter)

	d.mu.Lock()
	d.productRequests[req] = waiter
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.productRequests, req)
		d.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		req.Cancel()
		return nil, ctx.Err()
	case res := <-waiter.ch:
		if res.perr != nil {
			return nil, res.perr
		}
		if res.err != nil {
			perr := mapError(res.err, "")
			d.events.EmitError(perr)
			return nil, perr
		}
		if len(res.products) == 0 && len(res.invalid) > 0 {
			perr := iapbridge.NewPurchaseError(iapbridge.ErrorCodeItemUnavailable,
				fmt.Sprintf("no products found for skus %v", res.invalid), res.invalid[0])
			d.events.EmitError(perr)
			return nil, perr
		}

		out := make([]iapbridge.Product, 0, len(res.products))
		for _, p := range res.products {
			up := convertProduct(p)
			if !matchesQuery(up.Type, query) {
				continue
			}
			out = append(out, up)
		}
		if len(res.invalid) > 0 {
			d.log.Warn("store reported invalid product identifiers", zap.Strings("skus", res.invalid))
		}
		return out, nil
	}
}

func matchesQuery(typ iapbridge.ProductType, query iapbridge.ProductQueryType) bool {
	switch query {
	case iapbridge.ProductQueryInApp:
		return typ == iapbridge.ProductTypeInApp
	case iapbridge.ProductQuerySubs:
		return typ == iapbridge.ProductTypeSubs
	default:
		return true
	}
}

// RequestPurchase submits a payment and returns an optimistic pending
// purchase. The payment queue is asynchronous: the terminal purchased
// or failed event arrives later on the streams, and the returned value
// is explicitly tagged PurchaseStatePending.
func (d *Driver) RequestPurchase(ctx context.Context, props iapbridge.RequestPurchaseProps) (*iapbridge.Purchase, error) {
	if !d.isConnected() {
		return nil, d.notPrepared(props.SKU)
	}

	quantity := props.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	d.queue.AddPayment(Payment{
		ProductID:           props.SKU,
		Quantity:            quantity,
		ApplicationUsername: props.AppAccountToken,
	})

	return d.pendingPurchase(props.SKU, quantity), nil
}

// RequestSubscription submits a subscription payment. StoreKit drives
// subscriptions through the same payment queue as one-time products.
func (d *Driver) RequestSubscription(ctx context.Context, props iapbridge.RequestSubscriptionProps) (*iapbridge.Purchase, error) {
	if !d.isConnected() {
		return nil, d.notPrepared(props.SKU)
	}

	d.queue.AddPayment(Payment{
		ProductID:           props.SKU,
		Quantity:            1,
		ApplicationUsername: props.AppAccountToken,
	})

	return d.pendingPurchase(props.SKU, 1), nil
}

func (d *Driver) pendingPurchase(sku string, quantity int) *iapbridge.Purchase {
	return &iapbridge.Purchase{
		Platform:      iapbridge.PlatformIOS,
		ProductIDs:    []string{sku},
		TransactionID: fmt.Sprintf("%s%d-%s", pendingTransactionPrefix, time.Now().Unix(), sku),
		State:         iapbridge.PurchaseStatePending,
		PurchasedAt:   time.Now(),
		Quantity:      quantity,
	}
}

// FinishTransaction retires the transaction with the OS queue. Finishing
// an already-finished transaction, or the synthetic pending placeholder,
// is a tolerant no-op.
func (d *Driver) FinishTransaction(ctx context.Context, purchase *iapbridge.Purchase, isConsumable bool) error {
	if !d.isConnected() {
		return d.notPrepared(purchase.ProductID())
	}
	if strings.HasPrefix(purchase.TransactionID, pendingTransactionPrefix) {
		d.log.Debug("skipping finish of a pending placeholder purchase",
			zap.String("transaction_id", purchase.TransactionID))
		return nil
	}

	d.mu.Lock()
	if _, done := d.finished[purchase.TransactionID]; done {
		d.mu.Unlock()
		return nil
	}
	d.finished[purchase.TransactionID] = struct{}{}
	d.mu.Unlock()

	d.queue.FinishTransaction(purchase.TransactionID)
	return nil
}

// GetAvailablePurchases replays completed transactions from the store
// and returns them deduplicated per product id, keeping the one with
// the latest transaction date.
func (d *Driver) GetAvailablePurchases(ctx context.Context) ([]iapbridge.Purchase, error) {
	if !d.isConnected() {
		return nil, d.notPrepared("")
	}

	waiter := make(chan restoreResult, 1)

	d.mu.Lock()
	first := len(d.restoreWaiters) == 0
	d.restoreWaiters = append(d.restoreWaiters, waiter)
	if first {
		d.restoreBuffer = nil
	}
	d.mu.Unlock()

	if first {
		d.queue.RestoreCompletedTransactions()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-waiter:
		if res.err != nil {
			return nil, res.err
		}
		return res.purchases, nil
	}
}

// GetActiveSubscriptions derives the subscription view from the
// restored purchase list. Client-side StoreKit does not report expiry
// dates; ExpiresAt stays nil and truth lives with receipt validation.
func (d *Driver) GetActiveSubscriptions(ctx context.Context, skus []string) ([]iapbridge.ActiveSubscription, error) {
	purchases, err := d.GetAvailablePurchases(ctx)
	if err != nil {
		return nil, err
	}

	// With no explicit filter, fall back to the configured subscription
	// sku set so restored consumables are not reported as subscriptions.
	wanted := make(map[string]bool, len(skus))
	for _, sku := range skus {
		wanted[sku] = true
	}
	if len(wanted) == 0 {
		wanted = d.subscriptionSKUs
	}

	subs := make([]iapbridge.ActiveSubscription, 0, len(purchases))
	for _, p := range purchases {
		if len(wanted) > 0 && !wanted[p.ProductID()] && !p.IsAutoRenewing {
			continue
		}
		subs = append(subs, iapbridge.ActiveSubscription{
			ProductID:     p.ProductID(),
			IsActive:      true,
			AutoRenewing:  p.IsAutoRenewing,
			TransactionID: p.TransactionID,
		})
	}
	return subs, nil
}

// ValidateReceipt forwards the app receipt to the configured verifier.
func (d *Driver) ValidateReceipt(ctx context.Context, props iapbridge.ReceiptValidationProps) (*iapbridge.ReceiptValidationResult, error) {
	if d.verifier == nil {
		return nil, iapbridge.NewPurchaseError(iapbridge.ErrorCodeDeveloperError, "no receipt verifier configured", props.SKU)
	}

	receipt := props.Receipt
	if receipt == "" {
		receipt = d.queue.ReceiptData()
	}
	if receipt == "" {
		err := iapbridge.NewPurchaseError(iapbridge.ErrorCodeReceiptFailed, "no receipt available on device", props.SKU)
		d.events.EmitError(err)
		return nil, err
	}

	res, err := d.verifier.VerifyReceipt(ctx, receipt, props.SKU)
	if err != nil {
		perr := iapbridge.NewPurchaseError(iapbridge.ErrorCodeReceiptFailed, err.Error(), props.SKU)
		d.events.EmitError(perr)
		return nil, perr
	}
	if !res.Valid {
		perr := iapbridge.NewPurchaseError(iapbridge.ErrorCodeVerificationFailed, "receipt failed validation", props.SKU)
		d.events.EmitError(perr)
		return nil, perr
	}

	out := &iapbridge.ReceiptValidationResult{
		IsValid:       true,
		ProductID:     res.ProductID,
		TransactionID: res.TransactionID,
		AutoRenewing:  res.AutoRenewing,
	}
	if !res.ExpiresAt.IsZero() {
		t := res.ExpiresAt
		out.ExpiresAt = &t
	}
	return out, nil
}

// UpdatedTransactions implements TransactionObserver. Transitions are
// dispatched in the order the native queue delivers them.
func (d *Driver) UpdatedTransactions(transactions []Transaction) {
	for _, tx := range transactions {
		switch tx.State {
		case TransactionStatePurchasing:
			d.log.Debug("transaction purchasing", zap.String("sku", tx.Payment.ProductID))

		case TransactionStatePurchased:
			d.events.EmitPurchase(d.convertTransaction(tx, iapbridge.PurchaseStatePurchased))

		case TransactionStateFailed:
			d.events.EmitError(mapError(tx.Err, tx.Payment.ProductID))
			// Failed transactions must always be finished or the queue
			// redelivers them on every launch.
			d.queue.FinishTransaction(tx.Identifier)

		case TransactionStateRestored:
			d.mu.Lock()
			d.restoreBuffer = append(d.restoreBuffer, tx)
			d.mu.Unlock()
			// Finish immediately to prevent redelivery.
			d.queue.FinishTransaction(tx.Identifier)

		case TransactionStateDeferred:
			d.events.EmitError(iapbridge.NewPurchaseError(iapbridge.ErrorCodeDeferred,
				"purchase deferred, awaiting approval", tx.Payment.ProductID))

		default:
			d.log.Warn("unhandled transaction state", zap.Int("state", int(tx.State)))
		}
	}
}

// RestoreCompleted implements TransactionObserver.
func (d *Driver) RestoreCompleted() {
	d.mu.Lock()
	buffered := d.restoreBuffer
	waiters := d.restoreWaiters
	d.restoreBuffer = nil
	d.restoreWaiters = nil
	d.mu.Unlock()

	deduped := dedupeRestored(buffered)
	purchases := make([]iapbridge.Purchase, 0, len(deduped))
	for _, tx := range deduped {
		purchases = append(purchases, d.convertTransaction(tx, iapbridge.PurchaseStateRestored))
	}

	for _, w := range waiters {
		w <- restoreResult{purchases: purchases}
	}
}

// RestoreFailed implements TransactionObserver.
func (d *Driver) RestoreFailed(err *Error) {
	perr := mapError(err, "")
	d.events.EmitError(perr)

	d.mu.Lock()
	waiters := d.restoreWaiters
	d.restoreBuffer = nil
	d.restoreWaiters = nil
	d.mu.Unlock()

	for _, w := range waiters {
		w <- restoreResult{err: perr}
	}
}

// PromotedProduct implements TransactionObserver.
func (d *Driver) PromotedProduct(product Product) {
	d.events.EmitPromotedProduct(convertProduct(product))
}

func (d *Driver) convertTransaction(tx Transaction, state iapbridge.PurchaseState) iapbridge.Purchase {
	return iapbridge.Purchase{
		Platform:              iapbridge.PlatformIOS,
		ProductIDs:            []string{tx.Payment.ProductID},
		TransactionID:         tx.Identifier,
		OriginalTransactionID: tx.OriginalIdentifier,
		State:                 state,
		PurchasedAt:           tx.Date,
		Quantity:              tx.Payment.Quantity,
		TransactionReceipt:    d.queue.ReceiptData(),
	}
}

// dedupeRestored keeps, per product id, only the restored transaction
// with the latest transaction date.
func dedupeRestored(transactions []Transaction) []Transaction {
	latest := make(map[string]Transaction, len(transactions))
	order := make([]string, 0, len(transactions))
	for _, tx := range transactions {
		sku := tx.Payment.ProductID
		prev, seen := latest[sku]
		if !seen {
			order = append(order, sku)
			latest[sku] = tx
			continue
		}
		if tx.Date.After(prev.Date) {
			latest[sku] = tx
		}
	}

	out := make([]Transaction, 0, len(order))
	for _, sku := range order {
		out = append(out, latest[sku])
	}
	return out
}
