package playbilling

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	iapbridge "github.com/bivex/iap-bridge"
	"github.com/bivex/iap-bridge/verify"
)

type flowResult struct {
	purchase *iapbridge.Purchase
	err      *iapbridge.PurchaseError
}

// pendingFlow is one in-flight purchase flow, keyed by a generated
// correlation id so concurrent flows for different skus never clobber
// each other.
type pendingFlow struct {
	productID string
	ch        chan flowResult
}

// Driver is the Android platform adapter. It is the single
// purchases-updated listener attached to the billing client at
// connection time.
type Driver struct {
	client   BillingClient
	activity ActivityHandle
	events   *iapbridge.Events
	log      *zap.Logger
	verifier verify.Verifier

	mu            sync.Mutex
	connected     bool
	connectWaiter chan BillingResult
	pendingFlows  map[uuid.UUID]*pendingFlow
	finished      map[string]struct{}

	detailsMu sync.RWMutex
	details   map[string]ProductDetails
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

// New builds the Android driver around the host-supplied billing
// client. The activity handle is the UI context purchase sheets launch
// from; it must be injected here, a nil handle makes purchase requests
// fail with activity-unavailable.
func New(client BillingClient, activity ActivityHandle, events *iapbridge.Events, opts ...DriverOption) *Driver {
	d := &Driver{
		client:       client,
		activity:     activity,
		events:       events,
		log:          zap.NewNop(),
		pendingFlows: make(map[uuid.UUID]*pendingFlow),
		finished:     make(map[string]struct{}),
		details:      make(map[string]ProductDetails),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Platform implements iapbridge.Driver.
func (d *Driver) Platform() iapbridge.Platform { return iapbridge.PlatformAndroid }

// Connect starts the billing connection and waits for setup to finish.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.connected {
		d.mu.Unlock()
		d.log.Warn("connect called on an already connected driver")
		return nil
	}
	waiter := make(chan BillingResult, 1)
	d.connectWaiter = waiter
	d.mu.Unlock()

	d.client.StartConnection(d, d)

	select {
	case <-ctx.Done():
		d.mu.Lock()
		d.connectWaiter = nil
		d.mu.Unlock()
		return ctx.Err()
	case result := <-waiter:
		if !result.OK() {
			perr := mapResult(result, "")
			d.events.EmitError(perr)
			return perr
		}
		return nil
	}
}

// Disconnect ends the billing connection and fails in-flight flows.
func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}
	d.connected = false
	flows := d.takePendingFlowsLocked()
	d.mu.Unlock()

	d.client.EndConnection()

	err := iapbridge.NewPurchaseError(iapbridge.ErrorCodeNotPrepared, "connection ended", "")
	for _, flow := range flows {
		flow.ch <- flowResult{err: err}
	}
	return nil
}

func (d *Driver) takePendingFlowsLocked() []*pendingFlow {
	flows := make([]*pendingFlow, 0, len(d.pendingFlows))
	for id, flow := range d.pendingFlows {
		delete(d.pendingFlows, id)
		flows = append(flows, flow)
	}
	return flows
}

func (d *Driver) isConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *Driver) notPrepared(productID string) *iapbridge.PurchaseError {
	err := iapbridge.NewPurchaseError(iapbridge.ErrorCodeNotPrepared, "billing client not connected, call InitConnection first", productID)
	d.events.EmitError(err)
	return err
}

// FetchProducts queries catalog metadata, caching native details for
// later purchase-flow launches.
func (d *Driver) FetchProducts(ctx context.Context, skus []string, query iapbridge.ProductQueryType) ([]iapbridge.Product, error) {
	if !d.isConnected() {
		return nil, d.notPrepared("")
	}

	var types []iapbridge.ProductType
	switch query {
	case iapbridge.ProductQueryInApp:
		types = []iapbridge.ProductType{iapbridge.ProductTypeInApp}
	case iapbridge.ProductQuerySubs:
		types = []iapbridge.ProductType{iapbridge.ProductTypeSubs}
	default:
		types = []iapbridge.ProductType{iapbridge.ProductTypeInApp, iapbridge.ProductTypeSubs}
	}

	var out []iapbridge.Product
	for _, typ := range types {
		details, result := d.client.QueryProductDetails(ctx, skus, string(typ))
		if !result.OK() {
			perr := mapResult(result, "")
			d.events.EmitError(perr)
			return nil, perr
		}

		d.detailsMu.Lock()
		for _, det := range details {
			d.details[det.ProductID] = det
		}
		d.detailsMu.Unlock()

		for _, det := range details {
			out = append(out, convertProduct(det))
		}
	}
	return out, nil
}

// RequestPurchase launches the purchase flow for a one-time product and
// waits for the purchases-updated callback to resolve it. Multiple
// flows may be in flight concurrently; each holds its own correlation
// id and waiter.
func (d *Driver) RequestPurchase(ctx context.Context, props iapbridge.RequestPurchaseProps) (*iapbridge.Purchase, error) {
	return d.launchFlow(ctx, BillingFlowParams{
		ProductID:           props.SKU,
		ObfuscatedAccountID: props.ObfuscatedAccountID,
		ObfuscatedProfileID: props.ObfuscatedProfileID,
	})
}

// RequestSubscription launches the purchase flow for a subscription.
// An empty offer token selects the first offer of the cached product
// details.
func (d *Driver) RequestSubscription(ctx context.Context, props iapbridge.RequestSubscriptionProps) (*iapbridge.Purchase, error) {
	offerToken := props.OfferToken
	if offerToken == "" {
		d.detailsMu.RLock()
		if det, ok := d.details[props.SKU]; ok && len(det.SubscriptionOffers) > 0 {
			offerToken = det.SubscriptionOffers[0].OfferToken
		}
		d.detailsMu.RUnlock()
	}

	return d.launchFlow(ctx, BillingFlowParams{
		ProductID:           props.SKU,
		OfferToken:          offerToken,
		ObfuscatedAccountID: props.ObfuscatedAccountID,
		ObfuscatedProfileID: props.ObfuscatedProfileID,
		IsSubscription:      true,
	})
}

func (d *Driver) launchFlow(ctx context.Context, params BillingFlowParams) (*iapbridge.Purchase, error) {
	if !d.isConnected() {
		return nil, d.notPrepared(params.ProductID)
	}
	if d.activity == nil {
		perr := iapbridge.NewPurchaseError(iapbridge.ErrorCodeActivityUnavailable,
			"no activity available to launch the purchase flow", params.ProductID)
		d.events.EmitError(perr)
		return nil, perr
	}

	flow := &pendingFlow{
		productID: params.ProductID,
		ch:        make(chan flowResult, 1),
	}
	id := uuid.New()

	d.mu.Lock()
	d.pendingFlows[id] = flow
	d.mu.Unlock()

	unregister := func() {
		d.mu.Lock()
		delete(d.pendingFlows, id)
		d.mu.Unlock()
	}

	if result := d.client.LaunchBillingFlow(d.activity, params); !result.OK() {
		unregister()
		perr := mapResult(result, params.ProductID)
		d.events.EmitError(perr)
		return nil, perr
	}

	select {
	case <-ctx.Done():
		// The native payment sheet, once launched, is not cancellable
		// from this layer; only the waiter is released.
		unregister()
		return nil, ctx.Err()
	case res := <-flow.ch:
		unregister()
		if res.err != nil {
			return nil, res.err
		}
		return res.purchase, nil
	}
}

// FinishTransaction consumes consumables and acknowledges everything
// else. Finishing an already-finished transaction is a tolerant no-op.
func (d *Driver) FinishTransaction(ctx context.Context, purchase *iapbridge.Purchase, isConsumable bool) error {
	if !d.isConnected() {
		return d.notPrepared(purchase.ProductID())
	}
	if purchase.PurchaseToken == "" {
		perr := iapbridge.NewPurchaseError(iapbridge.ErrorCodeDeveloperError,
			"purchase has no token to finish", purchase.ProductID())
		d.events.EmitError(perr)
		return perr
	}

	d.mu.Lock()
	if _, done := d.finished[purchase.PurchaseToken]; done {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	var result BillingResult
	if isConsumable {
		result = d.client.ConsumePurchase(ctx, purchase.PurchaseToken)
	} else if purchase.IsAcknowledged {
		d.markFinished(purchase.PurchaseToken)
		return nil
	} else {
		result = d.client.AcknowledgePurchase(ctx, purchase.PurchaseToken)
	}

	if !result.OK() {
		// The store already retired the purchase: tolerant success.
		if result.Code == ResponseItemNotOwned {
			d.markFinished(purchase.PurchaseToken)
			return nil
		}
		perr := mapResult(result, purchase.ProductID())
		d.events.EmitError(perr)
		return perr
	}

	d.markFinished(purchase.PurchaseToken)
	return nil
}

func (d *Driver) markFinished(token string) {
	d.mu.Lock()
	d.finished[token] = struct{}{}
	d.mu.Unlock()
}

// GetAvailablePurchases returns the user's current purchases across
// both product types.
func (d *Driver) GetAvailablePurchases(ctx context.Context) ([]iapbridge.Purchase, error) {
	if !d.isConnected() {
		return nil, d.notPrepared("")
	}

	var out []iapbridge.Purchase
	for _, typ := range []iapbridge.ProductType{iapbridge.ProductTypeInApp, iapbridge.ProductTypeSubs} {
		purchases, result := d.client.QueryPurchases(ctx, string(typ))
		if !result.OK() {
			perr := mapResult(result, "")
			d.events.EmitError(perr)
			return nil, perr
		}
		for _, p := range purchases {
			out = append(out, convertPurchase(p))
		}
	}
	return out, nil
}

// GetActiveSubscriptions derives the subscription view from the current
// subscription purchases. Play Billing does not expose expiry dates
// client-side; ExpiresAt stays nil and truth lives with server-side
// verification.
func (d *Driver) GetActiveSubscriptions(ctx context.Context, skus []string) ([]iapbridge.ActiveSubscription, error) {
	if !d.isConnected() {
		return nil, d.notPrepared("")
	}

	purchases, result := d.client.QueryPurchases(ctx, string(iapbridge.ProductTypeSubs))
	if !result.OK() {
		perr := mapResult(result, "")
		d.events.EmitError(perr)
		return nil, perr
	}

	wanted := make(map[string]bool, len(skus))
	for _, sku := range skus {
		wanted[sku] = true
	}

	var subs []iapbridge.ActiveSubscription
	for _, p := range purchases {
		up := convertPurchase(p)
		if len(skus) > 0 && !wanted[up.ProductID()] {
			continue
		}
		subs = append(subs, iapbridge.ActiveSubscription{
			ProductID:     up.ProductID(),
			IsActive:      up.State == iapbridge.PurchaseStatePurchased,
			AutoRenewing:  up.IsAutoRenewing,
			TransactionID: up.TransactionID,
		})
	}
	return subs, nil
}

// ValidateReceipt forwards the purchase token to the configured
// verifier.
func (d *Driver) ValidateReceipt(ctx context.Context, props iapbridge.ReceiptValidationProps) (*iapbridge.ReceiptValidationResult, error) {
	if d.verifier == nil {
		return nil, iapbridge.NewPurchaseError(iapbridge.ErrorCodeDeveloperError, "no receipt verifier configured", props.SKU)
	}

	res, err := d.verifier.VerifyReceipt(ctx, props.Receipt, props.SKU)
	if err != nil {
		perr := iapbridge.NewPurchaseError(iapbridge.ErrorCodeReceiptFailed, err.Error(), props.SKU)
		d.events.EmitError(perr)
		return nil, perr
	}
	if !res.Valid {
		perr := iapbridge.NewPurchaseError(iapbridge.ErrorCodeVerificationFailed, "purchase token failed validation", props.SKU)
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

// OnBillingSetupFinished implements ConnectionListener.
func (d *Driver) OnBillingSetupFinished(result BillingResult) {
	d.mu.Lock()
	waiter := d.connectWaiter
	d.connectWaiter = nil
	if result.OK() {
		d.connected = true
	}
	d.mu.Unlock()

	if waiter != nil {
		waiter <- result
	}
}

// OnBillingServiceDisconnected implements ConnectionListener.
// Connection loss is reported but not auto-retried; callers re-invoke
// InitConnection.
func (d *Driver) OnBillingServiceDisconnected() {
	d.mu.Lock()
	d.connected = false
	flows := d.takePendingFlowsLocked()
	d.mu.Unlock()

	perr := iapbridge.NewPurchaseError(iapbridge.ErrorCodeServiceDisconnected,
		"billing service disconnected", "")
	d.events.EmitError(perr)
	for _, flow := range flows {
		flow.ch <- flowResult{err: perr}
	}
}

// OnPurchasesUpdated implements PurchasesUpdatedListener. Successful
// purchases are pushed to the purchase-updated stream and resolve every
// in-flight flow whose sku they cover; failures fail every in-flight
// flow, since Play Billing does not attribute a failed result to a
// product.
func (d *Driver) OnPurchasesUpdated(result BillingResult, purchases []Purchase) {
	if !result.OK() {
		perr := mapResult(result, "")
		d.events.EmitError(perr)

		d.mu.Lock()
		flows := d.takePendingFlowsLocked()
		d.mu.Unlock()
		for _, flow := range flows {
			flow.ch <- flowResult{err: iapbridge.NewPurchaseError(perr.Code, perr.Message, flow.productID)}
		}
		return
	}

	for _, p := range purchases {
		up := convertPurchase(p)
		d.events.EmitPurchase(up)
		d.resolveFlows(up)
	}
}

func (d *Driver) resolveFlows(purchase iapbridge.Purchase) {
	covered := make(map[string]bool, len(purchase.ProductIDs))
	for _, id := range purchase.ProductIDs {
		covered[id] = true
	}

	d.mu.Lock()
	var resolved []*pendingFlow
	for id, flow := range d.pendingFlows {
		if covered[flow.productID] {
			delete(d.pendingFlows, id)
			resolved = append(resolved, flow)
		}
	}
	d.mu.Unlock()

	for _, flow := range resolved {
		p := purchase
		flow.ch <- flowResult{purchase: &p}
	}
}
