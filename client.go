package iapbridge

import (
	"context"

	"go.uber.org/zap"
)

// Driver is a platform adapter over one native billing SDK. Exactly one
// driver instance exists per process and platform; the Client dispatches
// every operation to it. Implementations live in the storekit and
// playbilling packages.
type Driver interface {
	Platform() Platform

	// Connect establishes the session with the native billing service.
	// Callers must Disconnect before re-connecting.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	FetchProducts(ctx context.Context, skus []string, query ProductQueryType) ([]Product, error)

	// RequestPurchase launches the native purchase flow. On iOS the
	// returned purchase is an optimistic pending placeholder; the
	// terminal state arrives on the purchase-updated stream.
	RequestPurchase(ctx context.Context, props RequestPurchaseProps) (*Purchase, error)
	RequestSubscription(ctx context.Context, props RequestSubscriptionProps) (*Purchase, error)

	// FinishTransaction acknowledges, consumes or finishes the native
	// transaction. Finishing an already-finished transaction is a no-op.
	FinishTransaction(ctx context.Context, purchase *Purchase, isConsumable bool) error

	// GetAvailablePurchases restores prior purchases, deduplicated per
	// product id by latest transaction date.
	GetAvailablePurchases(ctx context.Context) ([]Purchase, error)

	GetActiveSubscriptions(ctx context.Context, skus []string) ([]ActiveSubscription, error)

	ValidateReceipt(ctx context.Context, props ReceiptValidationProps) (*ReceiptValidationResult, error)
}

// Client is the public entry point. It holds no business logic of its
// own: every operation is dispatched to the configured platform driver,
// and the event streams are exposed as channels.
type Client struct {
	driver Driver
	events *Events
	log    *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a logger to the client. The default is a no-op
// logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient wraps a platform driver. The events sink must be the same
// one the driver was constructed with.
func NewClient(driver Driver, events *Events, opts ...Option) *Client {
	c := &Client{
		driver: driver,
		events: events,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Platform reports which store the client is driving.
func (c *Client) Platform() Platform { return c.driver.Platform() }

// PurchaseUpdates subscribes to the purchase-updated stream. The cancel
// func releases the subscription and closes the channel.
func (c *Client) PurchaseUpdates() (<-chan Purchase, func()) {
	return c.events.SubscribePurchases()
}

// PurchaseErrors subscribes to the purchase-error stream. Errors are
// also returned synchronously by the call that caused them, so an
// application that both subscribes and awaits will observe a failure
// twice: push for monitoring, pull for direct handling.
func (c *Client) PurchaseErrors() (<-chan *PurchaseError, func()) {
	return c.events.SubscribeErrors()
}

// PromotedProducts subscribes to store-promoted product events (iOS).
func (c *Client) PromotedProducts() (<-chan Product, func()) {
	return c.events.SubscribePromotedProducts()
}

// InitConnection establishes the session with the native billing
// service.
func (c *Client) InitConnection(ctx context.Context) error {
	c.log.Debug("initializing store connection", zap.String("platform", string(c.driver.Platform())))
	return c.driver.Connect(ctx)
}

// EndConnection tears the session down. The event streams stay open so
// the connection can be re-initialized on the same client; call Close
// when the client is done for good.
func (c *Client) EndConnection(ctx context.Context) error {
	return c.driver.Disconnect(ctx)
}

// Close permanently shuts down the event streams, closing every
// subscriber channel. The client cannot be reused afterwards.
func (c *Client) Close() {
	c.events.Close()
}

// FetchProducts loads catalog metadata for the given skus.
func (c *Client) FetchProducts(ctx context.Context, skus []string, query ProductQueryType) ([]Product, error) {
	if len(skus) == 0 {
		err := NewPurchaseError(ErrorCodeEmptySKUList, "sku list must not be empty", "")
		c.events.EmitError(err)
		return nil, err
	}
	return c.driver.FetchProducts(ctx, skus, query)
}

// RequestPurchase launches the purchase flow for a one-time product.
func (c *Client) RequestPurchase(ctx context.Context, props RequestPurchaseProps) (*Purchase, error) {
	if props.SKU == "" {
		err := NewPurchaseError(ErrorCodeDeveloperError, "sku is required", "")
		c.events.EmitError(err)
		return nil, err
	}
	c.log.Debug("requesting purchase", zap.String("sku", props.SKU))
	return c.driver.RequestPurchase(ctx, props)
}

// RequestSubscription launches the purchase flow for a subscription.
func (c *Client) RequestSubscription(ctx context.Context, props RequestSubscriptionProps) (*Purchase, error) {
	if props.SKU == "" {
		err := NewPurchaseError(ErrorCodeDeveloperError, "sku is required", "")
		c.events.EmitError(err)
		return nil, err
	}
	c.log.Debug("requesting subscription", zap.String("sku", props.SKU))
	return c.driver.RequestSubscription(ctx, props)
}

// FinishTransaction completes a purchase with the native store:
// consume for consumables, acknowledge/finish otherwise. Idempotent on
// already-finished transactions.
func (c *Client) FinishTransaction(ctx context.Context, purchase *Purchase, isConsumable bool) error {
	return c.driver.FinishTransaction(ctx, purchase, isConsumable)
}

// GetAvailablePurchases restores previously completed purchases.
func (c *Client) GetAvailablePurchases(ctx context.Context) ([]Purchase, error) {
	return c.driver.GetAvailablePurchases(ctx)
}

// GetActiveSubscriptions computes the active-subscription view. An
// empty sku list means all subscriptions.
func (c *Client) GetActiveSubscriptions(ctx context.Context, skus []string) ([]ActiveSubscription, error) {
	return c.driver.GetActiveSubscriptions(ctx, skus)
}

// ValidateReceipt forwards the purchase receipt to the configured
// verification backend.
func (c *Client) ValidateReceipt(ctx context.Context, props ReceiptValidationProps) (*ReceiptValidationResult, error) {
	return c.driver.ValidateReceipt(ctx, props)
}
