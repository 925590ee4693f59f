package playbilling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iapbridge "github.com/bivex/iap-bridge"
)

// fakeBilling is a controllable BillingClient. Connection setup reports
// asynchronously, the way the native client does; purchase outcomes are
// replayed by the test through the captured listener.
type fakeBilling struct {
	mu sync.Mutex

	setupResult BillingResult
	conn        ConnectionListener
	purchases   PurchasesUpdatedListener

	details      map[string][]ProductDetails // keyed by product type
	detailsErr   BillingResult
	owned        map[string][]Purchase
	launchResult BillingResult
	launched     []BillingFlowParams

	acknowledged []string
	consumed     []string
	ackResult    BillingResult
	consumeOK    BillingResult

	ended bool
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		setupResult: BillingResult{Code: ResponseOK},
		details:     make(map[string][]ProductDetails),
		owned:       make(map[string][]Purchase),
	}
}

func (f *fakeBilling) StartConnection(conn ConnectionListener, purchases PurchasesUpdatedListener) {
	f.mu.Lock()
	f.conn = conn
	f.purchases = purchases
	result := f.setupResult
	f.mu.Unlock()
	go conn.OnBillingSetupFinished(result)
}

func (f *fakeBilling) EndConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
}

func (f *fakeBilling) QueryProductDetails(ctx context.Context, productIDs []string, productType string) ([]ProductDetails, BillingResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detailsErr.Code != ResponseOK {
		return nil, f.detailsErr
	}
	return f.details[productType], BillingResult{Code: ResponseOK}
}

func (f *fakeBilling) LaunchBillingFlow(activity ActivityHandle, params BillingFlowParams) BillingResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, params)
	return f.launchResult
}

func (f *fakeBilling) QueryPurchases(ctx context.Context, productType string) ([]Purchase, BillingResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owned[productType], BillingResult{Code: ResponseOK}
}

func (f *fakeBilling) AcknowledgePurchase(ctx context.Context, purchaseToken string) BillingResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acknowledged = append(f.acknowledged, purchaseToken)
	return f.ackResult
}

func (f *fakeBilling) ConsumePurchase(ctx context.Context, purchaseToken string) BillingResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumed = append(f.consumed, purchaseToken)
	return f.consumeOK
}

// deliver replays a purchases-updated callback through the registered
// listener, as the native client would.
func (f *fakeBilling) deliver(result BillingResult, purchases []Purchase) {
	f.mu.Lock()
	listener := f.purchases
	f.mu.Unlock()
	listener.OnPurchasesUpdated(result, purchases)
}

type fakeActivity struct{}

func newConnectedDriver(t *testing.T) (*Driver, *fakeBilling, *iapbridge.Events) {
	t.Helper()
	billing := newFakeBilling()
	events := iapbridge.NewEvents()
	driver := New(billing, fakeActivity{}, events)
	require.NoError(t, driver.Connect(context.Background()))
	return driver, billing, events
}

func TestConnect(t *testing.T) {
	t.Run("failed setup maps to billing-unavailable", func(t *testing.T) {
		billing := newFakeBilling()
		billing.setupResult = BillingResult{Code: ResponseBillingUnavailable, DebugMessage: "api version unsupported"}
		driver := New(billing, fakeActivity{}, iapbridge.NewEvents())

		err := driver.Connect(context.Background())
		assert.Equal(t, iapbridge.ErrorCodeBillingUnavailable, iapbridge.CodeOf(err))
	})

	t.Run("second connect is a warn-level no-op", func(t *testing.T) {
		driver, _, _ := newConnectedDriver(t)
		assert.NoError(t, driver.Connect(context.Background()))
	})
}

func TestFetchProducts(t *testing.T) {
	driver, billing, _ := newConnectedDriver(t)
	billing.details["inapp"] = []ProductDetails{{
		ProductID: "coins_100",
		Title:     "100 Coins",
		OneTimeOffer: &OneTimeOfferDetails{
			FormattedPrice:    "$0.99",
			PriceAmountMicros: 990_000,
			PriceCurrencyCode: "USD",
		},
	}}
	billing.details["subs"] = []ProductDetails{{
		ProductID: "premium_monthly",
		SubscriptionOffers: []SubscriptionOfferDetails{{
			BasePlanID: "monthly",
			OfferToken: "offer-token-1",
			PricingPhases: []PricingPhase{{
				BillingPeriod:     "P1M",
				FormattedPrice:    "$4.99",
				PriceAmountMicros: 4_990_000,
				PriceCurrencyCode: "USD",
			}},
		}},
	}}

	products, err := driver.FetchProducts(context.Background(), []string{"coins_100", "premium_monthly"}, iapbridge.ProductQueryAll)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, iapbridge.ProductTypeInApp, products[0].Type)
	assert.Equal(t, "$0.99", products[0].DisplayPrice)
	assert.Equal(t, iapbridge.ProductTypeSubs, products[1].Type)
	assert.Equal(t, "$4.99", products[1].DisplayPrice)
}

func TestRequestPurchaseResolvesFromListener(t *testing.T) {
	driver, billing, events := newConnectedDriver(t)
	updates, stop := events.SubscribePurchases()
	defer stop()

	done := make(chan struct{})
	var purchase *iapbridge.Purchase
	var perr error
	go func() {
		purchase, perr = driver.RequestPurchase(context.Background(), iapbridge.RequestPurchaseProps{SKU: "coins_100"})
		close(done)
	}()

	waitForLaunch(t, billing, 1)
	billing.deliver(BillingResult{Code: ResponseOK}, []Purchase{{
		OrderID:       "GPA.1",
		ProductIDs:    []string{"coins_100"},
		PurchaseToken: "token-1",
		PurchaseState: PurchaseStatePurchased,
		PurchaseTime:  time.Now(),
	}})

	<-done
	require.NoError(t, perr)
	assert.Equal(t, "coins_100", purchase.ProductID())
	assert.Equal(t, iapbridge.PurchaseStatePurchased, purchase.State)
	assert.Equal(t, "token-1", purchase.PurchaseToken)

	// The same purchase also lands on the stream.
	streamed := <-updates
	assert.Equal(t, "token-1", streamed.PurchaseToken)
}

func TestConcurrentPurchaseFlowsResolveIndependently(t *testing.T) {
	driver, billing, _ := newConnectedDriver(t)
	ctx := context.Background()

	type outcome struct {
		purchase *iapbridge.Purchase
		err      error
	}
	first := make(chan outcome, 1)
	second := make(chan outcome, 1)

	go func() {
		p, err := driver.RequestPurchase(ctx, iapbridge.RequestPurchaseProps{SKU: "coins_100"})
		first <- outcome{p, err}
	}()
	go func() {
		p, err := driver.RequestPurchase(ctx, iapbridge.RequestPurchaseProps{SKU: "gems_50"})
		second <- outcome{p, err}
	}()

	waitForLaunch(t, billing, 2)

	billing.deliver(BillingResult{Code: ResponseOK}, []Purchase{{
		ProductIDs:    []string{"gems_50"},
		PurchaseToken: "token-gems",
		PurchaseState: PurchaseStatePurchased,
	}})
	billing.deliver(BillingResult{Code: ResponseOK}, []Purchase{{
		ProductIDs:    []string{"coins_100"},
		PurchaseToken: "token-coins",
		PurchaseState: PurchaseStatePurchased,
	}})

	got1 := <-first
	got2 := <-second
	require.NoError(t, got1.err)
	require.NoError(t, got2.err)
	assert.Equal(t, "token-coins", got1.purchase.PurchaseToken)
	assert.Equal(t, "token-gems", got2.purchase.PurchaseToken)
}

func TestPurchaseFailureFailsPendingFlows(t *testing.T) {
	driver, billing, _ := newConnectedDriver(t)

	done := make(chan error, 1)
	go func() {
		_, err := driver.RequestPurchase(context.Background(), iapbridge.RequestPurchaseProps{SKU: "coins_100"})
		done <- err
	}()

	waitForLaunch(t, billing, 1)
	billing.deliver(BillingResult{Code: ResponseUserCanceled, DebugMessage: "user pressed back"}, nil)

	err := <-done
	assert.Equal(t, iapbridge.ErrorCodeUserCancelled, iapbridge.CodeOf(err))
	perr, ok := iapbridge.AsPurchaseError(err)
	require.True(t, ok)
	assert.Equal(t, "coins_100", perr.ProductID)
}

func TestNilActivityFailsPurchase(t *testing.T) {
	billing := newFakeBilling()
	events := iapbridge.NewEvents()
	driver := New(billing, nil, events)
	require.NoError(t, driver.Connect(context.Background()))

	_, err := driver.RequestPurchase(context.Background(), iapbridge.RequestPurchaseProps{SKU: "coins_100"})
	assert.Equal(t, iapbridge.ErrorCodeActivityUnavailable, iapbridge.CodeOf(err))
	assert.Empty(t, billing.launched)
}

func TestDisconnectedServiceFailsFlows(t *testing.T) {
	driver, billing, events := newConnectedDriver(t)
	errs, stop := events.SubscribeErrors()
	defer stop()

	done := make(chan error, 1)
	go func() {
		_, err := driver.RequestPurchase(context.Background(), iapbridge.RequestPurchaseProps{SKU: "coins_100"})
		done <- err
	}()

	waitForLaunch(t, billing, 1)
	driver.OnBillingServiceDisconnected()

	err := <-done
	assert.Equal(t, iapbridge.ErrorCodeServiceDisconnected, iapbridge.CodeOf(err))

	streamed := <-errs
	assert.Equal(t, iapbridge.ErrorCodeServiceDisconnected, streamed.Code)
}

func TestRequestSubscriptionUsesFirstCachedOffer(t *testing.T) {
	driver, billing, _ := newConnectedDriver(t)
	billing.details["subs"] = []ProductDetails{{
		ProductID: "premium_monthly",
		SubscriptionOffers: []SubscriptionOfferDetails{{
			BasePlanID: "monthly",
			OfferToken: "offer-token-1",
		}},
	}}
	_, err := driver.FetchProducts(context.Background(), []string{"premium_monthly"}, iapbridge.ProductQuerySubs)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		driver.RequestSubscription(context.Background(), iapbridge.RequestSubscriptionProps{SKU: "premium_monthly"})
		close(done)
	}()

	waitForLaunch(t, billing, 1)
	billing.deliver(BillingResult{Code: ResponseOK}, []Purchase{{
		ProductIDs:    []string{"premium_monthly"},
		PurchaseToken: "token-sub",
		PurchaseState: PurchaseStatePurchased,
	}})
	<-done

	billing.mu.Lock()
	defer billing.mu.Unlock()
	require.Len(t, billing.launched, 1)
	assert.Equal(t, "offer-token-1", billing.launched[0].OfferToken)
	assert.True(t, billing.launched[0].IsSubscription)
}

func TestFinishTransaction(t *testing.T) {
	purchase := func() *iapbridge.Purchase {
		return &iapbridge.Purchase{
			Platform:      iapbridge.PlatformAndroid,
			ProductIDs:    []string{"coins_100"},
			PurchaseToken: "token-1",
		}
	}
	ctx := context.Background()

	t.Run("consumable goes through consume", func(t *testing.T) {
		driver, billing, _ := newConnectedDriver(t)
		require.NoError(t, driver.FinishTransaction(ctx, purchase(), true))
		assert.Equal(t, []string{"token-1"}, billing.consumed)
		assert.Empty(t, billing.acknowledged)
	})

	t.Run("non-consumable goes through acknowledge", func(t *testing.T) {
		driver, billing, _ := newConnectedDriver(t)
		require.NoError(t, driver.FinishTransaction(ctx, purchase(), false))
		assert.Equal(t, []string{"token-1"}, billing.acknowledged)
		assert.Empty(t, billing.consumed)
	})

	t.Run("already acknowledged skips the store call", func(t *testing.T) {
		driver, billing, _ := newConnectedDriver(t)
		p := purchase()
		p.IsAcknowledged = true
		require.NoError(t, driver.FinishTransaction(ctx, p, false))
		assert.Empty(t, billing.acknowledged)
	})

	t.Run("idempotent on a finished token", func(t *testing.T) {
		driver, billing, _ := newConnectedDriver(t)
		require.NoError(t, driver.FinishTransaction(ctx, purchase(), false))
		require.NoError(t, driver.FinishTransaction(ctx, purchase(), false))
		assert.Equal(t, []string{"token-1"}, billing.acknowledged)
	})

	t.Run("item not owned is tolerated", func(t *testing.T) {
		driver, billing, _ := newConnectedDriver(t)
		billing.ackResult = BillingResult{Code: ResponseItemNotOwned}
		require.NoError(t, driver.FinishTransaction(ctx, purchase(), false))
	})

	t.Run("missing token is a developer error", func(t *testing.T) {
		driver, _, _ := newConnectedDriver(t)
		p := purchase()
		p.PurchaseToken = ""
		err := driver.FinishTransaction(ctx, p, false)
		assert.Equal(t, iapbridge.ErrorCodeDeveloperError, iapbridge.CodeOf(err))
	})
}

func TestGetAvailablePurchasesSpansBothTypes(t *testing.T) {
	driver, billing, _ := newConnectedDriver(t)
	billing.owned["inapp"] = []Purchase{{
		ProductIDs: []string{"coins_100"}, PurchaseToken: "t1", PurchaseState: PurchaseStatePurchased,
	}}
	billing.owned["subs"] = []Purchase{{
		ProductIDs: []string{"premium_monthly"}, PurchaseToken: "t2", PurchaseState: PurchaseStatePurchased, IsAutoRenewing: true,
	}}

	purchases, err := driver.GetAvailablePurchases(context.Background())
	require.NoError(t, err)
	require.Len(t, purchases, 2)
	assert.Equal(t, "coins_100", purchases[0].ProductID())
	assert.Equal(t, "premium_monthly", purchases[1].ProductID())
}

func TestGetActiveSubscriptions(t *testing.T) {
	driver, billing, _ := newConnectedDriver(t)
	billing.owned["subs"] = []Purchase{
		{ProductIDs: []string{"premium_monthly"}, PurchaseToken: "t1", PurchaseState: PurchaseStatePurchased, IsAutoRenewing: true},
		{ProductIDs: []string{"premium_yearly"}, PurchaseToken: "t2", PurchaseState: PurchaseStatePending},
	}

	t.Run("unfiltered", func(t *testing.T) {
		subs, err := driver.GetActiveSubscriptions(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, subs, 2)
		assert.True(t, subs[0].IsActive)
		assert.True(t, subs[0].AutoRenewing)
		assert.False(t, subs[1].IsActive)
	})

	t.Run("sku filter", func(t *testing.T) {
		subs, err := driver.GetActiveSubscriptions(context.Background(), []string{"premium_yearly"})
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, "premium_yearly", subs[0].ProductID)
	})
}

func waitForLaunch(t *testing.T, billing *fakeBilling, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		billing.mu.Lock()
		launched := len(billing.launched)
		billing.mu.Unlock()
		if launched >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d billing flow launches", n)
}
