// Package iapbridge exposes one unified in-app-purchase API over the
// Apple StoreKit payment queue and the Google Play Billing client.
//
// The package defines the unified type model (Product, Purchase,
// PurchaseError, ActiveSubscription), the closed error taxonomy, the
// event streams, and the Client facade. The platform adapters live in
// the storekit and playbilling subpackages; server-side receipt
// verification lives under verify.
//
// Typical wiring:
//
//	events := iapbridge.NewEvents()
//	driver := playbilling.New(billingClient, activity, events)
//	client := iapbridge.NewClient(driver, events)
//
//	updates, stop := client.PurchaseUpdates()
//	defer stop()
//
//	if err := client.InitConnection(ctx); err != nil { ... }
//	products, err := client.FetchProducts(ctx, []string{"premium_upgrade"}, iapbridge.ProductQueryInApp)
package iapbridge
