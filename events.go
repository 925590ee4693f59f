package iapbridge

import (
	"sync"
)

// defaultStreamBuffer is the channel depth handed to subscribers that
// do not ask for a specific one.
const defaultStreamBuffer = 16

// broadcaster fans a single event source out to any number of channel
// subscribers. Publishing never blocks: a subscriber that falls behind
// loses the oldest undelivered event, not the publisher.
type broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	closed bool
}

func newBroadcaster[T any]() *broadcaster[T] {
	return &broadcaster[T]{subs: make(map[int]chan T)}
}

// subscribe registers a new subscriber and returns its channel plus a
// cancel func. The channel is closed on cancel or broadcaster close.
func (b *broadcaster[T]) subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan T, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *broadcaster[T]) publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			// Evict the oldest event to make room for the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

func (b *broadcaster[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Events is the sink the platform drivers publish converted native
// events into, and the source callers subscribe to through the Client.
// Exactly one Events value exists per Client.
type Events struct {
	purchases *broadcaster[Purchase]
	errors    *broadcaster[*PurchaseError]
	promoted  *broadcaster[Product]
}

// NewEvents creates an event sink. Drivers are constructed around one.
func NewEvents() *Events {
	return &Events{
		purchases: newBroadcaster[Purchase](),
		errors:    newBroadcaster[*PurchaseError](),
		promoted:  newBroadcaster[Product](),
	}
}

// SubscribePurchases registers a subscriber on the purchase-updated
// stream. The cancel func releases the subscription and closes the
// channel.
func (e *Events) SubscribePurchases() (<-chan Purchase, func()) {
	return e.purchases.subscribe(0)
}

// SubscribeErrors registers a subscriber on the purchase-error stream.
func (e *Events) SubscribeErrors() (<-chan *PurchaseError, func()) {
	return e.errors.subscribe(0)
}

// SubscribePromotedProducts registers a subscriber on the promoted
// product stream.
func (e *Events) SubscribePromotedProducts() (<-chan Product, func()) {
	return e.promoted.subscribe(0)
}

// EmitPurchase publishes a converted purchase on the purchase-updated
// stream. Called by drivers only.
func (e *Events) EmitPurchase(p Purchase) { e.purchases.publish(p) }

// EmitError publishes a unified error on the purchase-error stream.
// Called by drivers only.
func (e *Events) EmitError(err *PurchaseError) { e.errors.publish(err) }

// EmitPromotedProduct publishes a store-promoted product. Called by
// drivers only (iOS).
func (e *Events) EmitPromotedProduct(p Product) { e.promoted.publish(p) }

// Close tears down all streams, closing every subscriber channel.
func (e *Events) Close() {
	e.purchases.close()
	e.errors.close()
	e.promoted.close()
}
