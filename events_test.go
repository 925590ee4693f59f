package iapbridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	events := NewEvents()

	first, stopFirst := events.purchases.subscribe(0)
	defer stopFirst()
	second, stopSecond := events.purchases.subscribe(0)
	defer stopSecond()

	events.EmitPurchase(Purchase{TransactionID: "tx-1"})

	require.Equal(t, "tx-1", (<-first).TransactionID)
	require.Equal(t, "tx-1", (<-second).TransactionID)
}

func TestBroadcasterDoesNotBlockOnSlowSubscriber(t *testing.T) {
	events := NewEvents()

	slow, stop := events.errors.subscribe(1)
	defer stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			events.EmitError(NewPurchaseError(ErrorCodeUnknown, "event", ""))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}

	// The slow subscriber still sees the most recent event.
	select {
	case err := <-slow:
		assert.Equal(t, ErrorCodeUnknown, err.Code)
	default:
		t.Fatal("expected a buffered event")
	}
}

func TestBroadcasterCancelClosesChannel(t *testing.T) {
	events := NewEvents()

	ch, stop := events.purchases.subscribe(0)
	stop()

	_, open := <-ch
	assert.False(t, open)

	// Cancelled subscribers no longer receive.
	events.EmitPurchase(Purchase{TransactionID: "tx-2"})
}

func TestEventsCloseClosesAllStreams(t *testing.T) {
	events := NewEvents()

	purchases, _ := events.purchases.subscribe(0)
	errs, _ := events.errors.subscribe(0)
	promoted, _ := events.promoted.subscribe(0)

	events.Close()

	_, open := <-purchases
	assert.False(t, open)
	_, open = <-errs
	assert.False(t, open)
	_, open = <-promoted
	assert.False(t, open)

	// Publishing after close is a no-op.
	events.EmitPurchase(Purchase{})
	events.Close()
}
