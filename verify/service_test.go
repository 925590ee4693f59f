package verify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bivex/iap-bridge/verify"
	"github.com/bivex/iap-bridge/verify/memory"
)

// fakeVerifier returns a scripted result per receipt.
type fakeVerifier struct {
	results  map[string]*verify.Result
	err      error
	calls    int
	receipts []string
}

func (f *fakeVerifier) VerifyReceipt(ctx context.Context, receipt, productID string) (*verify.Result, error) {
	f.calls++
	f.receipts = append(f.receipts, receipt)
	if f.err != nil {
		return nil, f.err
	}
	if res, ok := f.results[receipt]; ok {
		return res, nil
	}
	return &verify.Result{Valid: false}, nil
}

func newService(t *testing.T) (*verify.Service, *fakeVerifier, *fakeVerifier, *memory.Store) {
	t.Helper()
	apple := &fakeVerifier{results: map[string]*verify.Result{}}
	google := &fakeVerifier{results: map[string]*verify.Result{}}
	store := memory.New()
	svc := verify.NewService(zap.NewNop(), store, nil, apple, google)
	return svc, apple, google, store
}

func TestVerifyRecordsPurchase(t *testing.T) {
	svc, apple, _, _ := newService(t)
	apple.results["receipt-1"] = &verify.Result{
		Valid:         true,
		TransactionID: "tx-1",
		ProductID:     "premium_monthly",
		ExpiresAt:     time.Now().Add(30 * 24 * time.Hour),
		AutoRenewing:  true,
	}

	record, err := svc.Verify(context.Background(), "user-1", verify.PlatformApple, "receipt-1", "premium_monthly")
	require.NoError(t, err)
	assert.Equal(t, "user-1", record.UserID)
	assert.Equal(t, "tx-1", record.TransactionID)
	assert.Equal(t, "premium_monthly", record.ProductID)
	assert.Equal(t, verify.RecordStateActive, record.State)
	assert.True(t, record.AutoRenewing)
}

func TestVerifyIsIdempotentPerUser(t *testing.T) {
	svc, apple, _, _ := newService(t)
	apple.results["receipt-1"] = &verify.Result{Valid: true, TransactionID: "tx-1", ProductID: "coins_100"}

	ctx := context.Background()
	first, err := svc.Verify(ctx, "user-1", verify.PlatformApple, "receipt-1", "coins_100")
	require.NoError(t, err)

	second, err := svc.Verify(ctx, "user-1", verify.PlatformApple, "receipt-1", "coins_100")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, apple.calls, "resubmission must not re-hit the store backend")
}

func TestVerifyRejectsConsumedReceipt(t *testing.T) {
	svc, _, google, _ := newService(t)
	google.results["token-1"] = &verify.Result{Valid: true, TransactionID: "GPA.1", ProductID: "coins_100"}

	ctx := context.Background()
	_, err := svc.Verify(ctx, "user-1", verify.PlatformGoogle, "token-1", "coins_100")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, "user-2", verify.PlatformGoogle, "token-1", "coins_100")
	assert.ErrorIs(t, err, verify.ErrReceiptConsumed)
}

func TestVerifyRejectsInvalidReceipt(t *testing.T) {
	svc, _, _, _ := newService(t)

	_, err := svc.Verify(context.Background(), "user-1", verify.PlatformApple, "bogus", "coins_100")
	assert.ErrorIs(t, err, verify.ErrReceiptInvalid)
}

func TestVerifyPropagatesBackendFailure(t *testing.T) {
	svc, apple, _, _ := newService(t)
	apple.err = errors.New("upstream 503")

	_, err := svc.Verify(context.Background(), "user-1", verify.PlatformApple, "receipt-1", "coins_100")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, verify.ErrReceiptInvalid)
}

func TestVerifyRequiresConfiguredVerifier(t *testing.T) {
	svc := verify.NewService(zap.NewNop(), memory.New(), nil, nil, nil)
	_, err := svc.Verify(context.Background(), "user-1", verify.PlatformApple, "receipt-1", "")
	assert.Error(t, err)
}

func TestActiveSubscriptions(t *testing.T) {
	svc, apple, _, store := newService(t)
	apple.results["receipt-active"] = &verify.Result{
		Valid: true, TransactionID: "tx-a", ProductID: "premium_monthly",
		ExpiresAt: time.Now().Add(time.Hour), AutoRenewing: true,
	}
	apple.results["receipt-expired"] = &verify.Result{
		Valid: true, TransactionID: "tx-b", ProductID: "premium_yearly",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	ctx := context.Background()
	_, err := svc.Verify(ctx, "user-1", verify.PlatformApple, "receipt-active", "premium_monthly")
	require.NoError(t, err)
	expired, err := svc.Verify(ctx, "user-1", verify.PlatformApple, "receipt-expired", "premium_yearly")
	require.NoError(t, err)

	// Push the second record past its expiry.
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.UpdateRecord(ctx, expired))

	active, err := svc.ActiveSubscriptions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "premium_monthly", active[0].ProductID)
}

func TestRevalidate(t *testing.T) {
	t.Run("extends expiry while still renewing", func(t *testing.T) {
		svc, apple, _, store := newService(t)
		apple.results["receipt-1"] = &verify.Result{
			Valid: true, TransactionID: "tx-1", ProductID: "premium_monthly",
			ExpiresAt: time.Now().Add(time.Hour), AutoRenewing: true,
		}
		record, err := svc.Verify(context.Background(), "user-1", verify.PlatformApple, "receipt-1", "premium_monthly")
		require.NoError(t, err)

		renewed := time.Now().Add(31 * 24 * time.Hour)
		apple.results["receipt-1"] = &verify.Result{
			Valid: true, TransactionID: "tx-1", ProductID: "premium_monthly",
			ExpiresAt: renewed, AutoRenewing: true,
		}

		require.NoError(t, svc.Revalidate(context.Background(), record))

		stored, err := store.GetByReceiptHash(context.Background(), record.ReceiptHash)
		require.NoError(t, err)
		assert.Equal(t, verify.RecordStateActive, stored.State)
		assert.WithinDuration(t, renewed, stored.ExpiresAt, time.Second)
	})

	t.Run("marks lapsed subscriptions expired", func(t *testing.T) {
		svc, apple, _, store := newService(t)
		apple.results["receipt-1"] = &verify.Result{
			Valid: true, TransactionID: "tx-1", ProductID: "premium_monthly",
			ExpiresAt: time.Now().Add(time.Hour), AutoRenewing: true,
		}
		record, err := svc.Verify(context.Background(), "user-1", verify.PlatformApple, "receipt-1", "premium_monthly")
		require.NoError(t, err)

		apple.results["receipt-1"] = &verify.Result{Valid: false}

		require.NoError(t, svc.Revalidate(context.Background(), record))

		stored, err := store.GetByReceiptHash(context.Background(), record.ReceiptHash)
		require.NoError(t, err)
		assert.Equal(t, verify.RecordStateExpired, stored.State)
	})

	t.Run("re-submits receipt data, not the transaction id", func(t *testing.T) {
		svc, apple, _, _ := newService(t)
		apple.results["base64-receipt-data"] = &verify.Result{
			Valid: true, TransactionID: "1000000123456789", ProductID: "premium_monthly",
			ExpiresAt: time.Now().Add(time.Hour), AutoRenewing: true,
		}
		record, err := svc.Verify(context.Background(), "user-1", verify.PlatformApple, "base64-receipt-data", "premium_monthly")
		require.NoError(t, err)
		assert.Equal(t, "base64-receipt-data", record.LatestReceipt)

		require.NoError(t, svc.Revalidate(context.Background(), record))
		require.Len(t, apple.receipts, 2)
		assert.Equal(t, "base64-receipt-data", apple.receipts[1])
	})

	t.Run("carries the refreshed receipt forward", func(t *testing.T) {
		svc, apple, _, store := newService(t)
		apple.results["receipt-old"] = &verify.Result{
			Valid: true, TransactionID: "tx-1", ProductID: "premium_monthly",
			ExpiresAt: time.Now().Add(time.Hour), AutoRenewing: true,
			LatestReceipt: "receipt-new",
		}
		record, err := svc.Verify(context.Background(), "user-1", verify.PlatformApple, "receipt-old", "premium_monthly")
		require.NoError(t, err)
		require.Equal(t, "receipt-new", record.LatestReceipt)

		apple.results["receipt-new"] = &verify.Result{
			Valid: true, TransactionID: "tx-2", ProductID: "premium_monthly",
			ExpiresAt: time.Now().Add(31 * 24 * time.Hour), AutoRenewing: true,
			LatestReceipt: "receipt-newer",
		}

		require.NoError(t, svc.Revalidate(context.Background(), record))

		stored, err := store.GetByReceiptHash(context.Background(), record.ReceiptHash)
		require.NoError(t, err)
		assert.Equal(t, "receipt-newer", stored.LatestReceipt)
	})

	t.Run("refuses records without a stored receipt", func(t *testing.T) {
		svc, apple, _, _ := newService(t)
		record := &verify.Record{Platform: verify.PlatformApple, TransactionID: "tx-1"}

		err := svc.Revalidate(context.Background(), record)
		assert.Error(t, err)
		assert.Zero(t, apple.calls)
	})
}
