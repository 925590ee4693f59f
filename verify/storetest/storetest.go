// Package storetest is the shared conformance suite every verify.Store
// implementation must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bivex/iap-bridge/verify"
)

// RunStoreTests runs the conformance suite against s, calling teardown
// between cases.
func RunStoreTests(t *testing.T, s verify.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s verify.Store){
		testRoundTrip,
		testDuplicateReceipt,
		testUpdate,
		testListRenewing,
	} {
		tf(t, s)
		teardown()
	}
}

func newRecord(userID, productID string) *verify.Record {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &verify.Record{
		ID:            uuid.New(),
		UserID:        userID,
		Platform:      verify.PlatformApple,
		ReceiptHash:   verify.HashReceipt(uuid.NewString()),
		ProductID:     productID,
		TransactionID: uuid.NewString(),
		LatestReceipt: uuid.NewString(),
		ExpiresAt:     now.Add(30 * 24 * time.Hour),
		AutoRenewing:  true,
		State:         verify.RecordStateActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func testRoundTrip(t *testing.T, s verify.Store) {
	ctx := context.Background()
	expected := newRecord("user-1", "premium_upgrade")

	_, err := s.GetByReceiptHash(ctx, expected.ReceiptHash)
	require.Equal(t, verify.ErrNotFound, err)

	_, err = s.GetByUser(ctx, expected.UserID)
	require.Equal(t, verify.ErrNotFound, err)

	require.NoError(t, s.CreateRecord(ctx, expected))

	actual, err := s.GetByReceiptHash(ctx, expected.ReceiptHash)
	require.NoError(t, err)
	require.Equal(t, expected.ID, actual.ID)
	require.Equal(t, expected.UserID, actual.UserID)
	require.Equal(t, expected.Platform, actual.Platform)
	require.Equal(t, expected.ProductID, actual.ProductID)
	require.Equal(t, expected.TransactionID, actual.TransactionID)
	require.Equal(t, expected.LatestReceipt, actual.LatestReceipt)
	require.True(t, expected.ExpiresAt.Equal(actual.ExpiresAt))
	require.Equal(t, expected.AutoRenewing, actual.AutoRenewing)
	require.Equal(t, expected.State, actual.State)

	byUser, err := s.GetByUser(ctx, expected.UserID)
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	require.Equal(t, expected.ReceiptHash, byUser[0].ReceiptHash)
}

func testDuplicateReceipt(t *testing.T, s verify.Store) {
	ctx := context.Background()
	record := newRecord("user-1", "coins_100")

	require.NoError(t, s.CreateRecord(ctx, record))

	dupe := record.Clone()
	dupe.ID = uuid.New()
	dupe.UserID = "user-2"
	require.Equal(t, verify.ErrExists, s.CreateRecord(ctx, dupe))
}

func testUpdate(t *testing.T, s verify.Store) {
	ctx := context.Background()
	record := newRecord("user-1", "premium_upgrade")

	require.Equal(t, verify.ErrNotFound, s.UpdateRecord(ctx, record))

	require.NoError(t, s.CreateRecord(ctx, record))

	record.State = verify.RecordStateExpired
	record.AutoRenewing = false
	record.LatestReceipt = "refreshed-receipt"
	record.UpdatedAt = record.UpdatedAt.Add(time.Hour)
	require.NoError(t, s.UpdateRecord(ctx, record))

	actual, err := s.GetByReceiptHash(ctx, record.ReceiptHash)
	require.NoError(t, err)
	require.Equal(t, verify.RecordStateExpired, actual.State)
	require.False(t, actual.AutoRenewing)
	require.Equal(t, "refreshed-receipt", actual.LatestReceipt)
}

func testListRenewing(t *testing.T, s verify.Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	expiringSoon := newRecord("user-1", "premium_monthly")
	expiringSoon.ExpiresAt = now.Add(time.Hour)

	expiringLater := newRecord("user-2", "premium_monthly")
	expiringLater.ExpiresAt = now.Add(90 * 24 * time.Hour)

	notRenewing := newRecord("user-3", "coins_100")
	notRenewing.AutoRenewing = false
	notRenewing.ExpiresAt = now.Add(time.Hour)

	expired := newRecord("user-4", "premium_monthly")
	expired.State = verify.RecordStateExpired
	expired.ExpiresAt = now.Add(time.Hour)

	for _, r := range []*verify.Record{expiringSoon, expiringLater, notRenewing, expired} {
		require.NoError(t, s.CreateRecord(ctx, r))
	}

	due, err := s.ListRenewing(ctx, now.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, expiringSoon.ReceiptHash, due[0].ReceiptHash)

	due, err = s.ListRenewing(ctx, now.Add(365*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, expiringSoon.ReceiptHash, due[0].ReceiptHash)
	require.Equal(t, expiringLater.ReceiptHash, due[1].ReceiptHash)

	due, err = s.ListRenewing(ctx, now.Add(365*24*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
}
