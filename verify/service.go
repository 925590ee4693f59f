package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service orchestrates receipt verification: pick the platform
// verifier, dedup by receipt hash, record the purchase, and serve the
// derived subscription view. Processing a receipt is idempotent per
// user: resubmitting an already-fulfilled receipt returns the existing
// record.
type Service struct {
	log       *zap.Logger
	store     Store
	cache     *ResultCache
	verifiers map[Platform]Verifier
}

// NewService builds the verification service. cache may be nil.
func NewService(log *zap.Logger, store Store, cache *ResultCache, appleVerifier, googleVerifier Verifier) *Service {
	return &Service{
		log:   log,
		store: store,
		cache: cache,
		verifiers: map[Platform]Verifier{
			PlatformApple:  appleVerifier,
			PlatformGoogle: googleVerifier,
		},
	}
}

// Verify checks the receipt with the store backend and records the
// purchase. Returns ErrReceiptInvalid when the backend rejects the
// receipt and ErrReceiptConsumed when another user already claimed it.
func (s *Service) Verify(ctx context.Context, userID string, platform Platform, receipt, productID string) (*Record, error) {
	verifier, ok := s.verifiers[platform]
	if !ok || verifier == nil {
		return nil, fmt.Errorf("no verifier configured for platform %q", platform)
	}

	hash := HashReceipt(receipt)
	log := s.log.With(
		zap.String("user_id", userID),
		zap.String("platform", string(platform)),
		zap.String("product_id", productID),
		zap.String("receipt_hash", hash),
	)

	existing, err := s.store.GetByReceiptHash(ctx, hash)
	if err == nil {
		if existing.UserID == userID {
			return existing, nil
		}
		log.Warn("denying reuse of an already fulfilled receipt",
			zap.String("owner_id", existing.UserID))
		return nil, ErrReceiptConsumed
	} else if err != ErrNotFound {
		return nil, fmt.Errorf("failed to check existing purchase: %w", err)
	}

	result := s.cachedResult(ctx, platform, hash)
	if result == nil {
		result, err = verifier.VerifyReceipt(ctx, receipt, productID)
		if err != nil {
			log.Warn("receipt verification call failed", zap.Error(err))
			return nil, fmt.Errorf("failed to verify receipt: %w", err)
		}
		if s.cache != nil {
			s.cache.Set(ctx, platform, hash, result)
		}
	}

	if !result.Valid {
		log.Warn("receipt failed validation")
		return nil, ErrReceiptInvalid
	}

	now := time.Now()
	record := &Record{
		ID:            uuid.New(),
		UserID:        userID,
		Platform:      platform,
		ReceiptHash:   hash,
		ProductID:     firstNonEmpty(result.ProductID, productID),
		TransactionID: result.TransactionID,
		ExpiresAt:     result.ExpiresAt,
		AutoRenewing:  result.AutoRenewing,
		State:         RecordStateActive,
		CreatedAt:     now,
		UpdatedAt:     now,
		LatestReceipt: firstNonEmpty(result.LatestReceipt, receipt),
	}

	if err := s.store.CreateRecord(ctx, record); err != nil {
		if err == ErrExists {
			// Lost a race with a concurrent submission of the same receipt.
			return s.store.GetByReceiptHash(ctx, hash)
		}
		return nil, fmt.Errorf("failed to create purchase record: %w", err)
	}

	log.Info("receipt verified and recorded",
		zap.String("transaction_id", record.TransactionID))
	return record, nil
}

// ActiveSubscriptions returns the user's currently active records.
func (s *Service) ActiveSubscriptions(ctx context.Context, userID string) ([]*Record, error) {
	records, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load purchases: %w", err)
	}

	now := time.Now()
	active := make([]*Record, 0, len(records))
	for _, r := range records {
		if r.IsActive(now) {
			active = append(active, r)
		}
	}
	return active, nil
}

// Revalidate re-checks one auto-renewing record against the store
// backend and updates its expiry or marks it expired. Used by the
// background worker.
func (s *Service) Revalidate(ctx context.Context, record *Record) error {
	verifier, ok := s.verifiers[record.Platform]
	if !ok || verifier == nil {
		return fmt.Errorf("no verifier configured for platform %q", record.Platform)
	}

	// Re-submit the stored receipt payload: the purchase token on
	// Google, the latest receipt data on Apple. Apple rejects bare
	// transaction ids, so records without a stored payload cannot be
	// revalidated and are left untouched.
	if record.LatestReceipt == "" {
		return fmt.Errorf("record %s has no stored receipt to revalidate", record.ID)
	}
	result, err := verifier.VerifyReceipt(ctx, record.LatestReceipt, record.ProductID)
	if err != nil {
		return fmt.Errorf("failed to revalidate purchase: %w", err)
	}

	record.UpdatedAt = time.Now()
	if !result.Valid || (!result.ExpiresAt.IsZero() && result.ExpiresAt.Before(time.Now())) {
		record.State = RecordStateExpired
	} else {
		record.ExpiresAt = result.ExpiresAt
		record.AutoRenewing = result.AutoRenewing
		if result.LatestReceipt != "" {
			record.LatestReceipt = result.LatestReceipt
		}
	}

	if err := s.store.UpdateRecord(ctx, record); err != nil {
		return fmt.Errorf("failed to update purchase record: %w", err)
	}
	return nil
}

// ListRenewing exposes the store query for the revalidation worker.
func (s *Service) ListRenewing(ctx context.Context, cutoff time.Time, limit int) ([]*Record, error) {
	return s.store.ListRenewing(ctx, cutoff, limit)
}

func (s *Service) cachedResult(ctx context.Context, platform Platform, hash string) *Result {
	if s.cache == nil {
		return nil
	}
	return s.cache.Get(ctx, platform, hash)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
