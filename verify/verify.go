// Package verify is the server-side receipt verification layer. It
// checks platform receipts against the store backends (App Store
// verifyReceipt, Google Play Developer API), records verified purchases
// exactly once, and derives subscription entitlements from the records.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("purchase record not found")
	ErrExists          = errors.New("purchase record already exists")
	ErrReceiptInvalid  = errors.New("receipt is invalid")
	ErrReceiptConsumed = errors.New("receipt has already been used by another user")
)

// Platform identifies the store backend a receipt belongs to.
type Platform string

const (
	PlatformApple  Platform = "apple"
	PlatformGoogle Platform = "google"
)

// Result is the outcome of one receipt check against a store backend.
type Result struct {
	Valid                 bool
	TransactionID         string
	OriginalTransactionID string
	ProductID             string
	ExpiresAt             time.Time // zero for non-expiring products
	AutoRenewing          bool

	// LatestReceipt is the refreshed receipt payload Apple returns with
	// the verification response, usable for later re-verification.
	// Empty on Google, where the purchase token itself re-verifies.
	LatestReceipt string
}

// Verifier checks a single receipt against one store backend. receipt
// is the base64 app receipt on Apple and the purchase token on Google.
type Verifier interface {
	VerifyReceipt(ctx context.Context, receipt, productID string) (*Result, error)
}

// RecordState is the lifecycle state of a verified purchase record.
type RecordState string

const (
	RecordStateActive  RecordState = "active"
	RecordStateExpired RecordState = "expired"
	RecordStateRevoked RecordState = "revoked"
)

// Record is one verified purchase, keyed by the receipt hash so each
// receipt is fulfilled exactly once.
type Record struct {
	ID            uuid.UUID
	UserID        string
	Platform      Platform
	ReceiptHash   string
	ProductID     string
	TransactionID string
	ExpiresAt     time.Time // zero for non-expiring products
	AutoRenewing  bool
	State         RecordState
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// LatestReceipt is the most recent verifiable payload for this
	// purchase: the purchase token on Google, the receipt data (or the
	// latest_receipt the verify response carried) on Apple. Background
	// revalidation re-submits it to the store backend.
	LatestReceipt string
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// IsActive reports whether the record grants entitlement at now.
func (r *Record) IsActive(now time.Time) bool {
	if r.State != RecordStateActive {
		return false
	}
	if r.ExpiresAt.IsZero() {
		return true
	}
	return r.ExpiresAt.After(now)
}

// Store persists verified purchase records.
type Store interface {
	CreateRecord(ctx context.Context, record *Record) error
	GetByReceiptHash(ctx context.Context, hash string) (*Record, error)
	GetByUser(ctx context.Context, userID string) ([]*Record, error)
	UpdateRecord(ctx context.Context, record *Record) error

	// ListRenewing returns auto-renewing records expiring before the
	// cutoff, for background revalidation.
	ListRenewing(ctx context.Context, cutoff time.Time, limit int) ([]*Record, error)
}

// HashReceipt derives the dedup key for a raw receipt payload.
func HashReceipt(receipt string) string {
	sum := sha256.Sum256([]byte(receipt))
	return hex.EncodeToString(sum[:])
}
