// Package worker holds the background revalidation jobs. Auto-renewing
// purchases are periodically re-checked against the store backends so
// entitlements expire server-side without waiting for a client call.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/bivex/iap-bridge/verify"
)

// Task names.
const (
	TypeRevalidateBatch  = "revalidate:batch"
	TypeRevalidateRecord = "revalidate:record"
)

// Handlers holds the dependencies of the revalidation tasks.
type Handlers struct {
	svc    *verify.Service
	store  verify.Store
	client *asynq.Client
	logger *zap.Logger

	window time.Duration // how far ahead of expiry records are re-checked
	batch  int
}

// NewHandlers creates the task handlers.
func NewHandlers(svc *verify.Service, store verify.Store, client *asynq.Client, logger *zap.Logger, window time.Duration, batch int) *Handlers {
	return &Handlers{
		svc:    svc,
		store:  store,
		client: client,
		logger: logger,
		window: window,
		batch:  batch,
	}
}

// RegisterHandlers registers the task handlers with the server mux.
func RegisterHandlers(mux *asynq.ServeMux, h *Handlers) {
	mux.HandleFunc(TypeRevalidateBatch, h.HandleRevalidateBatch)
	mux.HandleFunc(TypeRevalidateRecord, h.HandleRevalidateRecord)
}

// RegisterScheduledTasks registers the periodic batch kick-off.
func RegisterScheduledTasks(scheduler *asynq.Scheduler, logger *zap.Logger) {
	// Sweep for expiring subscriptions every hour.
	if _, err := scheduler.Register("0 * * * *", asynq.NewTask(TypeRevalidateBatch, nil)); err != nil {
		logger.Error("failed to schedule revalidation batch", zap.Error(err))
	}
}

type recordPayload struct {
	ReceiptHash string `json:"receipt_hash"`
}

// HandleRevalidateBatch fans one revalidation task out per record that
// is due.
func (h *Handlers) HandleRevalidateBatch(ctx context.Context, t *asynq.Task) error {
	cutoff := time.Now().Add(h.window)
	records, err := h.svc.ListRenewing(ctx, cutoff, h.batch)
	if err != nil {
		return fmt.Errorf("failed to list renewing purchases: %w", err)
	}

	for _, record := range records {
		payload, err := json.Marshal(recordPayload{ReceiptHash: record.ReceiptHash})
		if err != nil {
			return err
		}
		task := asynq.NewTask(TypeRevalidateRecord, payload)
		if _, err := h.client.EnqueueContext(ctx, task, asynq.Queue("low"), asynq.MaxRetry(3)); err != nil {
			h.logger.Error("failed to enqueue revalidation",
				zap.String("receipt_hash", record.ReceiptHash),
				zap.Error(err))
		}
	}

	h.logger.Info("revalidation batch enqueued", zap.Int("count", len(records)))
	return nil
}

// HandleRevalidateRecord re-checks one purchase against its store
// backend.
func (h *Handlers) HandleRevalidateRecord(ctx context.Context, t *asynq.Task) error {
	var payload recordPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}

	record, err := h.store.GetByReceiptHash(ctx, payload.ReceiptHash)
	if err != nil {
		if err == verify.ErrNotFound {
			// Deleted since being enqueued, nothing to do.
			return nil
		}
		return fmt.Errorf("failed to load purchase record: %w", err)
	}

	if err := h.svc.Revalidate(ctx, record); err != nil {
		return fmt.Errorf("failed to revalidate purchase: %w", err)
	}

	h.logger.Debug("purchase revalidated",
		zap.String("receipt_hash", record.ReceiptHash),
		zap.String("state", string(record.State)))
	return nil
}
