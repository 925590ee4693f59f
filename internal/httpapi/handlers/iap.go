// Package handlers holds the gin handlers of the verification API.
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bivex/iap-bridge/internal/httpapi/response"
	"github.com/bivex/iap-bridge/internal/logging"
	"github.com/bivex/iap-bridge/verify"
)

// IAPHandler serves receipt verification and the derived subscription
// view.
type IAPHandler struct {
	svc *verify.Service
	log *zap.Logger
}

// NewIAPHandler creates the handler.
func NewIAPHandler(svc *verify.Service, log *zap.Logger) *IAPHandler {
	return &IAPHandler{svc: svc, log: log}
}

type verifyRequest struct {
	Platform  string `json:"platform" binding:"required,oneof=apple google"`
	Receipt   string `json:"receipt" binding:"required"`
	ProductID string `json:"product_id"`
}

type purchaseResponse struct {
	ID            string     `json:"id"`
	Platform      string     `json:"platform"`
	ProductID     string     `json:"product_id"`
	TransactionID string     `json:"transaction_id"`
	State         string     `json:"state"`
	AutoRenewing  bool       `json:"auto_renewing"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toPurchaseResponse(r *verify.Record) purchaseResponse {
	resp := purchaseResponse{
		ID:            r.ID.String(),
		Platform:      string(r.Platform),
		ProductID:     r.ProductID,
		TransactionID: r.TransactionID,
		State:         string(r.State),
		AutoRenewing:  r.AutoRenewing,
		CreatedAt:     r.CreatedAt,
	}
	if !r.ExpiresAt.IsZero() {
		t := r.ExpiresAt
		resp.ExpiresAt = &t
	}
	return resp
}

// VerifyReceipt handles POST /v1/iap/verify.
func (h *IAPHandler) VerifyReceipt(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "platform and receipt are required")
		return
	}

	userID := c.GetString("user_id")
	record, err := h.svc.Verify(c.Request.Context(), userID, verify.Platform(req.Platform), req.Receipt, req.ProductID)
	if err != nil {
		switch err {
		case verify.ErrReceiptInvalid:
			response.UnprocessableEntity(c, "RECEIPT_INVALID", "The receipt was rejected by the store")
		case verify.ErrReceiptConsumed:
			response.Conflict(c, "RECEIPT_CONSUMED", "The receipt has already been used by another account")
		default:
			logging.FromContext(c, h.log).Error("receipt verification failed",
				zap.String("user_id", userID),
				zap.String("platform", req.Platform),
				zap.Error(err))
			response.InternalError(c, "Verification failed, try again later")
		}
		return
	}

	response.OK(c, toPurchaseResponse(record))
}

// GetSubscriptions handles GET /v1/subscriptions.
func (h *IAPHandler) GetSubscriptions(c *gin.Context) {
	userID := c.GetString("user_id")

	records, err := h.svc.ActiveSubscriptions(c.Request.Context(), userID)
	if err != nil {
		logging.FromContext(c, h.log).Error("failed to load subscriptions",
			zap.String("user_id", userID),
			zap.Error(err))
		response.InternalError(c, "Failed to load subscriptions")
		return
	}

	out := make([]purchaseResponse, 0, len(records))
	for _, r := range records {
		out = append(out, toPurchaseResponse(r))
	}
	response.OK(c, gin.H{"subscriptions": out})
}
