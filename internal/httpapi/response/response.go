// Package response holds the shared HTTP response envelope.
package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Meta contains response metadata.
type Meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SuccessResponse wraps a successful payload.
type SuccessResponse struct {
	Data interface{} `json:"data"`
	Meta Meta        `json:"meta"`
}

// ErrorResponse wraps an error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Meta    Meta   `json:"meta"`
}

func meta(c *gin.Context) Meta {
	requestID := c.GetString("request_id")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return Meta{RequestID: requestID, Timestamp: time.Now()}
}

// Send sends a successful response with the given status code.
func Send(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, SuccessResponse{Data: data, Meta: meta(c)})
}

// OK sends a 200 OK response.
func OK(c *gin.Context, data interface{}) {
	Send(c, http.StatusOK, data)
}

// Created sends a 201 Created response.
func Created(c *gin.Context, data interface{}) {
	Send(c, http.StatusCreated, data)
}

// Error sends an error response.
func Error(c *gin.Context, statusCode int, errCode string, message string) {
	c.JSON(statusCode, ErrorResponse{Error: errCode, Message: message, Meta: meta(c)})
}

// BadRequest sends a 400 Bad Request response.
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "INVALID_REQUEST", message)
}

// Unauthorized sends a 401 Unauthorized response.
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// Conflict sends a 409 Conflict response.
func Conflict(c *gin.Context, errCode string, message string) {
	Error(c, http.StatusConflict, errCode, message)
}

// UnprocessableEntity sends a 422 Unprocessable Entity response.
func UnprocessableEntity(c *gin.Context, errCode string, message string) {
	Error(c, http.StatusUnprocessableEntity, errCode, message)
}

// InternalError sends a 500 Internal Server Error response.
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}
