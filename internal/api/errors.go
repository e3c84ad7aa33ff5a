package api

import (
	"crypto/rand"

	"github.com/labstack/echo/v4"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
	Step          string `json:"step,omitempty"` // failed pipeline step
}

// NewErrorResponse creates an error response. The request ID assigned by
// the RequestID middleware doubles as correlation ID when present.
func NewErrorResponse(c echo.Context, errorCode, message string, code int) *ErrorResponse {
	id := c.Response().Header().Get(echo.HeaderXRequestID)
	if id == "" {
		id = generateCorrelationID()
	}
	return &ErrorResponse{
		Error:         errorCode,
		Message:       message,
		Code:          code,
		CorrelationID: id,
	}
}

func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}
