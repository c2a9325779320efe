package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/modelguard/modelguard/pkg/errors"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents an API error with optional details
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func requestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// ErrorResponseFromError sends an error response based on the error type
func ErrorResponseFromError(c *gin.Context, err error) {
	var statusCode int
	var apiError *APIError

	switch e := err.(type) {
	case *errors.AppError:
		switch e.Type {
		case errors.ErrorTypeValidation:
			statusCode = http.StatusBadRequest
		case errors.ErrorTypeAuthentication:
			statusCode = http.StatusUnauthorized
		case errors.ErrorTypeAuthorization:
			statusCode = http.StatusForbidden
		case errors.ErrorTypeNotFound:
			statusCode = http.StatusNotFound
		case errors.ErrorTypeConflict:
			statusCode = http.StatusConflict
		case errors.ErrorTypeRateLimit:
			statusCode = http.StatusTooManyRequests
		case errors.ErrorTypeTimeout:
			statusCode = http.StatusRequestTimeout
		case errors.ErrorTypeBudget:
			statusCode = http.StatusPaymentRequired
		case errors.ErrorTypeBreakerOpen:
			statusCode = http.StatusServiceUnavailable
		default:
			statusCode = http.StatusInternalServerError
		}

		apiError = &APIError{
			Code:    e.Code,
			Message: e.Message,
		}
		if len(e.Details) > 0 {
			apiError.Details = make(map[string]interface{}, len(e.Details))
			for k, v := range e.Details {
				apiError.Details[k] = v
			}
		}
	default:
		statusCode = http.StatusInternalServerError
		apiError = &APIError{
			Code:    "INTERNAL_ERROR",
			Message: "An internal error occurred",
		}
	}

	c.JSON(statusCode, APIResponse{
		Success:   false,
		Error:     apiError,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// ValidationErrorResponse sends a 400 response for request validation failures
func ValidationErrorResponse(c *gin.Context, message string) {
	ErrorResponseFromError(c, errors.NewValidationError(message))
}
