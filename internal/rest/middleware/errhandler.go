package middleware

import (
	"strings"

	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/gin-gonic/gin"
)

// ErrorResponse represents the standard error response structure
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Display string `json:"message"`
}

// ErrorHandler renders the last error attached to the context. Only hints are
// shown to the caller; internal messages stay in the logs.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		display := strings.TrimSpace(ierr.HintOf(err))
		if display == "" {
			display = "An unexpected error occurred"
		}
		c.JSON(ierr.HTTPStatusFromErr(err), ErrorResponse{
			Success: false,
			Error:   ErrorDetail{Display: display},
		})
	}
}
