package middleware

import (
	"github.com/flexprice/billsync/internal/types"
	"github.com/gin-gonic/gin"
)

// RequestIDMiddleware propagates or assigns the request id
func RequestIDMiddleware(c *gin.Context) {
	requestID := c.GetHeader(types.HeaderRequestID)
	if requestID == "" {
		requestID = types.GenerateUUIDWithPrefix("req")
	}

	c.Request = c.Request.WithContext(types.SetRequestID(c.Request.Context(), requestID))
	c.Header(types.HeaderRequestID, requestID)

	c.Next()
}
