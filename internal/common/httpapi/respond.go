// Package httpapi writes the JSON response envelope used by every HTTP endpoint.
package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/playdesk/playdesk/internal/common/apperr"
)

// Envelope is the uniform JSON body for success and failure responses.
type Envelope struct {
	Success   bool        `json:"success"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// OK writes a success envelope with the given status code and payload.
func OK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Fail writes a failure envelope derived from the error taxonomy.
// Rate-limit failures additionally carry a Retry-After header.
func Fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status == 429 {
		c.Header("Retry-After", "1")
	}

	message := err.Error()
	if status >= 500 {
		// Internal details stay in the logs; callers get an opaque message.
		message = "internal error"
	}

	c.JSON(status, Envelope{
		Success:   false,
		Code:      apperr.CodeOf(err),
		Message:   message,
		Data:      nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
