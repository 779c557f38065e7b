package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/copilot-mcp/copilot-memory/internal/memory"
)

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// SuccessResponse sends a success response
func SuccessResponse(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, &Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CreatedResponse sends a 201 created response
func CreatedResponse(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, &Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse sends an error response
func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, &Response{
		Success: false,
		Message: message,
	})
}

// CoreError maps a taxonomy kind onto the right HTTP status.
func CoreError(c *gin.Context, err error) {
	switch memory.ErrKind(err) {
	case memory.KindValidation:
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case memory.KindNotFound:
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case memory.KindMigrationConflict:
		ErrorResponse(c, http.StatusConflict, err.Error())
	default:
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}
}
