package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	MsgInvalidPayload     = "Invalid request payload"
	MsgEmailExists        = "Email already exists"
	MsgInvalidCredentials = "Invalid credentials"
	MsgInternal           = "Internal server error"
)

// ErrorBody is the only shape a failure response takes.
type ErrorBody struct {
	Error string `json:"error"`
}

func OK(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}

func Error(c *gin.Context, httpStatus int, message string) {
	c.AbortWithStatusJSON(httpStatus, ErrorBody{Error: message})
}
