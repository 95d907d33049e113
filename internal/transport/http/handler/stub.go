package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StubHandler serves the fixed placeholder endpoints for keys, metrics and
// logs. None of them compute anything.
type StubHandler struct{}

func NewStubHandler() *StubHandler {
	return &StubHandler{}
}

func (h *StubHandler) Root(c *gin.Context) {
	c.String(http.StatusOK, "Hello, World!")
}

func (h *StubHandler) ListKeys(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"keys": []string{"key-abc123", "key-xyz789"}})
}

// GenerateKey accepts any JSON body and ignores it.
func (h *StubHandler) GenerateKey(c *gin.Context) {
	var payload any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": "key-generated"})
}

func (h *StubHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "up"})
}

func (h *StubHandler) Logs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"GET /api/users": "200 OK",
		"POST /api/data": "401 Unauthorized",
	})
}
