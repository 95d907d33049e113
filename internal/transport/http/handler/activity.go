package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"credvault/internal/cache"
	"credvault/internal/transport/http/response"
)

type ActivityReader interface {
	Recent(ctx context.Context, limit int) ([]cache.ActivityEntry, error)
}

type ActivityHandler struct {
	feed ActivityReader
	log  logrus.FieldLogger
}

func NewActivityHandler(feed ActivityReader, log logrus.FieldLogger) *ActivityHandler {
	return &ActivityHandler{feed: feed, log: log}
}

// List returns recent auth activity, newest first. ?limit= caps the count.
func (h *ActivityHandler) List(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		response.Error(c, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	entries, err := h.feed.Recent(c.Request.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("read activity feed failed")
		response.Error(c, http.StatusInternalServerError, response.MsgInternal)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": entries})
}
