package handlers

import (
	"net/http"

	"castfeed/internal/middleware"
	"castfeed/internal/services"

	"github.com/gin-gonic/gin"
)

type FeedHandler struct {
	feed *services.FeedService
}

func NewFeedHandler(feed *services.FeedService) *FeedHandler {
	return &FeedHandler{feed: feed}
}

// feedRequest 主 feed 请求：过滤器 + 游标 + 页大小
type feedRequest struct {
	Filter services.FeedFilter `json:"filter"`
	Cursor string              `json:"cursor"`
	Limit  int                 `json:"limit"`
}

// Casts 主 feed 入口
// 携带 x-viewer-fid 时应用 per-viewer 屏蔽与上下文
func (h *FeedHandler) Casts(c *gin.Context) {
	var req feedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	viewer := middleware.ViewerFid(c)

	page, err := h.feed.GetFeed(c.Request.Context(), req.Filter, viewer, req.Cursor, req.Limit)
	if err != nil {
		HandleServiceError(c, err, "not found")
		return
	}
	c.JSON(http.StatusOK, page)
}
