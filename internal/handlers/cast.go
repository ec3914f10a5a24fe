package handlers

import (
	"net/http"

	"castfeed/internal/middleware"
	"castfeed/internal/services"

	"github.com/gin-gonic/gin"
)

type CastHandler struct {
	feed *services.FeedService
}

func NewCastHandler(feed *services.FeedService) *CastHandler {
	return &CastHandler{feed: feed}
}

// Get 按 hash 解析单条帖子
// 直接按 id 的解析不做屏蔽过滤（祖先链/引用补全需要），软删除的也可返回
func (h *CastHandler) Get(c *gin.Context) {
	hash := c.Param("hash")
	viewer := middleware.ViewerFid(c)

	view, err := h.feed.GetCastsByHashes(c.Request.Context(), []string{hash}, viewer)
	if err != nil {
		HandleServiceError(c, err, "cast not found")
		return
	}
	if len(view) == 0 {
		JSONError(c, http.StatusNotFound, "cast not found")
		return
	}
	c.JSON(http.StatusOK, view[0])
}

// batchCastsRequest 批量解析请求：hash 列表或 feed 过滤器，二选一
type batchCastsRequest struct {
	Hashes []string             `json:"hashes"`
	Filter *services.FeedFilter `json:"filter"`
	Cursor string               `json:"cursor"`
	Limit  int                  `json:"limit"`
}

// Batch 按 hash 列表或过滤器批量解析帖子
func (h *CastHandler) Batch(c *gin.Context) {
	var req batchCastsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	viewer := middleware.ViewerFid(c)

	if len(req.Hashes) > 0 {
		views, err := h.feed.GetCastsByHashes(c.Request.Context(), req.Hashes, viewer)
		if err != nil {
			HandleServiceError(c, err, "cast not found")
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": views})
		return
	}

	if req.Filter == nil {
		JSONError(c, http.StatusBadRequest, "either hashes or filter is required")
		return
	}
	page, err := h.feed.GetFeed(c.Request.Context(), *req.Filter, viewer, req.Cursor, req.Limit)
	if err != nil {
		HandleServiceError(c, err, "cast not found")
		return
	}
	c.JSON(http.StatusOK, page)
}

// Conversation 会话视图：祖先链 + 按策略排序的直接回复
func (h *CastHandler) Conversation(c *gin.Context) {
	hash := c.Param("hash")
	viewer := middleware.ViewerFid(c)

	strategy, err := services.ParseRankStrategy(c.Query("sort"))
	if err != nil {
		JSONError(c, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.feed.GetConversation(c.Request.Context(), hash, viewer, strategy, c.Query("cursor"), ParseLimit(c))
	if err != nil {
		HandleServiceError(c, err, "cast not found")
		return
	}
	c.JSON(http.StatusOK, page)
}
