package handlers

import (
	"net/http"
	"strings"

	"castfeed/internal/services"

	"github.com/gin-gonic/gin"
)

type ChannelHandler struct {
	resolver *services.Resolver
}

func NewChannelHandler(resolver *services.Resolver) *ChannelHandler {
	return &ChannelHandler{resolver: resolver}
}

// List 频道搜索（?q= 为空时按关注数返回头部频道）
func (h *ChannelHandler) List(c *gin.Context) {
	limit := services.ClampLimit(ParseLimit(c))
	views, err := h.resolver.SearchChannels(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		HandleServiceError(c, err, "channel not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

// batchChannelsRequest 批量解析请求：url 列表或短 id 列表
type batchChannelsRequest struct {
	URLs []string `json:"urls"`
	IDs  []string `json:"ids"`
}

// Batch 批量解析频道，结果与输入位置对应，未知的为 null
func (h *ChannelHandler) Batch(c *gin.Context) {
	var req batchChannelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := c.Request.Context()

	switch {
	case len(req.URLs) > 0:
		views, err := h.resolver.GetChannels(ctx, req.URLs)
		if err != nil {
			HandleServiceError(c, err, "channel not found")
			return
		}
		out := make([]interface{}, len(req.URLs))
		for i, u := range req.URLs {
			if v := views[u]; v != nil {
				out[i] = v
			}
		}
		c.JSON(http.StatusOK, gin.H{"data": out})
	case len(req.IDs) > 0:
		urls, err := h.resolver.ChannelURLsByIDs(ctx, req.IDs)
		if err != nil {
			HandleServiceError(c, err, "channel not found")
			return
		}
		allURLs := make([]string, 0, len(urls))
		for _, u := range urls {
			allURLs = append(allURLs, u)
		}
		views, err := h.resolver.GetChannels(ctx, allURLs)
		if err != nil {
			HandleServiceError(c, err, "channel not found")
			return
		}
		out := make([]interface{}, len(req.IDs))
		for i, id := range req.IDs {
			if u, ok := urls[id]; ok {
				if v := views[u]; v != nil {
					out[i] = v
				}
			}
		}
		c.JSON(http.StatusOK, gin.H{"data": out})
	default:
		JSONError(c, http.StatusBadRequest, "either urls or ids is required")
	}
}

// GetByID 按短 id 解析单个频道
func (h *ChannelHandler) GetByID(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	urls, err := h.resolver.ChannelURLsByIDs(ctx, []string{id})
	if err != nil {
		HandleServiceError(c, err, "channel not found")
		return
	}
	url, ok := urls[id]
	if !ok {
		JSONError(c, http.StatusNotFound, "channel not found")
		return
	}

	views, err := h.resolver.GetChannels(ctx, []string{url})
	if err != nil {
		HandleServiceError(c, err, "channel not found")
		return
	}
	if v := views[url]; v != nil {
		c.JSON(http.StatusOK, v)
		return
	}
	JSONError(c, http.StatusNotFound, "channel not found")
}

// GetByURL 按 url 解析单个频道
// 频道 url 含斜杠，路由用通配参数接，也支持 ?url= 传入
func (h *ChannelHandler) GetByURL(c *gin.Context) {
	url := strings.TrimPrefix(c.Param("url"), "/")
	if url == "" {
		url = c.Query("url")
	}
	if url == "" {
		JSONError(c, http.StatusBadRequest, "url is required")
		return
	}

	views, err := h.resolver.GetChannels(c.Request.Context(), []string{url})
	if err != nil {
		HandleServiceError(c, err, "channel not found")
		return
	}
	if v := views[url]; v != nil {
		c.JSON(http.StatusOK, v)
		return
	}
	JSONError(c, http.StatusNotFound, "channel not found")
}
