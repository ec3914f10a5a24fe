package handlers

import (
	"errors"
	"log"
	"net/http"

	"castfeed/internal/services"
	"castfeed/internal/utils"

	"github.com/gin-gonic/gin"
)

// JSONError 统一错误响应体
func JSONError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

// HandleServiceError 把服务层错误映射到状态码
// 存储失败返回 5xx 并记日志，不把失败吞成空的成功响应
func HandleServiceError(c *gin.Context, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		JSONError(c, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, utils.ErrInvalidCursor):
		JSONError(c, http.StatusBadRequest, "invalid cursor")
	case errors.Is(err, services.ErrCircuitOpen):
		JSONError(c, http.StatusServiceUnavailable, "upstream temporarily unavailable")
	default:
		log.Printf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		JSONError(c, http.StatusInternalServerError, "internal error")
	}
}

// ParseLimit 读分页大小参数
func ParseLimit(c *gin.Context) int {
	return int(utils.StringToUint64(c.Query("limit")))
}
