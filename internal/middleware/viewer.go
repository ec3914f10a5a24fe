package middleware

import (
	"castfeed/internal/utils"

	"github.com/gin-gonic/gin"
)

const ViewerFidKey = "viewer_fid"

// LoadViewer 从 x-viewer-fid 头读取请求方账号 id
// 头是可选的：带上才会计算 per-viewer 上下文和屏蔽过滤
func LoadViewer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v := c.GetHeader("x-viewer-fid"); v != "" {
			if fid := utils.StringToUint64(v); fid != 0 {
				c.Set(ViewerFidKey, fid)
			}
		}
		c.Next()
	}
}

// ViewerFid 取当前请求的 viewer fid，未提供时返回 0
func ViewerFid(c *gin.Context) uint64 {
	if v, ok := c.Get(ViewerFidKey); ok {
		return v.(uint64)
	}
	return 0
}
