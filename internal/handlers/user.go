package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"castfeed/internal/db"
	"castfeed/internal/middleware"
	"castfeed/internal/models"
	"castfeed/internal/services"
	"castfeed/internal/utils"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	resolver *services.Resolver
	query    *services.FeedQueryService
}

func NewUserHandler(resolver *services.Resolver, query *services.FeedQueryService) *UserHandler {
	return &UserHandler{resolver: resolver, query: query}
}

// Get 按 fid 或用户名解析单个账号
func (h *UserHandler) Get(c *gin.Context) {
	param := c.Param("fidOrUsername")
	viewer := middleware.ViewerFid(c)
	ctx := c.Request.Context()

	if fid := utils.StringToUint64(param); fid != 0 {
		views, err := h.resolver.GetUsers(ctx, []uint64{fid}, viewer)
		if err != nil {
			HandleServiceError(c, err, "user not found")
			return
		}
		if v := views[fid]; v != nil {
			c.JSON(http.StatusOK, v)
			return
		}
		JSONError(c, http.StatusNotFound, "user not found")
		return
	}

	view, err := h.resolver.GetUserByName(ctx, param, viewer)
	if err != nil {
		HandleServiceError(c, err, "user not found")
		return
	}
	c.JSON(http.StatusOK, view)
}

// batchUsersRequest 批量解析请求：fid 列表、地址列表或用户名模糊查询，三选一
type batchUsersRequest struct {
	Fids      []uint64 `json:"fids"`
	Addresses []string `json:"addresses"`
	Query     string   `json:"q"`
	Limit     int      `json:"limit"`
}

// Batch 批量解析账号
func (h *UserHandler) Batch(c *gin.Context) {
	var req batchUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	viewer := middleware.ViewerFid(c)
	ctx := c.Request.Context()

	switch {
	case len(req.Fids) > 0:
		views, err := h.resolver.GetUsers(ctx, req.Fids, viewer)
		if err != nil {
			HandleServiceError(c, err, "user not found")
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": orderedUsers(req.Fids, views)})
	case len(req.Addresses) > 0:
		views, err := h.resolver.GetUsersByAddresses(ctx, req.Addresses, viewer)
		if err != nil {
			HandleServiceError(c, err, "user not found")
			return
		}
		out := make([]*models.UserView, 0, len(views))
		for _, v := range views {
			out = append(out, v)
		}
		c.JSON(http.StatusOK, gin.H{"data": out})
	case req.Query != "":
		fids, err := h.searchFids(c, req.Query, services.ClampLimit(req.Limit))
		if err != nil {
			HandleServiceError(c, err, "user not found")
			return
		}
		views, err := h.resolver.GetUsers(ctx, fids, viewer)
		if err != nil {
			HandleServiceError(c, err, "user not found")
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": orderedUsers(fids, views)})
	default:
		JSONError(c, http.StatusBadRequest, "one of fids, addresses or q is required")
	}
}

// likeEscaper 搜索词里的 LIKE 通配符按字面匹配
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// searchFids 用户名/显示名模糊搜索
func (h *UserHandler) searchFids(c *gin.Context, query string, limit int) ([]uint64, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
	var fids []uint64
	err := db.DB.WithContext(c.Request.Context()).Model(&models.User{}).
		Where(`LOWER(fname) LIKE ? ESCAPE '\' OR LOWER(display_name) LIKE ? ESCAPE '\'`, pattern, pattern).
		Order("fid ASC").Limit(limit).
		Pluck("fid", &fids).Error
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return fids, nil
}

// Followers 关注该账号的人，fid 倒序分页
func (h *UserHandler) Followers(c *gin.Context) {
	h.listRelations(c, relationFollowers)
}

// Following 该账号关注的人
func (h *UserHandler) Following(c *gin.Context) {
	h.listRelations(c, relationFollowing)
}

// Mutuals 互相关注
func (h *UserHandler) Mutuals(c *gin.Context) {
	h.listRelations(c, relationMutuals)
}

// MutualsPreview 互关预览：前 5 个，无分页
func (h *UserHandler) MutualsPreview(c *gin.Context) {
	fid := utils.StringToUint64(c.Param("fidOrUsername"))
	if fid == 0 {
		JSONError(c, http.StatusBadRequest, "invalid fid")
		return
	}
	viewer := middleware.ViewerFid(c)
	ctx := c.Request.Context()

	fids, err := h.relationFids(c, fid, relationMutuals, 0, 5)
	if err != nil {
		HandleServiceError(c, err, "user not found")
		return
	}
	views, err := h.resolver.GetUsers(ctx, fids, viewer)
	if err != nil {
		HandleServiceError(c, err, "user not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orderedUsers(fids, views)})
}

type relationKind int

const (
	relationFollowers relationKind = iota
	relationFollowing
	relationMutuals
)

// listRelations 关系列表的通用分页（游标为上一页最后一个 fid）
func (h *UserHandler) listRelations(c *gin.Context, kind relationKind) {
	fid := utils.StringToUint64(c.Param("fidOrUsername"))
	if fid == 0 {
		JSONError(c, http.StatusBadRequest, "invalid fid")
		return
	}
	viewer := middleware.ViewerFid(c)
	ctx := c.Request.Context()

	cur, err := utils.DecodeCursor(c.Query("cursor"))
	if err != nil {
		JSONError(c, http.StatusBadRequest, "invalid cursor")
		return
	}
	limit := services.ClampLimit(ParseLimit(c))

	fids, err := h.relationFids(c, fid, kind, uint64(cur.Score), limit)
	if err != nil {
		HandleServiceError(c, err, "user not found")
		return
	}
	views, err := h.resolver.GetUsers(ctx, fids, viewer)
	if err != nil {
		HandleServiceError(c, err, "user not found")
		return
	}

	resp := gin.H{"data": orderedUsers(fids, views)}
	if len(fids) == limit {
		resp["next_cursor"] = utils.EncodeCursor(utils.Cursor{Score: int64(fids[len(fids)-1])})
	}
	c.JSON(http.StatusOK, resp)
}

// relationFids 取一页关系 fid，afterFid 为游标（0 表示第一页），fid 升序
func (h *UserHandler) relationFids(c *gin.Context, fid uint64, kind relationKind, afterFid uint64, limit int) ([]uint64, error) {
	ctx := c.Request.Context()
	var fids []uint64
	var err error

	switch kind {
	case relationFollowers:
		q := db.DB.WithContext(ctx).Model(&models.Link{}).Where("target_fid = ?", fid)
		if afterFid > 0 {
			q = q.Where("fid > ?", afterFid)
		}
		err = q.Order("fid ASC").Limit(limit).Pluck("fid", &fids).Error
	case relationFollowing:
		q := db.DB.WithContext(ctx).Model(&models.Link{}).Where("fid = ?", fid)
		if afterFid > 0 {
			q = q.Where("target_fid > ?", afterFid)
		}
		err = q.Order("target_fid ASC").Limit(limit).Pluck("target_fid", &fids).Error
	case relationMutuals:
		// 自己关注的 ∩ 关注自己的
		q := db.DB.WithContext(ctx).Model(&models.Link{}).
			Where("fid = ?", fid).
			Where("target_fid IN (?)", db.DB.Model(&models.Link{}).Select("fid").Where("target_fid = ?", fid))
		if afterFid > 0 {
			q = q.Where("target_fid > ?", afterFid)
		}
		err = q.Order("target_fid ASC").Limit(limit).Pluck("target_fid", &fids).Error
	}
	if err != nil {
		return nil, fmt.Errorf("load relations: %w", err)
	}
	return fids, nil
}

// orderedUsers 按请求顺序排列，缺失的跳过
func orderedUsers(fids []uint64, views map[uint64]*models.UserView) []*models.UserView {
	out := make([]*models.UserView, 0, len(fids))
	for _, fid := range utils.UniqueFids(fids) {
		if v := views[fid]; v != nil {
			out = append(out, v)
		}
	}
	return out
}
