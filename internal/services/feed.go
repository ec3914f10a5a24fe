package services

import (
	"context"
	"fmt"

	"castfeed/internal/models"
	"castfeed/internal/utils"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100
	maxAncestors    = 40 // 祖先链遍历上限，防御环状数据
)

// ClampLimit 规整页大小：缺省取默认值，超限截到上限
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// FeedPage feed 响应：一页水合对象 + 下一页游标
// next_cursor 只在整页返回时给出，表示"可能还有下一页"而非保证
type FeedPage struct {
	Data       []*models.CastView `json:"data"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// ConversationPage 会话视图：祖先链 + 排序后的直接回复
type ConversationPage struct {
	Cast       *models.CastView   `json:"cast"`
	Ancestors  []*models.CastView `json:"ancestors,omitempty"`
	Replies    []*models.CastView `json:"replies"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// FeedService 编排层：MuteFilter + FeedQueryBuilder → EntityResolver → ReplyRanker
type FeedService struct {
	query    *FeedQueryService
	resolver *Resolver
	mutes    *MuteService
	ranker   *ReplyRankService
}

func NewFeedService(query *FeedQueryService, resolver *Resolver, mutes *MuteService, ranker *ReplyRankService) *FeedService {
	return &FeedService{query: query, resolver: resolver, mutes: mutes, ranker: ranker}
}

// GetFeed 主 feed 入口：过滤 → 查一页 hash → 批量水合 → 组装响应
// 水合或查询失败直接报错，不静默降级成空响应
func (s *FeedService) GetFeed(ctx context.Context, filter FeedFilter, viewerFid uint64, cursorToken string, limit int) (*FeedPage, error) {
	cur, err := utils.DecodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}
	limit = ClampLimit(limit)

	mutes, err := s.mutes.GetMuteList(ctx, viewerFid)
	if err != nil {
		return nil, fmt.Errorf("resolve mutes: %w", err)
	}

	rows, err := s.query.QueryCasts(ctx, filter, viewerFid, mutes, cur, limit)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, len(rows))
	for i, row := range rows {
		hashes[i] = row.Hash
	}
	views, err := s.resolver.GetCasts(ctx, hashes, viewerFid)
	if err != nil {
		return nil, fmt.Errorf("hydrate feed: %w", err)
	}

	page := &FeedPage{Data: views}
	if len(rows) == limit {
		page.NextCursor = utils.EncodeCursor(utils.Cursor{
			Timestamp: rows[len(rows)-1].Timestamp.UnixMilli(),
		})
	}
	return page, nil
}

// GetCastsByHashes 按显式 hash 列表解析（不走 feed 过滤，也不做屏蔽）
func (s *FeedService) GetCastsByHashes(ctx context.Context, hashes []string, viewerFid uint64) ([]*models.CastView, error) {
	return s.resolver.GetCasts(ctx, hashes, viewerFid)
}

// GetConversation 会话视图：向上走祖先链（带深度上限与环检测），向下取排序后的直接回复
func (s *FeedService) GetConversation(ctx context.Context, hash string, viewerFid uint64,
	strategy RankStrategy, cursorToken string, limit int) (*ConversationPage, error) {

	cur, err := utils.DecodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}
	limit = ClampLimit(limit)

	cast, err := s.resolver.GetCast(ctx, hash, viewerFid)
	if err != nil {
		return nil, err
	}

	ancestorHashes := s.ancestorChain(ctx, cast)
	ancestors, err := s.resolver.GetCasts(ctx, ancestorHashes, viewerFid)
	if err != nil {
		return nil, fmt.Errorf("hydrate ancestors: %w", err)
	}

	ranked, full, err := s.ranker.RankedReplies(ctx, hash, strategy, ScoredReply{Score: cur.Score, Hash: cur.Hash}, limit)
	if err != nil {
		return nil, fmt.Errorf("rank replies: %w", err)
	}
	replyHashes := make([]string, len(ranked))
	for i, r := range ranked {
		replyHashes[i] = r.Hash
	}
	replies, err := s.resolver.GetCasts(ctx, replyHashes, viewerFid)
	if err != nil {
		return nil, fmt.Errorf("hydrate replies: %w", err)
	}

	page := &ConversationPage{
		Cast:      cast,
		Ancestors: ancestors,
		Replies:   replies,
	}
	if full && len(ranked) > 0 {
		last := ranked[len(ranked)-1]
		page.NextCursor = utils.EncodeCursor(utils.Cursor{Score: last.Score, Hash: last.Hash})
	}
	return page, nil
}

// ancestorChain 沿 parent 指针向上收集 hash，自根向下排列
// 上限 maxAncestors 跳，访问集防环
func (s *FeedService) ancestorChain(ctx context.Context, cast *models.CastView) []string {
	var chain []string
	visited := map[string]bool{cast.Hash: true}

	current := cast.ParentCast
	parentHash := cast.ParentHash
	for depth := 0; depth < maxAncestors && parentHash != "" && !visited[parentHash]; depth++ {
		visited[parentHash] = true
		chain = append(chain, parentHash)
		if current == nil {
			// 引用只展开了一层，更深的祖先单独补取
			deeper, err := s.resolver.GetCast(ctx, parentHash, 0)
			if err != nil {
				break
			}
			current = deeper
		}
		parentHash = current.ParentHash
		current = current.ParentCast
	}

	// 反转为 根 → ... → 直接父帖
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}
