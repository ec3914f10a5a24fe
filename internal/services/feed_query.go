package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"castfeed/internal/cache"
	"castfeed/internal/db"
	"castfeed/internal/models"
	"castfeed/internal/utils"

	"gorm.io/gorm"
)

// 用户过滤器变体
type UserFilterKind int

const (
	UserFilterNone UserFilterKind = iota
	UserFilterByFid
	UserFilterFollowing  // 指定账号关注的人
	UserFilterByFids
	UserFilterPowerBadge // 全局徽章持有者 ∪ viewer 的关注集
)

// UserFilter 带判别字段的用户过滤器
type UserFilter struct {
	Kind UserFilterKind `json:"kind"`
	Fid  uint64         `json:"fid,omitempty"`
	Fids []uint64       `json:"fids,omitempty"`
}

// 频道过滤器变体
type ChannelFilterKind int

const (
	ChannelFilterNone ChannelFilterKind = iota
	ChannelFilterByURLs
	ChannelFilterByIDs // 查询前翻译成 url
)

// ChannelFilter 带判别字段的频道过滤器
type ChannelFilter struct {
	Kind ChannelFilterKind `json:"kind"`
	URLs []string          `json:"urls,omitempty"`
	IDs  []string          `json:"ids,omitempty"`
}

// 回复包含模式
type RepliesMode int

const (
	ExcludeReplies RepliesMode = iota // 默认
	IncludeReplies
	OnlyReplies
)

// FeedFilter feed 查询的全部过滤维度
type FeedFilter struct {
	Text         []string       `json:"text,omitempty"` // 全文短语，OR 组合
	Users        *UserFilter    `json:"users,omitempty"`
	Channels     *ChannelFilter `json:"channels,omitempty"`
	Replies      RepliesMode    `json:"replies,omitempty"`
	MinTimestamp time.Time      `json:"min_timestamp,omitempty"`
}

// FeedQueryService 把 FeedFilter 翻译成有界、有序、参数化的分页查询
// 全部条件通过 gorm 绑定参数，不做字符串拼接
type FeedQueryService struct {
	store     cache.Store
	resolver  *Resolver
	followTTL time.Duration
}

func NewFeedQueryService(store cache.Store, resolver *Resolver) *FeedQueryService {
	return &FeedQueryService{store: store, resolver: resolver, followTTL: 5 * time.Minute}
}

// QueryCasts 执行一页查询，按时间倒序返回帖子行
// 游标语义固定为 timestamp < cursor.timestamp
func (s *FeedQueryService) QueryCasts(ctx context.Context, filter FeedFilter, viewerFid uint64,
	mutes *models.MuteList, cur utils.Cursor, limit int) ([]models.Cast, error) {

	q := db.DB.WithContext(ctx).Model(&models.Cast{})

	// 回复包含模式
	switch filter.Replies {
	case ExcludeReplies:
		q = q.Where("parent_hash = ''")
	case OnlyReplies:
		q = q.Where("parent_hash <> ''")
	}

	// 全文短语：OR 组合
	if len(filter.Text) > 0 {
		text := db.DB.Where(`LOWER(text) LIKE ? ESCAPE '\'`, phrasePattern(filter.Text[0]))
		for _, p := range filter.Text[1:] {
			text = text.Or(`LOWER(text) LIKE ? ESCAPE '\'`, phrasePattern(p))
		}
		q = q.Where(text)
	}

	// 用户过滤器
	if filter.Users != nil {
		sub, err := s.applyUserFilter(ctx, filter.Users, viewerFid)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			q = q.Where(sub)
		}
	}

	// 频道过滤器
	if filter.Channels != nil {
		urls, err := s.channelURLs(ctx, filter.Channels)
		if err != nil {
			return nil, err
		}
		if len(urls) == 0 {
			// 过滤目标全部不存在，结果必为空
			return nil, nil
		}
		q = q.Where("(parent_url IN ? OR root_parent_url IN ?)", urls, urls)
	}

	// 时间下界与游标上界
	if !filter.MinTimestamp.IsZero() {
		q = q.Where("timestamp >= ?", filter.MinTimestamp)
	}
	if cur.Timestamp > 0 {
		q = q.Where("timestamp < ?", time.UnixMilli(cur.Timestamp).UTC())
	}

	// 屏蔽排除
	q = applyMutes(q, filter, mutes)

	var rows []models.Cast
	if err := q.Order("timestamp DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("feed query: %w", err)
	}
	return rows, nil
}

// applyMutes 叠加屏蔽谓词
// 历史行为：屏蔽频道只在查询限定为回复时生效，这里按原样保留
func applyMutes(q *gorm.DB, filter FeedFilter, mutes *models.MuteList) *gorm.DB {
	if mutes.Empty() {
		return q
	}
	if len(mutes.Fids) > 0 {
		q = q.Where("fid NOT IN ?", mutes.Fids)
	}
	if len(mutes.Words) > 0 {
		for _, w := range mutes.Words {
			q = q.Where(`LOWER(text) NOT LIKE ? ESCAPE '\'`, phrasePattern(w))
		}
	}
	if len(mutes.ChannelURLs) > 0 && filter.Replies == OnlyReplies {
		q = q.Where("(parent_url NOT IN ? AND root_parent_url NOT IN ?)", mutes.ChannelURLs, mutes.ChannelURLs)
	}
	return q
}

// likeEscaper 短语里的 LIKE 通配符按字面匹配
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func phrasePattern(phrase string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(phrase)) + "%"
}

// applyUserFilter 把用户过滤器变体解析成 fid 条件
func (s *FeedQueryService) applyUserFilter(ctx context.Context, f *UserFilter, viewerFid uint64) (*gorm.DB, error) {
	switch f.Kind {
	case UserFilterByFid:
		return db.DB.Where("fid = ?", f.Fid), nil
	case UserFilterByFids:
		if len(f.Fids) == 0 {
			return nil, fmt.Errorf("user filter: empty fid list")
		}
		return db.DB.Where("fid IN ?", f.Fids), nil
	case UserFilterFollowing:
		follows, err := s.FollowedFids(ctx, f.Fid)
		if err != nil {
			return nil, err
		}
		if len(follows) == 0 {
			// 无关注则无结果
			return db.DB.Where("1 = 0"), nil
		}
		return db.DB.Where("fid IN ?", follows), nil
	case UserFilterPowerBadge:
		badges, err := s.resolver.PowerBadgeFids(ctx)
		if err != nil {
			return nil, err
		}
		// 带 viewer 时并上其关注集：即使全局集合滞后，viewer 关注的持有者也可见
		if viewerFid != 0 {
			follows, err := s.FollowedFids(ctx, viewerFid)
			if err != nil {
				return nil, err
			}
			badges = utils.UniqueFids(append(badges, follows...))
		}
		if len(badges) == 0 {
			return db.DB.Where("1 = 0"), nil
		}
		return db.DB.Where("fid IN ?", badges), nil
	}
	return nil, nil
}

// FollowedFids 解析指定账号的完整关注集，整表缓存为扁平 fid 列表
func (s *FeedQueryService) FollowedFids(ctx context.Context, fid uint64) ([]uint64, error) {
	key := fmt.Sprintf("follows:%d", fid)
	if v := cache.GetJSON[[]uint64](ctx, s.store, key); v != nil {
		return *v, nil
	}
	var fids []uint64
	if err := db.DB.WithContext(ctx).Model(&models.Link{}).
		Where("fid = ?", fid).Pluck("target_fid", &fids).Error; err != nil {
		return nil, fmt.Errorf("load follows: %w", err)
	}
	cache.SetJSON(ctx, s.store, key, &fids, s.followTTL)
	return fids, nil
}

// channelURLs 规整频道过滤器为 url 列表（BY_IDS 先翻译）
func (s *FeedQueryService) channelURLs(ctx context.Context, f *ChannelFilter) ([]string, error) {
	switch f.Kind {
	case ChannelFilterByURLs:
		return utils.UniqueStrings(f.URLs), nil
	case ChannelFilterByIDs:
		urlByID, err := s.resolver.ChannelURLsByIDs(ctx, f.IDs)
		if err != nil {
			return nil, err
		}
		urls := make([]string, 0, len(urlByID))
		for _, u := range urlByID {
			urls = append(urls, u)
		}
		return utils.UniqueStrings(urls), nil
	}
	return nil, fmt.Errorf("channel filter: missing kind")
}
