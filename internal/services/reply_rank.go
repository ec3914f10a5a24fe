package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"castfeed/internal/cache"
	"castfeed/internal/db"
	"castfeed/internal/models"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// RankStrategy 回复排序策略
type RankStrategy string

const (
	RankChronological RankStrategy = "chronological"
	RankTop           RankStrategy = "top"
	RankBest          RankStrategy = "best"
)

// ParseRankStrategy 解析策略名，空串取默认
func ParseRankStrategy(s string) (RankStrategy, error) {
	switch RankStrategy(s) {
	case "":
		return RankChronological, nil
	case RankChronological, RankTop, RankBest:
		return RankStrategy(s), nil
	}
	return "", fmt.Errorf("unknown rank strategy: %s", s)
}

// best 策略的加成档位，高档覆盖低档，不叠加
const (
	bonusRootAuthor  = 5_000_000 // 回复者就是根帖作者
	bonusRootReplied = 4_000_000 // 根帖作者回复了这条回复
	bonusRootLiked   = 3_000_000 // 根帖作者点赞了这条回复
	bonusRootFollows = 2_000_000 // 根帖作者关注回复者
	bonusPowerBadge  = 1_000_000 // 回复者持有徽章
)

// ScoredReply 排序后的 (hash, score) 对
type ScoredReply struct {
	Hash  string `json:"h"`
	Score int64  `json:"s"`
}

// ReplyRankService 计算一条帖子直接回复的排序
// 每 (post, strategy) 的打分结果整体缓存，翻页不重算
type ReplyRankService struct {
	store    cache.Store
	resolver *Resolver
	ttl      time.Duration
}

func NewReplyRankService(store cache.Store, resolver *Resolver) *ReplyRankService {
	return &ReplyRankService{store: store, resolver: resolver, ttl: 2 * time.Minute}
}

func rankCacheKey(parentHash string, strategy RankStrategy) string {
	return fmt.Sprintf("replies:%s:%s", parentHash, strategy)
}

// RankedReplies 返回一页排好序的回复 hash
// 游标为 (score, hash)，排序统一降序，平分时按 hash 字节序降序
func (s *ReplyRankService) RankedReplies(ctx context.Context, parentHash string, strategy RankStrategy,
	cur ScoredReply, limit int) ([]ScoredReply, bool, error) {

	key := rankCacheKey(parentHash, strategy)
	var ranked []ScoredReply
	if v := cache.GetJSON[[]ScoredReply](ctx, s.store, key); v != nil {
		ranked = *v
	} else {
		var err error
		ranked, err = s.computeScores(ctx, parentHash, strategy)
		if err != nil {
			return nil, false, err
		}
		cache.SetJSON(ctx, s.store, key, &ranked, s.ttl)
	}

	// 内存分页：跳过游标之前（含）的位置
	start := 0
	if cur.Hash != "" || cur.Score != 0 {
		start = len(ranked)
		for i, r := range ranked {
			if r.Score < cur.Score || (r.Score == cur.Score && r.Hash < cur.Hash) {
				start = i
				break
			}
		}
	}
	end := start + limit
	if end > len(ranked) {
		end = len(ranked)
	}
	full := end-start == limit && limit > 0
	return ranked[start:end], full, nil
}

// computeScores 对直接回复整体打分并排序
func (s *ReplyRankService) computeScores(ctx context.Context, parentHash string, strategy RankStrategy) ([]ScoredReply, error) {
	var replies []models.Cast
	if err := db.DB.WithContext(ctx).
		Where("parent_hash = ?", parentHash).
		Find(&replies).Error; err != nil {
		return nil, fmt.Errorf("load replies: %w", err)
	}
	if len(replies) == 0 {
		return []ScoredReply{}, nil
	}

	ranked := make([]ScoredReply, 0, len(replies))

	switch strategy {
	case RankChronological:
		for _, re := range replies {
			ranked = append(ranked, ScoredReply{Hash: re.Hash, Score: re.Timestamp.UnixMilli()})
		}
	case RankTop:
		likes, err := s.likeCounts(ctx, replies)
		if err != nil {
			return nil, err
		}
		for _, re := range replies {
			ranked = append(ranked, ScoredReply{Hash: re.Hash, Score: likes[re.Hash]})
		}
	case RankBest:
		var err error
		ranked, err = s.bestScores(ctx, parentHash, replies)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown rank strategy: %s", strategy)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Hash > ranked[j].Hash
	})
	return ranked, nil
}

func (s *ReplyRankService) likeCounts(ctx context.Context, replies []models.Cast) (map[string]int64, error) {
	hashes := make([]string, len(replies))
	for i, re := range replies {
		hashes[i] = re.Hash
	}
	type likeCount struct {
		TargetHash string
		Count      int64
	}
	var counts []likeCount
	if err := db.DB.WithContext(ctx).Model(&models.Reaction{}).
		Select("target_hash, COUNT(*) as count").
		Where("type = ? AND target_hash IN ?", models.ReactionLike, hashes).
		Group("target_hash").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count likes: %w", err)
	}
	out := make(map[string]int64, len(counts))
	for _, c := range counts {
		out[c.TargetHash] = c.Count
	}
	return out, nil
}

// bestScores 启发式打分：基础分为点赞数，叠加与根帖作者关系的单一最高档加成
func (s *ReplyRankService) bestScores(ctx context.Context, parentHash string, replies []models.Cast) ([]ScoredReply, error) {
	rootFid, err := s.rootAuthorFid(ctx, parentHash)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, len(replies))
	replierFids := make([]uint64, len(replies))
	for i, re := range replies {
		hashes[i] = re.Hash
		replierFids[i] = re.Fid
	}

	var (
		likes        map[string]int64
		rootReplied  map[string]bool
		rootLiked    map[string]bool
		rootFollows  map[uint64]bool
		badgeHolders map[uint64]bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		likes, err = s.likeCounts(gctx, replies)
		return err
	})
	g.Go(func() error {
		// 根帖作者回复过哪些回复
		var parents []string
		if err := db.DB.WithContext(gctx).Model(&models.Cast{}).
			Where("fid = ? AND parent_hash IN ?", rootFid, hashes).
			Distinct("parent_hash").Pluck("parent_hash", &parents).Error; err != nil {
			return fmt.Errorf("load root replies: %w", err)
		}
		rootReplied = make(map[string]bool, len(parents))
		for _, p := range parents {
			rootReplied[p] = true
		}
		return nil
	})
	g.Go(func() error {
		var liked []string
		if err := db.DB.WithContext(gctx).Model(&models.Reaction{}).
			Where("type = ? AND fid = ? AND target_hash IN ?", models.ReactionLike, rootFid, hashes).
			Pluck("target_hash", &liked).Error; err != nil {
			return fmt.Errorf("load root likes: %w", err)
		}
		rootLiked = make(map[string]bool, len(liked))
		for _, h := range liked {
			rootLiked[h] = true
		}
		return nil
	})
	g.Go(func() error {
		var followed []uint64
		if err := db.DB.WithContext(gctx).Model(&models.Link{}).
			Where("fid = ? AND target_fid IN ?", rootFid, replierFids).
			Pluck("target_fid", &followed).Error; err != nil {
			return fmt.Errorf("load root follows: %w", err)
		}
		rootFollows = make(map[uint64]bool, len(followed))
		for _, f := range followed {
			rootFollows[f] = true
		}
		return nil
	})
	g.Go(func() error {
		all, err := s.resolver.PowerBadgeFids(gctx)
		if err != nil {
			return err
		}
		badgeHolders = make(map[uint64]bool, len(all))
		for _, f := range all {
			badgeHolders[f] = true
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ranked := make([]ScoredReply, 0, len(replies))
	for _, re := range replies {
		score := likes[re.Hash]
		switch {
		case re.Fid == rootFid:
			score += bonusRootAuthor
		case rootReplied[re.Hash]:
			score += bonusRootReplied
		case rootLiked[re.Hash]:
			score += bonusRootLiked
		case rootFollows[re.Fid]:
			score += bonusRootFollows
		case badgeHolders[re.Fid]:
			score += bonusPowerBadge
		}
		ranked = append(ranked, ScoredReply{Hash: re.Hash, Score: score})
	}
	return ranked, nil
}

// rootAuthorFid 线程根帖的作者：父帖本身是回复时取其根帖作者
func (s *ReplyRankService) rootAuthorFid(ctx context.Context, parentHash string) (uint64, error) {
	var parent models.Cast
	if err := db.DB.WithContext(ctx).Unscoped().
		Where("hash = ?", parentHash).First(&parent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("load parent cast: %w", err)
	}
	if parent.RootParentHash != "" && parent.RootParentFid != 0 {
		return parent.RootParentFid, nil
	}
	return parent.Fid, nil
}
