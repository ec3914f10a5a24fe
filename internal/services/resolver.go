package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"castfeed/internal/cache"
	"castfeed/internal/db"
	"castfeed/internal/models"
	"castfeed/internal/utils"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// CastSource 缺失帖子的实时回源
type CastSource interface {
	CastByHash(ctx context.Context, hash string) (*models.Cast, []models.CastMention, error)
}

// ChannelDirectory 频道目录兜底
type ChannelDirectory interface {
	ChannelByID(ctx context.Context, channelID string) (*models.Channel, error)
}

// Resolver 实体解析器：把 hash/fid/url 集合批量水合成完整对象
// 每一层依赖都按批解析，不逐个查询；缓存只存"完整"对象（含派生字段）
type Resolver struct {
	store       cache.Store
	castSource  CastSource       // 可为 nil
	directory   ChannelDirectory // 可为 nil
	attribution *AttributionService
	embeds      *EmbedService
	castTTL     time.Duration
	userTTL     time.Duration
	channelTTL  time.Duration
	viewerTTL   time.Duration
	absentTTL   time.Duration
}

func NewResolver(store cache.Store, castSource CastSource, directory ChannelDirectory, attribution *AttributionService, embeds *EmbedService) *Resolver {
	return &Resolver{
		store:       store,
		castSource:  castSource,
		directory:   directory,
		attribution: attribution,
		embeds:      embeds,
		castTTL:     10 * time.Minute,
		userTTL:     10 * time.Minute,
		channelTTL:  30 * time.Minute,
		viewerTTL:   2 * time.Minute,
		absentTTL:   30 * time.Minute,
	}
}

func castCacheKey(hash string) string    { return "cast:" + hash }
func userCacheKey(fid uint64) string     { return fmt.Sprintf("user:%d", fid) }
func channelCacheKey(url string) string  { return "channel:" + url }
func channelIDCacheKey(id string) string { return "chid:" + id }

func viewerCastKey(v uint64, h string) string {
	return fmt.Sprintf("vc:%d:%s", v, h)
}

func viewerUserKey(v, fid uint64) string {
	return fmt.Sprintf("vu:%d:%d", v, fid)
}

// ---------------------------------------------------------------------------
// 帖子

// GetCasts 批量水合帖子，结果按输入顺序排列，缺失的跳过
// 软删除的帖子按 hash 直接解析仍可返回（用于补全祖先链），feed 查询层负责排除
func (r *Resolver) GetCasts(ctx context.Context, hashes []string, viewerFid uint64) ([]*models.CastView, error) {
	hashes = utils.UniqueStrings(hashes)
	views, err := r.resolveCasts(ctx, hashes, viewerFid != 0)
	if err != nil {
		return nil, err
	}

	if viewerFid != 0 {
		if err := r.attachCastViewerContext(ctx, views, viewerFid); err != nil {
			return nil, err
		}
		if err := r.attachCastUserContext(ctx, views, viewerFid); err != nil {
			return nil, err
		}
	}

	out := make([]*models.CastView, 0, len(hashes))
	for _, h := range hashes {
		if v := views[h]; v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

// GetCast 按 hash 解析单条帖子
func (r *Resolver) GetCast(ctx context.Context, hash string, viewerFid uint64) (*models.CastView, error) {
	views, err := r.GetCasts(ctx, []string{hash}, viewerFid)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, ErrNotFound
	}
	return views[0], nil
}

// resolveCasts 核心水合流程：缓存 → 主存储 → hub 回源，新取的行并发补齐各层关联
func (r *Resolver) resolveCasts(ctx context.Context, hashes []string, allowHubFallback bool) (map[string]*models.CastView, error) {
	views := make(map[string]*models.CastView, len(hashes))
	if len(hashes) == 0 {
		return views, nil
	}

	// 1. 批量查缓存，分出命中/未命中
	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = castCacheKey(h)
	}
	cached := cache.BatchGetJSON[models.CastView](ctx, r.store, keys)
	var misses []string
	for i, h := range hashes {
		if v := cached[keys[i]]; v != nil {
			views[h] = v
		} else {
			misses = append(misses, h)
		}
	}
	if len(misses) == 0 {
		return views, nil
	}

	// 2. 未命中的批量读主存储（Unscoped：软删除的行仍可按 hash 解析）
	var rows []models.Cast
	if err := db.DB.WithContext(ctx).Unscoped().Where("hash IN ?", misses).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load casts: %w", err)
	}
	found := make(map[string]bool, len(rows))
	for _, row := range rows {
		found[row.Hash] = true
	}

	// 主存储也没有的，带 viewer 的请求逐条回源 hub 补录
	var hubMentions []models.CastMention
	if allowHubFallback && r.castSource != nil {
		for _, h := range misses {
			if found[h] {
				continue
			}
			cast, mentions, err := r.castSource.CastByHash(ctx, h)
			if err != nil {
				if !errors.Is(err, ErrNotFound) {
					log.Printf("hub cast fallback failed for %s: %v", h, err)
				}
				continue
			}
			rows = append(rows, *cast)
			hubMentions = append(hubMentions, mentions...)
			found[h] = true
		}
	}
	if len(rows) == 0 {
		return views, nil
	}

	// 3. 收集一跳内的引用帖子（父帖/根帖/内嵌帖），只展开一层
	mainHashes := make([]string, 0, len(rows))
	for _, row := range rows {
		mainHashes = append(mainHashes, row.Hash)
	}
	relations, err := r.loadCastRelations(ctx, mainHashes)
	if err != nil {
		return nil, err
	}
	for _, m := range hubMentions {
		relations.mentions[m.Hash] = append(relations.mentions[m.Hash], m)
	}

	var nestedHashes []string
	for _, row := range rows {
		if row.ParentHash != "" {
			nestedHashes = append(nestedHashes, row.ParentHash)
		}
		if row.RootParentHash != "" && row.RootParentHash != row.Hash {
			nestedHashes = append(nestedHashes, row.RootParentHash)
		}
		nestedHashes = append(nestedHashes, relations.embedCasts[row.Hash]...)
	}
	nestedHashes = utils.UniqueStrings(nestedHashes)

	var nestedRows []models.Cast
	if len(nestedHashes) > 0 {
		if err := db.DB.WithContext(ctx).Unscoped().Where("hash IN ?", nestedHashes).Find(&nestedRows).Error; err != nil {
			return nil, fmt.Errorf("load nested casts: %w", err)
		}
	}
	nestedRelations, err := r.loadCastRelations(ctx, nestedHashes)
	if err != nil {
		return nil, err
	}

	allRows := append(append([]models.Cast{}, rows...), nestedRows...)

	// 4. 并发补齐：账号、频道、互动计数、链接元数据、应用归属
	var fids []uint64
	var channelURLs []string
	var embedURLs []string
	var allHashes []string
	var signerRefs []SignerRef
	for _, row := range allRows {
		allHashes = append(allHashes, row.Hash)
		fids = append(fids, row.Fid)
		if row.Signer != "" {
			signerRefs = append(signerRefs, SignerRef{Fid: row.Fid, Signer: row.Signer})
		}
		if u := castChannelURL(&row); u != "" {
			channelURLs = append(channelURLs, u)
		}
	}
	for _, ms := range relations.mentions {
		for _, m := range ms {
			fids = append(fids, m.Fid)
		}
	}
	for _, ms := range nestedRelations.mentions {
		for _, m := range ms {
			fids = append(fids, m.Fid)
		}
	}
	for _, row := range rows {
		embedURLs = append(embedURLs, relations.embedURLs[row.Hash]...)
	}
	fids = utils.UniqueFids(fids)
	channelURLs = utils.UniqueStrings(channelURLs)
	embedURLs = utils.UniqueStrings(embedURLs)

	var (
		users      map[uint64]*models.UserView
		channels   map[string]*models.ChannelView
		engagement map[string]*models.CastEngagement
		embedMeta  map[string]*models.EmbedMetadata
		appFids    map[string]uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = r.GetUsers(gctx, fids, 0)
		return err
	})
	g.Go(func() error {
		var err error
		channels, err = r.GetChannels(gctx, channelURLs)
		return err
	})
	g.Go(func() error {
		var err error
		engagement, err = r.loadEngagement(gctx, allHashes)
		return err
	})
	g.Go(func() error {
		if r.embeds != nil {
			embedMeta = r.embeds.Resolve(gctx, embedURLs)
		}
		return nil
	})
	g.Go(func() error {
		if r.attribution != nil {
			appFids = r.attribution.ResolveAppFids(gctx, signerRefs)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 5. 先组装引用帖子（浅层，不再展开），再组装请求的批次并写缓存
	nestedViews := make(map[string]*models.CastView, len(nestedRows))
	for i := range nestedRows {
		row := &nestedRows[i]
		nestedViews[row.Hash] = r.assembleCast(row, nestedRelations, users, channels, engagement, nil, appFids, nil)
	}

	toCache := make(map[string]*models.CastView, len(rows))
	for i := range rows {
		row := &rows[i]
		view := r.assembleCast(row, relations, users, channels, engagement, embedMeta, appFids, nestedViews)
		views[row.Hash] = view
		toCache[castCacheKey(row.Hash)] = view
	}
	// 完整对象才入缓存；浅层的引用帖子不缓存，避免半成品被后续读取
	cache.BatchSetJSON(ctx, r.store, toCache, r.castTTL)

	return views, nil
}

// castRelations 帖子的附属行，按 hash 索引
type castRelations struct {
	mentions   map[string][]models.CastMention
	embedURLs  map[string][]string
	embedCasts map[string][]string
}

func (r *Resolver) loadCastRelations(ctx context.Context, hashes []string) (*castRelations, error) {
	rel := &castRelations{
		mentions:   make(map[string][]models.CastMention),
		embedURLs:  make(map[string][]string),
		embedCasts: make(map[string][]string),
	}
	if len(hashes) == 0 {
		return rel, nil
	}

	var mentions []models.CastMention
	if err := db.DB.WithContext(ctx).Where("hash IN ?", hashes).Order("position ASC").Find(&mentions).Error; err != nil {
		return nil, fmt.Errorf("load mentions: %w", err)
	}
	for _, m := range mentions {
		rel.mentions[m.Hash] = append(rel.mentions[m.Hash], m)
	}

	var urls []models.CastEmbedURL
	if err := db.DB.WithContext(ctx).Where("hash IN ?", hashes).Find(&urls).Error; err != nil {
		return nil, fmt.Errorf("load embed urls: %w", err)
	}
	for _, u := range urls {
		rel.embedURLs[u.Hash] = append(rel.embedURLs[u.Hash], u.URL)
	}

	var casts []models.CastEmbedCast
	if err := db.DB.WithContext(ctx).Where("hash IN ?", hashes).Find(&casts).Error; err != nil {
		return nil, fmt.Errorf("load embed casts: %w", err)
	}
	for _, c := range casts {
		rel.embedCasts[c.Hash] = append(rel.embedCasts[c.Hash], c.EmbeddedHash)
	}
	return rel, nil
}

// castChannelURL 帖子所属频道：优先 parent_url，回复则落在 root_parent_url
func castChannelURL(row *models.Cast) string {
	if row.ParentURL != "" {
		return row.ParentURL
	}
	return row.RootParentURL
}

// assembleCast 把行和各层关联拼成完整对象
// nestedViews 为 nil 时表示浅层组装（引用帖子不再展开）
func (r *Resolver) assembleCast(row *models.Cast, rel *castRelations,
	users map[uint64]*models.UserView, channels map[string]*models.ChannelView,
	engagement map[string]*models.CastEngagement, embedMeta map[string]*models.EmbedMetadata,
	appFids map[string]uint64, nestedViews map[string]*models.CastView) *models.CastView {

	view := &models.CastView{
		Hash:           row.Hash,
		Author:         users[row.Fid],
		Text:           row.Text,
		Timestamp:      row.Timestamp,
		ParentHash:     row.ParentHash,
		ParentFid:      row.ParentFid,
		ParentURL:      row.ParentURL,
		RootParentHash: row.RootParentHash,
		RootParentFid:  row.RootParentFid,
		RootParentURL:  row.RootParentURL,
		Deleted:        row.DeletedAt.Valid,
	}

	if u := castChannelURL(row); u != "" {
		view.Channel = channels[u]
	}
	if eng := engagement[row.Hash]; eng != nil {
		view.Engagement = *eng
	}
	if appFid, ok := appFids[row.Signer]; ok {
		view.AppFid = &appFid
	}

	for _, m := range rel.mentions[row.Hash] {
		view.Mentions = append(view.Mentions, models.MentionView{
			User:     users[m.Fid],
			Position: m.Position,
		})
	}

	if nestedViews != nil {
		if row.ParentHash != "" {
			view.ParentCast = nestedViews[row.ParentHash]
		}
		if row.RootParentHash != "" && row.RootParentHash != row.Hash {
			view.RootCast = nestedViews[row.RootParentHash]
		}
		for _, h := range rel.embedCasts[row.Hash] {
			if nv := nestedViews[h]; nv != nil {
				view.EmbedCasts = append(view.EmbedCasts, nv)
			}
		}
		for _, u := range rel.embedURLs[row.Hash] {
			if meta := embedMeta[u]; meta != nil {
				view.EmbedURLs = append(view.EmbedURLs, *meta)
			} else {
				view.EmbedURLs = append(view.EmbedURLs, models.EmbedMetadata{URL: u})
			}
		}
	}
	return view
}

// loadEngagement 批量读互动计数（点赞/转发/回复/引用）
func (r *Resolver) loadEngagement(ctx context.Context, hashes []string) (map[string]*models.CastEngagement, error) {
	out := make(map[string]*models.CastEngagement, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	for _, h := range hashes {
		out[h] = &models.CastEngagement{}
	}

	type reactionCount struct {
		TargetHash string
		Type       int
		Count      int64
	}
	var reactions []reactionCount
	if err := db.DB.WithContext(ctx).Model(&models.Reaction{}).
		Select("target_hash, type, COUNT(*) as count").
		Where("target_hash IN ?", hashes).
		Group("target_hash").Group("type").
		Scan(&reactions).Error; err != nil {
		return nil, fmt.Errorf("count reactions: %w", err)
	}
	for _, rc := range reactions {
		switch rc.Type {
		case models.ReactionLike:
			out[rc.TargetHash].Likes = rc.Count
		case models.ReactionRecast:
			out[rc.TargetHash].Recasts = rc.Count
		}
	}

	type hashCount struct {
		Hash  string
		Count int64
	}
	var replies []hashCount
	if err := db.DB.WithContext(ctx).Model(&models.Cast{}).
		Select("parent_hash as hash, COUNT(*) as count").
		Where("parent_hash IN ?", hashes).
		Group("parent_hash").
		Scan(&replies).Error; err != nil {
		return nil, fmt.Errorf("count replies: %w", err)
	}
	for _, rc := range replies {
		out[rc.Hash].Replies = rc.Count
	}

	var quotes []hashCount
	if err := db.DB.WithContext(ctx).Model(&models.CastEmbedCast{}).
		Select("embedded_hash as hash, COUNT(*) as count").
		Where("embedded_hash IN ?", hashes).
		Group("embedded_hash").
		Scan(&quotes).Error; err != nil {
		return nil, fmt.Errorf("count quotes: %w", err)
	}
	for _, qc := range quotes {
		out[qc.Hash].Quotes = qc.Count
	}
	return out, nil
}

// attachCastViewerContext 补齐每 (viewer, cast) 的点赞/转发标记，同样走缓存-落库
func (r *Resolver) attachCastViewerContext(ctx context.Context, views map[string]*models.CastView, viewerFid uint64) error {
	if len(views) == 0 {
		return nil
	}

	// 收集全部相关帖子：请求批次 + 展开的引用
	// 缓存命中的帖子各自持有独立的嵌套副本，同一 hash 的上下文要写到每一份
	targets := make(map[string][]*models.CastView)
	for _, v := range views {
		targets[v.Hash] = append(targets[v.Hash], v)
		if v.ParentCast != nil {
			targets[v.ParentCast.Hash] = append(targets[v.ParentCast.Hash], v.ParentCast)
		}
		if v.RootCast != nil {
			targets[v.RootCast.Hash] = append(targets[v.RootCast.Hash], v.RootCast)
		}
		for _, ec := range v.EmbedCasts {
			targets[ec.Hash] = append(targets[ec.Hash], ec)
		}
	}

	hashes := make([]string, 0, len(targets))
	keys := make([]string, 0, len(targets))
	for h := range targets {
		hashes = append(hashes, h)
		keys = append(keys, viewerCastKey(viewerFid, h))
	}

	cached := cache.BatchGetJSON[models.CastViewerContext](ctx, r.store, keys)
	var misses []string
	for _, h := range hashes {
		if vc := cached[viewerCastKey(viewerFid, h)]; vc != nil {
			for _, t := range targets[h] {
				t.ViewerContext = vc
			}
		} else {
			misses = append(misses, h)
		}
	}
	if len(misses) == 0 {
		return nil
	}

	var reactions []models.Reaction
	if err := db.DB.WithContext(ctx).
		Where("fid = ? AND target_hash IN ?", viewerFid, misses).
		Find(&reactions).Error; err != nil {
		return fmt.Errorf("load viewer reactions: %w", err)
	}

	computed := make(map[string]*models.CastViewerContext, len(misses))
	for _, h := range misses {
		computed[h] = &models.CastViewerContext{}
	}
	for _, re := range reactions {
		switch re.Type {
		case models.ReactionLike:
			computed[re.TargetHash].Liked = true
		case models.ReactionRecast:
			computed[re.TargetHash].Recasted = true
		}
	}

	toCache := make(map[string]*models.CastViewerContext, len(computed))
	for h, vc := range computed {
		for _, t := range targets[h] {
			t.ViewerContext = vc
		}
		toCache[viewerCastKey(viewerFid, h)] = vc
	}
	cache.BatchSetJSON(ctx, r.store, toCache, r.viewerTTL)
	return nil
}

// attachCastUserContext 给帖子里出现的账号（作者/提及/引用帖作者）补齐关注关系
// 缓存命中的帖子各自持有独立的账号对象，同一 fid 的上下文要复制到每一份
func (r *Resolver) attachCastUserContext(ctx context.Context, views map[string]*models.CastView, viewerFid uint64) error {
	byFid := make(map[uint64][]*models.UserView)
	collect := func(u *models.UserView) {
		if u != nil {
			byFid[u.Fid] = append(byFid[u.Fid], u)
		}
	}
	for _, v := range views {
		collect(v.Author)
		for i := range v.Mentions {
			collect(v.Mentions[i].User)
		}
		if v.ParentCast != nil {
			collect(v.ParentCast.Author)
		}
		if v.RootCast != nil {
			collect(v.RootCast.Author)
		}
		for _, ec := range v.EmbedCasts {
			collect(ec.Author)
		}
	}
	if len(byFid) == 0 {
		return nil
	}

	reps := make(map[uint64]*models.UserView, len(byFid))
	for fid, list := range byFid {
		reps[fid] = list[0]
	}
	if err := r.attachUserViewerContext(ctx, reps, viewerFid); err != nil {
		return err
	}
	for fid, list := range byFid {
		for _, u := range list[1:] {
			u.ViewerContext = reps[fid].ViewerContext
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// 账号

// GetUsers 批量水合账号，返回 fid -> UserView，确认不存在的带负缓存
func (r *Resolver) GetUsers(ctx context.Context, fids []uint64, viewerFid uint64) (map[uint64]*models.UserView, error) {
	fids = utils.UniqueFids(fids)
	out := make(map[uint64]*models.UserView, len(fids))
	if len(fids) == 0 {
		return out, nil
	}

	keys := make([]string, len(fids))
	for i, fid := range fids {
		keys[i] = userCacheKey(fid)
	}
	cached := cache.BatchGetJSON[models.UserView](ctx, r.store, keys)
	var misses []uint64
	var missKeys []string
	for i, fid := range fids {
		if v := cached[keys[i]]; v != nil {
			out[fid] = v
		} else {
			misses = append(misses, fid)
			missKeys = append(missKeys, keys[i])
		}
	}

	if len(misses) > 0 {
		// 负缓存命中的直接跳过，不再打主存储
		absent := cache.IsMarkedAbsent(ctx, r.store, missKeys)
		var toFetch []uint64
		for _, fid := range misses {
			if !absent[userCacheKey(fid)] {
				toFetch = append(toFetch, fid)
			}
		}

		if len(toFetch) > 0 {
			built, err := r.loadUsers(ctx, toFetch)
			if err != nil {
				return nil, err
			}
			toCache := make(map[string]*models.UserView, len(built))
			var notFound []string
			for _, fid := range toFetch {
				if v := built[fid]; v != nil {
					out[fid] = v
					toCache[userCacheKey(fid)] = v
				} else {
					notFound = append(notFound, userCacheKey(fid))
				}
			}
			cache.BatchSetJSON(ctx, r.store, toCache, r.userTTL)
			cache.MarkAbsent(ctx, r.store, notFound, r.absentTTL)
		}
	}

	if viewerFid != 0 {
		if err := r.attachUserViewerContext(ctx, out, viewerFid); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// loadUsers 从主存储批量拼装账号对象（资料 + 验证地址 + 关注计数 + 徽章）
func (r *Resolver) loadUsers(ctx context.Context, fids []uint64) (map[uint64]*models.UserView, error) {
	var users []models.User
	if err := db.DB.WithContext(ctx).Where("fid IN ?", fids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	if len(users) == 0 {
		return map[uint64]*models.UserView{}, nil
	}

	present := make([]uint64, 0, len(users))
	for _, u := range users {
		present = append(present, u.Fid)
	}

	var (
		verifications   []models.Verification
		followerCounts  map[uint64]int64
		followingCounts map[uint64]int64
		badges          map[uint64]bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return db.DB.WithContext(gctx).Where("fid IN ?", present).Find(&verifications).Error
	})
	g.Go(func() error {
		var err error
		followerCounts, err = r.countLinks(gctx, present, "target_fid")
		return err
	})
	g.Go(func() error {
		var err error
		followingCounts, err = r.countLinks(gctx, present, "fid")
		return err
	})
	g.Go(func() error {
		all, err := r.PowerBadgeFids(gctx)
		if err != nil {
			return err
		}
		badges = make(map[uint64]bool, len(all))
		for _, fid := range all {
			badges[fid] = true
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	verByFid := make(map[uint64][]models.Verification)
	for _, v := range verifications {
		verByFid[v.Fid] = append(verByFid[v.Fid], v)
	}

	out := make(map[uint64]*models.UserView, len(users))
	for _, u := range users {
		out[u.Fid] = &models.UserView{
			Fid:           u.Fid,
			Fname:         u.Fname,
			DisplayName:   u.DisplayName,
			PfpURL:        u.PfpURL,
			Bio:           u.Bio,
			URL:           u.URL,
			Verifications: verByFid[u.Fid],
			Engagement: models.UserEngagement{
				Followers: followerCounts[u.Fid],
				Following: followingCounts[u.Fid],
			},
			PowerBadge: badges[u.Fid],
		}
	}
	return out, nil
}

// countLinks 按指定列分组统计关注边
func (r *Resolver) countLinks(ctx context.Context, fids []uint64, column string) (map[uint64]int64, error) {
	type linkCount struct {
		Fid   uint64
		Count int64
	}
	var counts []linkCount
	q := db.DB.WithContext(ctx).Model(&models.Link{})
	if column == "target_fid" {
		q = q.Select("target_fid as fid, COUNT(*) as count").Where("target_fid IN ?", fids).Group("target_fid")
	} else {
		q = q.Select("fid, COUNT(*) as count").Where("fid IN ?", fids).Group("fid")
	}
	if err := q.Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count links: %w", err)
	}
	out := make(map[uint64]int64, len(counts))
	for _, c := range counts {
		out[c.Fid] = c.Count
	}
	return out, nil
}

// attachUserViewerContext 补齐每 (viewer, user) 的关注关系
func (r *Resolver) attachUserViewerContext(ctx context.Context, views map[uint64]*models.UserView, viewerFid uint64) error {
	if len(views) == 0 {
		return nil
	}

	fids := make([]uint64, 0, len(views))
	keys := make([]string, 0, len(views))
	for fid := range views {
		fids = append(fids, fid)
		keys = append(keys, viewerUserKey(viewerFid, fid))
	}

	cached := cache.BatchGetJSON[models.UserViewerContext](ctx, r.store, keys)
	var misses []uint64
	for _, fid := range fids {
		if vc := cached[viewerUserKey(viewerFid, fid)]; vc != nil {
			views[fid].ViewerContext = vc
		} else {
			misses = append(misses, fid)
		}
	}
	if len(misses) == 0 {
		return nil
	}

	var links []models.Link
	if err := db.DB.WithContext(ctx).
		Where("(fid = ? AND target_fid IN ?) OR (target_fid = ? AND fid IN ?)", viewerFid, misses, viewerFid, misses).
		Find(&links).Error; err != nil {
		return fmt.Errorf("load viewer links: %w", err)
	}

	computed := make(map[uint64]*models.UserViewerContext, len(misses))
	for _, fid := range misses {
		computed[fid] = &models.UserViewerContext{}
	}
	for _, l := range links {
		if l.Fid == viewerFid {
			if vc := computed[l.TargetFid]; vc != nil {
				vc.Following = true
			}
		} else if l.TargetFid == viewerFid {
			if vc := computed[l.Fid]; vc != nil {
				vc.FollowedBy = true
			}
		}
	}

	toCache := make(map[string]*models.UserViewerContext, len(computed))
	for fid, vc := range computed {
		views[fid].ViewerContext = vc
		toCache[viewerUserKey(viewerFid, fid)] = vc
	}
	cache.BatchSetJSON(ctx, r.store, toCache, r.viewerTTL)
	return nil
}

// GetUserByName 按用户名解析账号
func (r *Resolver) GetUserByName(ctx context.Context, fname string, viewerFid uint64) (*models.UserView, error) {
	var user models.User
	if err := db.DB.WithContext(ctx).Where("fname = ?", fname).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load user by name: %w", err)
	}
	views, err := r.GetUsers(ctx, []uint64{user.Fid}, viewerFid)
	if err != nil {
		return nil, err
	}
	if v := views[user.Fid]; v != nil {
		return v, nil
	}
	return nil, ErrNotFound
}

// GetUsersByAddresses 按验证地址解析账号
func (r *Resolver) GetUsersByAddresses(ctx context.Context, addresses []string, viewerFid uint64) (map[uint64]*models.UserView, error) {
	addresses = utils.UniqueStrings(addresses)
	if len(addresses) == 0 {
		return map[uint64]*models.UserView{}, nil
	}
	var fids []uint64
	if err := db.DB.WithContext(ctx).Model(&models.Verification{}).
		Where("address IN ?", addresses).
		Distinct("fid").Pluck("fid", &fids).Error; err != nil {
		return nil, fmt.Errorf("load verifications by address: %w", err)
	}
	return r.GetUsers(ctx, fids, viewerFid)
}

// PowerBadgeFids 全局徽章持有者集合，整集缓存
func (r *Resolver) PowerBadgeFids(ctx context.Context) ([]uint64, error) {
	const key = "badges:all"
	if v := cache.GetJSON[[]uint64](ctx, r.store, key); v != nil {
		return *v, nil
	}
	var fids []uint64
	if err := db.DB.WithContext(ctx).Model(&models.PowerBadge{}).Pluck("fid", &fids).Error; err != nil {
		return nil, fmt.Errorf("load power badges: %w", err)
	}
	cache.SetJSON(ctx, r.store, key, &fids, 5*time.Minute)
	return fids, nil
}

// ---------------------------------------------------------------------------
// 频道

// GetChannels 批量水合频道，返回 url -> ChannelView
// 主存储确认不存在的 url 标记负缓存，重复查询直接短路
func (r *Resolver) GetChannels(ctx context.Context, urls []string) (map[string]*models.ChannelView, error) {
	urls = utils.UniqueStrings(urls)
	out := make(map[string]*models.ChannelView, len(urls))
	if len(urls) == 0 {
		return out, nil
	}

	keys := make([]string, len(urls))
	for i, u := range urls {
		keys[i] = channelCacheKey(u)
	}
	cached := cache.BatchGetJSON[models.ChannelView](ctx, r.store, keys)
	var misses []string
	var missKeys []string
	for i, u := range urls {
		if v := cached[keys[i]]; v != nil {
			out[u] = v
		} else {
			misses = append(misses, u)
			missKeys = append(missKeys, keys[i])
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	absent := cache.IsMarkedAbsent(ctx, r.store, missKeys)
	var toFetch []string
	for _, u := range misses {
		if !absent[channelCacheKey(u)] {
			toFetch = append(toFetch, u)
		}
	}
	if len(toFetch) == 0 {
		return out, nil
	}

	var rows []models.Channel
	if err := db.DB.WithContext(ctx).Where("url IN ?", toFetch).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}

	built, err := r.assembleChannels(ctx, rows)
	if err != nil {
		return nil, err
	}
	toCache := make(map[string]*models.ChannelView, len(built))
	var notFound []string
	for _, u := range toFetch {
		if v := built[u]; v != nil {
			out[u] = v
			toCache[channelCacheKey(u)] = v
		} else {
			notFound = append(notFound, channelCacheKey(u))
		}
	}
	cache.BatchSetJSON(ctx, r.store, toCache, r.channelTTL)
	cache.MarkAbsent(ctx, r.store, notFound, r.absentTTL)
	return out, nil
}

// assembleChannels 拼装频道对象并水合主持人
func (r *Resolver) assembleChannels(ctx context.Context, rows []models.Channel) (map[string]*models.ChannelView, error) {
	out := make(map[string]*models.ChannelView, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	var leadFids []uint64
	for _, row := range rows {
		leadFids = append(leadFids, utils.SplitFids(row.LeadFids)...)
	}
	leads, err := r.GetUsers(ctx, leadFids, 0)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		view := &models.ChannelView{
			URL:           row.URL,
			ChannelID:     row.ChannelID,
			Name:          row.Name,
			Description:   row.Description,
			ImageURL:      row.ImageURL,
			FollowerCount: row.FollowerCount,
		}
		for _, fid := range utils.SplitFids(row.LeadFids) {
			if u := leads[fid]; u != nil {
				view.Leads = append(view.Leads, u)
			}
		}
		out[row.URL] = view
	}
	return out, nil
}

// ChannelURLsByIDs 把频道短 id 翻译成 url，查询前的过滤条件会用到
// 主存储没有时走目录兜底，兜底也没有则负缓存
func (r *Resolver) ChannelURLsByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	ids = utils.UniqueStrings(ids)
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = channelIDCacheKey(id)
	}
	cached := cache.BatchGetJSON[string](ctx, r.store, keys)
	var misses []string
	for i, id := range ids {
		if v := cached[keys[i]]; v != nil {
			out[id] = *v
		} else {
			misses = append(misses, id)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	absent := cache.IsMarkedAbsent(ctx, r.store, keysFor(misses, channelIDCacheKey))
	var toFetch []string
	for _, id := range misses {
		if !absent[channelIDCacheKey(id)] {
			toFetch = append(toFetch, id)
		}
	}
	if len(toFetch) == 0 {
		return out, nil
	}

	var rows []models.Channel
	if err := db.DB.WithContext(ctx).Where("channel_id IN ?", toFetch).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load channels by id: %w", err)
	}
	found := make(map[string]string, len(rows))
	for _, row := range rows {
		found[row.ChannelID] = row.URL
	}

	toCache := make(map[string]*string, len(found))
	var notFound []string
	for _, id := range toFetch {
		url, ok := found[id]
		if !ok && r.directory != nil {
			// 目录兜底
			ch, err := r.directory.ChannelByID(ctx, id)
			if err == nil && ch != nil {
				url, ok = ch.URL, true
				views, aerr := r.assembleChannels(ctx, []models.Channel{*ch})
				if aerr == nil {
					cache.BatchSetJSON(ctx, r.store, map[string]*models.ChannelView{
						channelCacheKey(ch.URL): views[ch.URL],
					}, r.channelTTL)
				}
			} else if err != nil && !errors.Is(err, ErrNotFound) {
				log.Printf("channel directory lookup failed for %s: %v", id, err)
			}
		}
		if ok {
			u := url
			out[id] = u
			toCache[channelIDCacheKey(id)] = &u
		} else {
			notFound = append(notFound, channelIDCacheKey(id))
		}
	}
	cache.BatchSetJSON(ctx, r.store, toCache, r.channelTTL)
	cache.MarkAbsent(ctx, r.store, notFound, r.absentTTL)
	return out, nil
}

func keysFor(vals []string, fn func(string) string) []string {
	keys := make([]string, len(vals))
	for i, v := range vals {
		keys[i] = fn(v)
	}
	return keys
}

// SearchChannels 按名称或短 id 模糊搜索频道
func (r *Resolver) SearchChannels(ctx context.Context, query string, limit int) ([]*models.ChannelView, error) {
	q := db.DB.WithContext(ctx).Model(&models.Channel{}).Order("follower_count DESC").Limit(limit)
	if query != "" {
		pattern := phrasePattern(query)
		q = q.Where(`LOWER(name) LIKE ? ESCAPE '\' OR LOWER(channel_id) LIKE ? ESCAPE '\'`, pattern, pattern)
	}
	var rows []models.Channel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("search channels: %w", err)
	}
	views, err := r.assembleChannels(ctx, rows)
	if err != nil {
		return nil, err
	}
	out := make([]*models.ChannelView, 0, len(rows))
	for _, row := range rows {
		if v := views[row.URL]; v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}
