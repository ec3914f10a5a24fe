package services

import (
	"context"
	"testing"

	"castfeed/internal/db"
	"castfeed/internal/models"
)

func newTestResolver(t *testing.T) *Resolver {
	return NewResolver(newTestStore(t), nil, nil, nil, nil)
}

// countingDirectory 记录目录兜底被调用的次数
type countingDirectory struct {
	calls    int
	channels map[string]*models.Channel
}

func (d *countingDirectory) ChannelByID(_ context.Context, id string) (*models.Channel, error) {
	d.calls++
	if ch, ok := d.channels[id]; ok {
		return ch, nil
	}
	return nil, ErrNotFound
}

func TestGetCastsHydration(t *testing.T) {
	setupTestDB(t)
	r := newTestResolver(t)

	const chURL = "https://example.com/ch/dev"
	mustCreate(t, &models.User{Fid: 1, Fname: "alice", DisplayName: "Alice"})
	mustCreate(t, &models.User{Fid: 2, Fname: "bob"})
	mustCreate(t, &models.Channel{URL: chURL, ChannelID: "dev", Name: "Dev", LeadFids: "1"})
	mustCreate(t, &models.Cast{Hash: "0xa", Fid: 1, Text: "hey @bob", Timestamp: at(10), ParentURL: chURL})
	mustCreate(t, &models.CastMention{Hash: "0xa", Fid: 2, Position: 4})

	// 互动：两个赞、一个转发、一条回复
	mustCreate(t, &models.Reaction{Type: models.ReactionLike, Fid: 5, TargetHash: "0xa", Timestamp: at(11)})
	mustCreate(t, &models.Reaction{Type: models.ReactionLike, Fid: 6, TargetHash: "0xa", Timestamp: at(12)})
	mustCreate(t, &models.Reaction{Type: models.ReactionRecast, Fid: 5, TargetHash: "0xa", Timestamp: at(13)})
	mustCreate(t, &models.Cast{Hash: "0xreply", Fid: 2, Timestamp: at(20), ParentHash: "0xa", ParentFid: 1})

	views, err := r.GetCasts(context.Background(), []string{"0xa"}, 0)
	if err != nil {
		t.Fatalf("GetCasts: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("got %d views, want 1", len(views))
	}
	v := views[0]
	if v.Author == nil || v.Author.Fname != "alice" {
		t.Errorf("author not hydrated: %+v", v.Author)
	}
	if v.Channel == nil || v.Channel.ChannelID != "dev" {
		t.Errorf("channel not hydrated: %+v", v.Channel)
	}
	if v.Channel != nil && (len(v.Channel.Leads) != 1 || v.Channel.Leads[0].Fid != 1) {
		t.Errorf("channel leads not hydrated: %+v", v.Channel.Leads)
	}
	if v.Engagement.Likes != 2 || v.Engagement.Recasts != 1 || v.Engagement.Replies != 1 {
		t.Errorf("unexpected engagement: %+v", v.Engagement)
	}
	if len(v.Mentions) != 1 || v.Mentions[0].User == nil || v.Mentions[0].User.Fname != "bob" || v.Mentions[0].Position != 4 {
		t.Errorf("mentions not hydrated: %+v", v.Mentions)
	}
}

func TestGetCastsOrderAndDedup(t *testing.T) {
	setupTestDB(t)
	r := newTestResolver(t)

	mustCreate(t, &models.Cast{Hash: "0xa", Fid: 1, Timestamp: at(10)})
	mustCreate(t, &models.Cast{Hash: "0xb", Fid: 1, Timestamp: at(20)})

	views, err := r.GetCasts(context.Background(), []string{"0xb", "0xmissing", "0xa", "0xb"}, 0)
	if err != nil {
		t.Fatalf("GetCasts: %v", err)
	}
	// 按输入顺序、去重、缺失跳过
	if len(views) != 2 || views[0].Hash != "0xb" || views[1].Hash != "0xa" {
		t.Fatalf("unexpected result order: %+v", views)
	}
}

func TestGetCastNotFound(t *testing.T) {
	setupTestDB(t)
	r := newTestResolver(t)

	if _, err := r.GetCast(context.Background(), "0xnope", 0); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetCastsServedFromCacheAfterRowRemoval(t *testing.T) {
	setupTestDB(t)
	r := newTestResolver(t)

	mustCreate(t, &models.Cast{Hash: "0xa", Fid: 1, Text: "hi", Timestamp: at(10)})

	if _, err := r.GetCast(context.Background(), "0xa", 0); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	// 物理删除行，缓存命中仍可解析
	if err := db.DB.Unscoped().Delete(&models.Cast{Hash: "0xa"}).Error; err != nil {
		t.Fatalf("delete: %v", err)
	}
	v, err := r.GetCast(context.Background(), "0xa", 0)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if v.Text != "hi" {
		t.Errorf("unexpected cached view: %+v", v)
	}
}

func TestGetCastSoftDeletedStillResolvable(t *testing.T) {
	setupTestDB(t)
	r := newTestResolver(t)

	mustCreate(t, &models.Cast{Hash: "0xa", Fid: 1, Timestamp: at(10)})
	if err := db.DB.Delete(&models.Cast{Hash: "0xa"}).Error; err != nil {
		t.Fatalf("delete: %v", err)
	}

	// 祖先链补全要求按 hash 直接解析不受软删除影响
	v, err := r.GetCast(context.Background(), "0xa", 0)
	if err != nil {
		t.Fatalf("GetCast: %v", err)
	}
	if !v.Deleted {
		t.Error("expected deleted flag on soft-deleted cast")
	}
}

func TestGetCastsNestedOneLevel(t *testing.T) {
	setupTestDB(t)
	r := newTestResolver(t)

	mustCreate(t, &models.User{Fid: 1, Fname: "alice"})
	mustCreate(t, &models.Cast{Hash: "0xroot", Fid: 1, Text: "thread start", Timestamp: at(0)})
	mustCreate(t, &models.Cast{Hash: "0xmid", Fid: 2, Timestamp: at(10), ParentHash: "0xroot", ParentFid: 1, RootParentHash: "0xroot", RootParentFid: 1})
	mustCreate(t, &models.Cast{Hash: "0xleaf", Fid: 3, Timestamp: at(20), ParentHash: "0xmid", ParentFid: 2, RootParentHash: "0xroot", RootParentFid: 1})
	mustCreate(t, &models.Cast{Hash: "0xquoted", Fid: 4, Timestamp: at(5)})
	mustCreate(t, &models.CastEmbedCast{Hash: "0xleaf", EmbeddedHash: "0xquoted"})

	v, err := r.GetCast(context.Background(), "0xleaf", 0)
	if err != nil {
		t.Fatalf("GetCast: %v", err)
	}
	if v.ParentCast == nil || v.ParentCast.Hash != "0xmid" {
		t.Fatalf("parent not embedded: %+v", v.ParentCast)
	}
	if v.RootCast == nil || v.RootCast.Hash != "0xroot" {
		t.Fatalf("root not embedded: %+v", v.RootCast)
	}
	if v.RootCast.Text != "thread start" {
		t.Errorf("root text = %q, want %q", v.RootCast.Text, "thread start")
	}
	if v.RootCast.Author == nil || v.RootCast.Author.Fname != "alice" {
		t.Errorf("root author not hydrated: %+v", v.RootCast.Author)
	}
	// 只展开一层：嵌套对象不再继续展开
	if v.ParentCast.ParentCast != nil || v.ParentCast.RootCast != nil {
		t.Error("nested cast should not expand its own references")
	}
	if len(v.EmbedCasts) != 1 || v.EmbedCasts[0].Hash != "0xquoted" {
		t.Errorf("embedded cast not hydrated: %+v", v.EmbedCasts)
	}

	// 一级回复的根帖即父帖，两个字段指向同一条
	mid, err := r.GetCast(context.Background(), "0xmid", 0)
	if err != nil {
		t.Fatalf("GetCast: %v", err)
	}
	if mid.RootCast == nil || mid.RootCast.Hash != "0xroot" {
		t.Fatalf("depth-1 reply missing root: %+v", mid.RootCast)
	}
}

func TestGetCastsRootViewerContext(t *testing.T) {
	setupTestDB(t)
	r := newTestResolver(t)

	mustCreate(t, &models.User{Fid: 1, Fname: "alice"})
	mustCreate(t, &models.Cast{Hash: "0xroot", Fid: 1, Timestamp: at(0)})
	mustCreate(t, &models.Cast{Hash: "0xmid", Fid: 2, Timestamp: at(10), ParentHash: "0xroot", ParentFid: 1, RootParentHash: "0xroot", RootParentFid: 1})
	mustCreate(t, &models.Cast{Hash: "0xleaf", Fid: 3, Timestamp: at(20), ParentHash: "0xmid", ParentFid: 2, RootParentHash: "0xroot", RootParentFid: 1})
	mustCreate(t, &models.Reaction{Type: models.ReactionLike, Fid: 9, TargetHash: "0xroot", Timestamp: at(1)})
	mustCreate(t, &models.Link{Fid: 9, TargetFid: 1, Timestamp: at(0)})

	// 两条回复各自持有根帖副本，viewer 上下文要落到每一份上
	for _, pass := range []string{"miss", "hit"} {
		views, err := r.GetCasts(context.Background(), []string{"0xmid", "0xleaf"}, 9)
		if err != nil {
			t.Fatalf("GetCasts (%s): %v", pass, err)
		}
		for _, v := range views {
			if v.RootCast == nil {
				t.Fatalf("%s: root missing on %s", pass, v.Hash)
			}
			if vc := v.RootCast.ViewerContext; vc == nil || !vc.Liked {
				t.Errorf("%s: root viewer context missing on %s: %+v", pass, v.Hash, vc)
			}
			if a := v.RootCast.Author; a == nil || a.ViewerContext == nil || !a.ViewerContext.Following {
				t.Errorf("%s: root author context missing on %s: %+v", pass, v.Hash, a)
			}
		}
	}
}

func TestGetCastsViewerContext(t *testing.T) {
	setupTestDB(t)
	r := newTestResolver(t)

	mustCreate(t, &models.User{Fid: 1, Fname: "alice"})
	mustCreate(t, &models.Cast{Hash: "0xa", Fid: 1, Timestamp: at(10)})
	mustCreate(t, &models.Cast{Hash: "0xb", Fid: 1, Timestamp: at(20)})
	mustCreate(t, &models.Reaction{Type: models.ReactionLike, Fid: 9, TargetHash: "0xa", Timestamp: at(11)})
	mustCreate(t, &models.Reaction{Type: models.ReactionRecast, Fid: 9, TargetHash: "0xb", Timestamp: at(21)})
	mustCreate(t, &models.Link{Fid: 9, TargetFid: 1, Timestamp: at(0)})

	views, err := r.GetCasts(context.Background(), []string{"0xa", "0xb"}, 9)
	if err != nil {
		t.Fatalf("GetCasts: %v", err)
	}
	if vc := views[0].ViewerContext; vc == nil || !vc.Liked || vc.Recasted {
		t.Errorf("unexpected viewer context for 0xa: %+v", vc)
	}
	if vc := views[1].ViewerContext; vc == nil || vc.Liked || !vc.Recasted {
		t.Errorf("unexpected viewer context for 0xb: %+v", vc)
	}
	// 每一份作者对象都带关注关系，包括缓存命中时解码出的独立副本
	for _, v := range views {
		if v.Author == nil || v.Author.ViewerContext == nil || !v.Author.ViewerContext.Following {
			t.Errorf("author viewer context missing on %s: %+v", v.Hash, v.Author)
		}
	}
}

func TestGetUsersNegativeCache(t *testing.T) {
	setupTestDB(t)
	r := newTestResolver(t)

	views, err := r.GetUsers(context.Background(), []uint64{42}, 0)
	if err != nil {
		t.Fatalf("GetUsers: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected no views, got %+v", views)
	}

	// 负缓存生效期间，新写入的行不可见
	mustCreate(t, &models.User{Fid: 42, Fname: "late"})
	views, err = r.GetUsers(context.Background(), []uint64{42}, 0)
	if err != nil {
		t.Fatalf("GetUsers: %v", err)
	}
	if len(views) != 0 {
		t.Errorf("expected negative cache hit, got %+v", views)
	}
}

func TestGetUsersEngagementAndBadge(t *testing.T) {
	setupTestDB(t)
	r := newTestResolver(t)

	mustCreate(t, &models.User{Fid: 1, Fname: "alice"})
	mustCreate(t, &models.User{Fid: 2, Fname: "bob"})
	mustCreate(t, &models.Link{Fid: 2, TargetFid: 1, Timestamp: at(0)})
	mustCreate(t, &models.Link{Fid: 1, TargetFid: 2, Timestamp: at(0)})
	mustCreate(t, &models.Link{Fid: 3, TargetFid: 1, Timestamp: at(0)})
	mustCreate(t, &models.PowerBadge{Fid: 1})
	mustCreate(t, &models.Verification{Fid: 1, Address: "0xabc", Protocol: 0})

	views, err := r.GetUsers(context.Background(), []uint64{1}, 2)
	if err != nil {
		t.Fatalf("GetUsers: %v", err)
	}
	v := views[1]
	if v == nil {
		t.Fatal("user 1 not resolved")
	}
	if v.Engagement.Followers != 2 || v.Engagement.Following != 1 {
		t.Errorf("unexpected engagement: %+v", v.Engagement)
	}
	if !v.PowerBadge {
		t.Error("expected power badge")
	}
	if len(v.Verifications) != 1 || v.Verifications[0].Address != "0xabc" {
		t.Errorf("verifications not hydrated: %+v", v.Verifications)
	}
	if vc := v.ViewerContext; vc == nil || !vc.Following || !vc.FollowedBy {
		t.Errorf("unexpected viewer context: %+v", v.ViewerContext)
	}
}

func TestGetUsersByAddresses(t *testing.T) {
	setupTestDB(t)
	r := newTestResolver(t)

	mustCreate(t, &models.User{Fid: 1, Fname: "alice"})
	mustCreate(t, &models.Verification{Fid: 1, Address: "0xabc", Protocol: 0})

	views, err := r.GetUsersByAddresses(context.Background(), []string{"0xabc", "0xunknown"}, 0)
	if err != nil {
		t.Fatalf("GetUsersByAddresses: %v", err)
	}
	if len(views) != 1 || views[1] == nil || views[1].Fname != "alice" {
		t.Errorf("unexpected result: %+v", views)
	}
}

func TestGetChannelsNegativeCache(t *testing.T) {
	setupTestDB(t)
	r := newTestResolver(t)

	const missing = "https://example.com/ch/ghost"
	views, err := r.GetChannels(context.Background(), []string{missing})
	if err != nil {
		t.Fatalf("GetChannels: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected no views, got %+v", views)
	}

	mustCreate(t, &models.Channel{URL: missing, ChannelID: "ghost", Name: "Ghost"})
	views, err = r.GetChannels(context.Background(), []string{missing})
	if err != nil {
		t.Fatalf("GetChannels: %v", err)
	}
	if len(views) != 0 {
		t.Errorf("expected negative cache hit, got %+v", views)
	}
}

func TestChannelURLsByIDsDirectoryFallback(t *testing.T) {
	setupTestDB(t)
	dir := &countingDirectory{channels: map[string]*models.Channel{
		"dev": {URL: "https://example.com/ch/dev", ChannelID: "dev", Name: "Dev"},
	}}
	r := NewResolver(newTestStore(t), nil, dir, nil, nil)

	out, err := r.ChannelURLsByIDs(context.Background(), []string{"dev"})
	if err != nil {
		t.Fatalf("ChannelURLsByIDs: %v", err)
	}
	if out["dev"] != "https://example.com/ch/dev" {
		t.Fatalf("unexpected mapping: %+v", out)
	}
	if dir.calls != 1 {
		t.Fatalf("directory calls = %d, want 1", dir.calls)
	}

	// 第二次翻译走缓存，不再打目录
	if _, err := r.ChannelURLsByIDs(context.Background(), []string{"dev"}); err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if dir.calls != 1 {
		t.Errorf("directory calls = %d after cached lookup, want 1", dir.calls)
	}

	// 目录也没有的 id 负缓存，不反复兜底
	if _, err := r.ChannelURLsByIDs(context.Background(), []string{"ghost"}); err != nil {
		t.Fatalf("missing lookup: %v", err)
	}
	if _, err := r.ChannelURLsByIDs(context.Background(), []string{"ghost"}); err != nil {
		t.Fatalf("repeat missing lookup: %v", err)
	}
	if dir.calls != 2 {
		t.Errorf("directory calls = %d, want 2", dir.calls)
	}
}

func TestSearchChannels(t *testing.T) {
	setupTestDB(t)
	r := newTestResolver(t)

	mustCreate(t, &models.Channel{URL: "https://example.com/ch/dev", ChannelID: "dev", Name: "Developers", FollowerCount: 10})
	mustCreate(t, &models.Channel{URL: "https://example.com/ch/design", ChannelID: "design", Name: "Design", FollowerCount: 50})
	mustCreate(t, &models.Channel{URL: "https://example.com/ch/food", ChannelID: "food", Name: "Food", FollowerCount: 5})

	out, err := r.SearchChannels(context.Background(), "de", 10)
	if err != nil {
		t.Fatalf("SearchChannels: %v", err)
	}
	if len(out) != 2 || out[0].ChannelID != "design" || out[1].ChannelID != "dev" {
		t.Fatalf("unexpected search result: %+v", out)
	}
}
