package services

import (
	"context"
	"fmt"
	"time"

	"castfeed/internal/cache"
	"castfeed/internal/db"
	"castfeed/internal/models"
	"castfeed/internal/utils"
)

// MuteService 把 viewer 的屏蔽条目解析成排除谓词
type MuteService struct {
	store cache.Store
	ttl   time.Duration
}

func NewMuteService(store cache.Store) *MuteService {
	return &MuteService{store: store, ttl: 5 * time.Minute}
}

func muteCacheKey(viewerFid uint64) string {
	return fmt.Sprintf("mutes:%d", viewerFid)
}

// GetMuteList 读取 viewer 的屏蔽集合，先查缓存再落库
func (s *MuteService) GetMuteList(ctx context.Context, viewerFid uint64) (*models.MuteList, error) {
	if viewerFid == 0 {
		return &models.MuteList{}, nil
	}

	if list := cache.GetJSON[models.MuteList](ctx, s.store, muteCacheKey(viewerFid)); list != nil {
		return list, nil
	}

	var rows []models.Mute
	if err := db.DB.WithContext(ctx).Where("viewer_fid = ?", viewerFid).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load mutes: %w", err)
	}

	list := &models.MuteList{}
	for _, row := range rows {
		switch row.Kind {
		case models.MuteFid:
			if fid := utils.StringToUint64(row.Value); fid != 0 {
				list.Fids = append(list.Fids, fid)
			}
		case models.MuteChannel:
			list.ChannelURLs = append(list.ChannelURLs, row.Value)
		case models.MuteWord:
			list.Words = append(list.Words, row.Value)
		}
	}

	cache.SetJSON(ctx, s.store, muteCacheKey(viewerFid), list, s.ttl)
	return list, nil
}
