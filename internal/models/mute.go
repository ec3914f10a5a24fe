package models

import (
	"time"
)

// 屏蔽条目类型
const (
	MuteFid     = 1 // value 为账号 fid
	MuteChannel = 2 // value 为频道 URL
	MuteWord    = 3 // value 为词语
)

// Mute 每 viewer 的屏蔽条目
type Mute struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	ViewerFid uint64    `gorm:"not null;index" json:"viewer_fid"`
	Kind      int       `gorm:"not null" json:"kind"`
	Value     string    `gorm:"not null" json:"value"`
	CreatedAt time.Time `json:"-"`
}

// MuteList 解析后的屏蔽集合
type MuteList struct {
	Fids        []uint64 `json:"fids"`
	ChannelURLs []string `json:"channel_urls"`
	Words       []string `json:"words"`
}

// Empty 三个集合都为空时为真
func (m *MuteList) Empty() bool {
	return m == nil || (len(m.Fids) == 0 && len(m.ChannelURLs) == 0 && len(m.Words) == 0)
}
