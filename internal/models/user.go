package models

import (
	"time"
)

// User 账号资料行，fid 为协议内的数字身份
type User struct {
	Fid         uint64    `gorm:"primaryKey" json:"fid"`
	Fname       string    `gorm:"index" json:"fname,omitempty"` // 协议内用户名
	DisplayName string    `json:"display_name,omitempty"`
	PfpURL      string    `json:"pfp_url,omitempty"`
	Bio         string    `gorm:"type:text" json:"bio,omitempty"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// Verification 账号验证过的链上地址
type Verification struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	Fid      uint64 `gorm:"not null;index" json:"-"`
	Address  string `gorm:"not null;index" json:"address"`
	Protocol int    `gorm:"not null" json:"protocol"` // 0:ethereum 1:solana
}

// PowerBadge 全局徽章持有者集合，由外部策展维护
type PowerBadge struct {
	Fid       uint64    `gorm:"primaryKey" json:"fid"`
	CreatedAt time.Time `json:"-"`
}

// UserEngagement 账号的关注计数
type UserEngagement struct {
	Followers int64 `json:"followers"`
	Following int64 `json:"following"`
}

// UserViewerContext 每 (viewer, user) 的关系上下文
type UserViewerContext struct {
	Following  bool `json:"following"`   // viewer 是否关注了该账号
	FollowedBy bool `json:"followed_by"` // 该账号是否关注了 viewer
}

// UserView 完整水合后的账号对象
type UserView struct {
	Fid           uint64             `json:"fid"`
	Fname         string             `json:"fname,omitempty"`
	DisplayName   string             `json:"display_name,omitempty"`
	PfpURL        string             `json:"pfp_url,omitempty"`
	Bio           string             `json:"bio,omitempty"`
	URL           string             `json:"url,omitempty"`
	Verifications []Verification     `json:"verifications,omitempty"`
	Engagement    UserEngagement     `json:"engagement"`
	PowerBadge    bool               `json:"power_badge"`
	ViewerContext *UserViewerContext `json:"viewer_context,omitempty"`
}
