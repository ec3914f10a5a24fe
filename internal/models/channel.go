package models

import (
	"time"
)

// Channel 频道资料行，url 为主键，channel_id 为人类可读的短 id
type Channel struct {
	URL         string    `gorm:"primaryKey" json:"url"`
	ChannelID   string    `gorm:"uniqueIndex;not null" json:"channel_id"`
	Name        string    `json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	// FollowerCount 为摄取管道维护的只读聚合，本服务不更新
	FollowerCount int64  `json:"follower_count"`
	LeadFids      string `json:"-"` // 逗号分隔的主持人 fid 列表
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// ChannelView 完整水合后的频道对象
type ChannelView struct {
	URL           string      `json:"url"`
	ChannelID     string      `json:"channel_id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	ImageURL      string      `json:"image_url,omitempty"`
	FollowerCount int64       `json:"follower_count"`
	Leads         []*UserView `json:"leads,omitempty"`
}
