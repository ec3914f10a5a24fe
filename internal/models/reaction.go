package models

import (
	"time"

	"gorm.io/gorm"
)

// 反应类型
const (
	ReactionLike   = 1
	ReactionRecast = 2
)

// Reaction 点赞/转发行，取消反应由摄取管道软删除
type Reaction struct {
	ID         uint           `gorm:"primaryKey" json:"-"`
	Type       int            `gorm:"not null;index:idx_reaction_target,priority:2" json:"type"`
	Fid        uint64         `gorm:"not null;index" json:"fid"`
	TargetHash string         `gorm:"size:66;not null;index:idx_reaction_target,priority:1" json:"target_hash"`
	Timestamp  time.Time      `gorm:"not null" json:"timestamp"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// Link 关注边：fid 关注 target_fid
type Link struct {
	ID        uint           `gorm:"primaryKey" json:"-"`
	Fid       uint64         `gorm:"not null;index:idx_link_pair,priority:1" json:"fid"`
	TargetFid uint64         `gorm:"not null;index:idx_link_pair,priority:2;index" json:"target_fid"`
	Timestamp time.Time      `gorm:"not null" json:"timestamp"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
