package models

import (
	"time"

	"gorm.io/gorm"
)

// Cast 帖子行，hash 为主键（0x + 32 字节十六进制）
// 删除走软删除：默认查询自动排除，按 hash 直接解析时用 Unscoped 仍可取到
type Cast struct {
	Hash      string    `gorm:"primaryKey;size:66" json:"hash"`
	Fid       uint64    `gorm:"not null;index" json:"fid"`
	Text      string    `gorm:"type:text" json:"text"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`

	// 回复时指向直接父帖
	ParentHash string `gorm:"size:66;index" json:"parent_hash,omitempty"`
	ParentFid  uint64 `json:"parent_fid,omitempty"`
	// 顶层帖发到频道时 parent_url 为频道 url
	ParentURL string `gorm:"index" json:"parent_url,omitempty"`

	// 线程根帖，摄取管道预计算
	RootParentHash string `gorm:"size:66" json:"root_parent_hash,omitempty"`
	RootParentFid  uint64 `json:"root_parent_fid,omitempty"`
	RootParentURL  string `gorm:"index" json:"root_parent_url,omitempty"`

	// 发帖所用签名器公钥，应用归属解析的入口
	Signer string `gorm:"size:66" json:"-"`

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	CreatedAt time.Time      `json:"-"`
	UpdatedAt time.Time      `json:"-"`
}

// CastMention 帖子正文中 @ 到的账号及其字节偏移
type CastMention struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	Hash     string `gorm:"size:66;not null;index" json:"-"`
	Fid      uint64 `gorm:"not null" json:"fid"`
	Position int    `gorm:"not null" json:"position"`
}

// CastEmbedURL 帖子内嵌的外部链接
type CastEmbedURL struct {
	ID   uint   `gorm:"primaryKey" json:"-"`
	Hash string `gorm:"size:66;not null;index" json:"-"`
	URL  string `gorm:"not null" json:"url"`
}

// CastEmbedCast 帖子内嵌的另一条帖子（引用）
type CastEmbedCast struct {
	ID           uint   `gorm:"primaryKey" json:"-"`
	Hash         string `gorm:"size:66;not null;index" json:"-"`
	EmbeddedHash string `gorm:"size:66;not null;index" json:"embedded_hash"`
}

// CastEngagement 帖子的互动计数
type CastEngagement struct {
	Likes   int64 `json:"likes"`
	Recasts int64 `json:"recasts"`
	Replies int64 `json:"replies"`
	Quotes  int64 `json:"quotes"`
}

// CastViewerContext 每 (viewer, cast) 的互动标记
type CastViewerContext struct {
	Liked    bool `json:"liked"`
	Recasted bool `json:"recasted"`
}

// MentionView 水合后的提及：账号对象加字节偏移
type MentionView struct {
	User     *UserView `json:"user"`
	Position int       `json:"position"`
}

// EmbedMetadata 外部链接的预览元数据，抓取失败时只留 url
type EmbedMetadata struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

// CastView 完整水合后的帖子对象，缓存与响应共用这一份形状
// 引用的父帖/根帖/内嵌帖只展开一层：嵌套对象里不再有 ParentCast/RootCast/EmbedCasts
type CastView struct {
	Hash           string             `json:"hash"`
	Author         *UserView          `json:"author"`
	Text           string             `json:"text"`
	Timestamp      time.Time          `json:"timestamp"`
	ParentHash     string             `json:"parent_hash,omitempty"`
	ParentFid      uint64             `json:"parent_fid,omitempty"`
	ParentURL      string             `json:"parent_url,omitempty"`
	RootParentHash string             `json:"root_parent_hash,omitempty"`
	RootParentFid  uint64             `json:"root_parent_fid,omitempty"`
	RootParentURL  string             `json:"root_parent_url,omitempty"`
	Mentions       []MentionView      `json:"mentions,omitempty"`
	EmbedURLs      []EmbedMetadata    `json:"embed_urls,omitempty"`
	EmbedCasts     []*CastView        `json:"embed_casts,omitempty"`
	ParentCast     *CastView          `json:"parent_cast,omitempty"`
	RootCast       *CastView          `json:"root_cast,omitempty"`
	Channel        *ChannelView       `json:"channel,omitempty"`
	Engagement     CastEngagement     `json:"engagement"`
	AppFid         *uint64            `json:"app_fid,omitempty"`
	Deleted        bool               `json:"deleted,omitempty"`
	ViewerContext  *CastViewerContext `json:"viewer_context,omitempty"`
}
