package model

import "time"

type PostKind string

const (
	PostGeneral   PostKind = "general"
	PostCommunity PostKind = "community"
)

type MediaKind string

const (
	MediaNone  MediaKind = "none"
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

const (
	PostNormal  = 0
	PostDeleted = 1
)

type Post struct {
	ID            uint64    `gorm:"primaryKey;index:idx_comm_time_id,priority:3,sort:desc" json:"id"`
	CommunityID   *uint64   `gorm:"index:idx_comm_time_id,priority:1" json:"community_id"` // nil => general feed
	AuthorID      uint64    `gorm:"not null;index:idx_author_time" json:"author_id"`
	Kind          PostKind  `gorm:"size:16;not null;default:'general'" json:"kind"`
	Content       string    `gorm:"type:text" json:"content"`
	MediaURL      string    `gorm:"size:512" json:"media_url"`
	MediaKind     MediaKind `gorm:"size:8;not null;default:'none'" json:"media_kind"`
	Status        int       `gorm:"not null;default:0" json:"status"` // 0=normal 1=deleted
	LikesCount    int64     `gorm:"not null;default:0" json:"likes_count"`
	CommentsCount int64     `gorm:"not null;default:0" json:"comments_count"`
	CreatedAt     time.Time `gorm:"index:idx_comm_time_id,priority:2,sort:desc;index:idx_author_time" json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
