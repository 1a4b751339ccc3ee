package model

import "time"

// Comment is append-only.
type Comment struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	PostID    uint64    `gorm:"not null;index:idx_post_time" json:"post_id"`
	AuthorID  uint64    `gorm:"not null" json:"author_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_post_time" json:"created_at"`
}
