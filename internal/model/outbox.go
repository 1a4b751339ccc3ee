package model

import "time"

type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

const (
	OutboxPending = 0
	OutboxSent    = 1
	OutboxFailed  = 2
)

// ChangeOutbox is written in the same transaction as the mutation it describes.
type ChangeOutbox struct {
	ID          uint64     `gorm:"primaryKey"`
	Resource    string     `gorm:"size:32;not null"` // table the change happened on
	EventType   ChangeType `gorm:"size:8;not null"`
	CommunityID *uint64
	PostID      *uint64
	UserID      *uint64
	Origin      uint64 `gorm:"not null;default:0"`
	Status      int8   `gorm:"not null;default:0;index"` // 0=pending,1=sent,2=failed
	Retry       int    `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ChangeOutbox) TableName() string { return "change_outbox" }
