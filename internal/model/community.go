package model

import "time"

type Role int

const (
	RoleMember Role = 0
	RoleAdmin  Role = 1
)

func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "member"
}

type MemberStatus int8

const (
	MemberActive MemberStatus = 1
	MemberLeft   MemberStatus = 0
)

type Community struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	IsPrivate   bool      `gorm:"not null;default:false;index" json:"is_private"`
	IsPaid      bool      `gorm:"not null;default:false" json:"is_paid"`
	PriceCents  *int64    `json:"price_cents"`
	Currency    *string   `gorm:"size:3" json:"currency"`
	MemberCount int64     `gorm:"not null;default:0" json:"member_count"`
	CreatorID   uint64    `gorm:"not null;index" json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CommunityMember keeps one row per (community, user); leaving flips Status.
type CommunityMember struct {
	ID          uint64       `gorm:"primaryKey" json:"id"`
	CommunityID uint64       `gorm:"not null;index;uniqueIndex:uk_community_user" json:"community_id"`
	UserID      uint64       `gorm:"not null;index;uniqueIndex:uk_community_user" json:"user_id"`
	Role        Role         `gorm:"not null;default:0" json:"role"` // 0=member, 1=admin
	Status      MemberStatus `gorm:"not null;default:1;index" json:"status"`
	JoinedAt    time.Time    `gorm:"not null" json:"joined_at"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (m CommunityMember) Active() bool { return m.Status == MemberActive }

func (m CommunityMember) IsAdmin() bool { return m.Active() && m.Role == RoleAdmin }
