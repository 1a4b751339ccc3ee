package feed

import (
	"time"

	"community_core/internal/model"
)

type Comment struct {
	ID        uint64    `json:"id"`
	LocalRef  string    `json:"local_ref,omitempty"` // 草稿的本地标识，服务端确认前 ID 为 0
	AuthorID  uint64    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Pending   bool      `json:"pending,omitempty"`
}

// Item 工作集中的一条帖子，带当前观看者的点赞状态
type Item struct {
	PostID        uint64          `json:"post_id"`
	CommunityID   *uint64         `json:"community_id,omitempty"`
	AuthorID      uint64          `json:"author_id"`
	Kind          model.PostKind  `json:"kind"`
	Content       string          `json:"content"`
	MediaURL      string          `json:"media_url,omitempty"`
	MediaKind     model.MediaKind `json:"media_kind"`
	LikesCount    int64           `json:"likes_count"`
	CommentsCount int64           `json:"comments_count"`
	LikedByMe     bool            `json:"liked_by_me"`
	Comments      []Comment       `json:"comments"`
	CreatedAt     time.Time       `json:"created_at"`
}

func ItemFromPost(p model.Post) Item {
	kind := p.Kind
	if kind == "" {
		kind = model.PostGeneral
	}
	mk := p.MediaKind
	if mk == "" {
		mk = model.MediaNone
	}
	return Item{
		PostID:        p.ID,
		CommunityID:   p.CommunityID,
		AuthorID:      p.AuthorID,
		Kind:          kind,
		Content:       p.Content,
		MediaURL:      p.MediaURL,
		MediaKind:     mk,
		LikesCount:    p.LikesCount,
		CommentsCount: p.CommentsCount,
		CreatedAt:     p.CreatedAt,
	}
}

func (it Item) clone() Item {
	cp := it
	if it.Comments != nil {
		cp.Comments = make([]Comment, len(it.Comments))
		copy(cp.Comments, it.Comments)
	}
	if it.CommunityID != nil {
		id := *it.CommunityID
		cp.CommunityID = &id
	}
	return cp
}
