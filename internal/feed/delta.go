package feed

import (
	"strings"
	"time"
	"unicode/utf8"

	"community_core/internal/pkg"
)

const MaxCommentLen = 1000

type DeltaKind int

const (
	DeltaLike DeltaKind = iota + 1
	DeltaUnlike
	DeltaComment
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaLike:
		return "like"
	case DeltaUnlike:
		return "unlike"
	case DeltaComment:
		return "comment"
	}
	return "unknown"
}

// Delta 一次本地乐观修改
type Delta struct {
	Kind    DeltaKind
	Actor   uint64
	Content string
}

func Like(actor uint64) Delta   { return Delta{Kind: DeltaLike, Actor: actor} }
func Unlike(actor uint64) Delta { return Delta{Kind: DeltaUnlike, Actor: actor} }

func AddComment(actor uint64, content string) Delta {
	return Delta{Kind: DeltaComment, Actor: actor, Content: content}
}

// NormalizeComment 去掉首尾空白并校验长度；服务端和乐观草稿用同一套规则
func NormalizeComment(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", pkg.Invalid("comment content required")
	}
	if utf8.RuneCountInString(content) > MaxCommentLen {
		return "", pkg.Invalid("comment too long")
	}
	return content, nil
}

// Confirmation 服务端对一次修改的确认
type Confirmation struct {
	LikesCount *int64 // 点赞/取消后服务端计数，可为空
	CommentID  uint64
	Content    string // 服务端保存的评论内容，为空时沿用草稿
	CreatedAt  time.Time
}

type edit struct {
	id       uint64
	postID   uint64
	delta    Delta
	localRef string
	placedAt time.Time
	known    map[uint64]bool // 发起时已存在的评论，不能作为本次修改的确认
}

// apply 把修改叠加到 it 上；计数不小于 0
func (e *edit) apply(it *Item) {
	switch e.delta.Kind {
	case DeltaLike:
		if !it.LikedByMe {
			it.LikedByMe = true
			it.LikesCount++
		}
	case DeltaUnlike:
		if it.LikedByMe {
			it.LikedByMe = false
			if it.LikesCount > 0 {
				it.LikesCount--
			}
		}
	case DeltaComment:
		it.Comments = append(it.Comments, Comment{
			LocalRef:  e.localRef,
			AuthorID:  e.delta.Actor,
			Content:   e.delta.Content,
			CreatedAt: e.placedAt,
			Pending:   true,
		})
		it.CommentsCount++
	}
}

// reflectedIn 当前状态是否已经体现了这次修改；claimed 记录已被匹配的服务端评论
func (e *edit) reflectedIn(it Item, claimed map[uint64]bool) bool {
	switch e.delta.Kind {
	case DeltaLike:
		return it.LikedByMe
	case DeltaUnlike:
		return !it.LikedByMe
	case DeltaComment:
		for _, c := range it.Comments {
			if c.ID != 0 && !claimed[c.ID] && !e.known[c.ID] && c.AuthorID == e.delta.Actor && c.Content == e.delta.Content {
				claimed[c.ID] = true
				return true
			}
		}
	}
	return false
}
