package gormdb

import (
	"context"

	"gorm.io/gorm"

	"community_core/internal/model"
)

type CommentRepository struct {
	DB *gorm.DB
}

// Create 评论只追加；同一事务内 comments_count+1
func (r *CommentRepository) Create(ctx context.Context, c *model.Comment) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPost(tx, c.PostID)
		if err != nil {
			return err
		}
		if err = tx.Create(c).Error; err != nil {
			return err
		}
		if err = adjustPostCounter(tx, c.PostID, "comments_count", +1); err != nil {
			return err
		}
		return insertOutbox(tx, change{table: TableComments, event: model.ChangeInsert, communityID: p.CommunityID, postID: u64(c.PostID), userID: u64(c.AuthorID), origin: c.AuthorID})
	})
}

// ListByPost 按时间正序，afterID 为上一页最后一条
func (r *CommentRepository) ListByPost(ctx context.Context, postID, afterID uint64, limit int) ([]model.Comment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := r.DB.WithContext(ctx).Where("post_id = ?", postID)
	if afterID > 0 {
		q = q.Where("id > ?", afterID)
	}
	var list []model.Comment
	err := q.Order("created_at ASC, id ASC").Limit(limit).Find(&list).Error
	return list, err
}

// RecentByPosts 每个帖子最近 perPost 条评论，按时间正序
func (r *CommentRepository) RecentByPosts(ctx context.Context, postIDs []uint64, perPost int) (map[uint64][]model.Comment, error) {
	out := make(map[uint64][]model.Comment, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	var list []model.Comment
	if err := r.DB.WithContext(ctx).
		Where("post_id IN ?", postIDs).
		Order("post_id ASC, created_at ASC, id ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	for _, c := range list {
		out[c.PostID] = append(out[c.PostID], c)
	}
	if perPost > 0 {
		for id, cs := range out {
			if len(cs) > perPost {
				out[id] = cs[len(cs)-perPost:]
			}
		}
	}
	return out, nil
}
