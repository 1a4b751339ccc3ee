package gormdb

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"community_core/internal/model"
	"community_core/internal/pkg"
	"community_core/internal/visibility"
)

type PostRepository struct {
	DB *gorm.DB
}

func (r *PostRepository) Create(ctx context.Context, post *model.Post) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			return err
		}
		return insertOutbox(tx, change{
			table:       TablePosts,
			event:       model.ChangeInsert,
			communityID: post.CommunityID,
			postID:      u64(post.ID),
			origin:      post.AuthorID,
		})
	})
}

func (r *PostRepository) FindByID(ctx context.Context, id uint64) (*model.Post, error) {
	var post model.Post
	err := r.DB.WithContext(ctx).First(&post, "id = ? AND status = ?", id, model.PostNormal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkg.NotFound("post not found")
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// ListFeed 基于时间游标的查询：索引 (community_id, created_at DESC, id DESC)
// After 为零值表示第一页；否则用 (created_at, id) 作为严格游标
func (r *PostRepository) ListFeed(ctx context.Context, q visibility.PostQuery) ([]model.Post, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	db := r.DB.WithContext(ctx).Where("status = ?", model.PostNormal)
	switch {
	case q.IncludeGeneral && len(q.CommunityIDs) > 0:
		db = db.Where("(community_id IS NULL OR community_id IN ?)", q.CommunityIDs)
	case q.IncludeGeneral:
		db = db.Where("community_id IS NULL")
	case len(q.CommunityIDs) > 0:
		db = db.Where("community_id IN ?", q.CommunityIDs)
	default:
		return []model.Post{}, nil
	}
	if q.Kind != "" {
		db = db.Where("kind = ?", q.Kind)
	}
	if !q.After.IsZero() {
		// 先比时间，再在同一时间点用 id 打破并列
		db = db.Where("(created_at < ? OR (created_at = ? AND id < ?))", q.After.CreatedAt, q.After.CreatedAt, q.After.ID)
	}
	var list []model.Post
	err := db.Order("created_at DESC, id DESC").Limit(limit).Find(&list).Error
	return list, err
}

// DeleteWithPermission 作者或该社区活跃管理员可删；幂等（已删除返回 0 行，不报错）
func (r *PostRepository) DeleteWithPermission(ctx context.Context, postID, operatorID uint64) (int64, error) {
	var affected int64
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p model.Post
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, postID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if p.Status == model.PostDeleted {
			return nil
		}
		if p.AuthorID != operatorID {
			if p.CommunityID == nil {
				return pkg.Forbidden("no permission")
			}
			var n int64
			if err = tx.Model(&model.CommunityMember{}).
				Where("community_id = ? AND user_id = ? AND status = ? AND role >= ?", *p.CommunityID, operatorID, model.MemberActive, model.RoleAdmin).
				Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return pkg.Forbidden("no permission")
			}
		}
		res := tx.Model(&model.Post{}).Where("id = ? AND status = ?", postID, model.PostNormal).Update("status", model.PostDeleted)
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		return insertOutbox(tx, change{
			table:       TablePosts,
			event:       model.ChangeDelete,
			communityID: p.CommunityID,
			postID:      u64(postID),
			origin:      operatorID,
		})
	})
	return affected, err
}
