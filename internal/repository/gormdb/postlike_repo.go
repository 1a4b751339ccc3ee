package gormdb

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"community_core/internal/model"
	"community_core/internal/pkg"
)

type PostLikeRepository struct {
	DB *gorm.DB
}

// Like 幂等点赞；changed 表示这次确实从未赞变为已赞，count 为事务内的最新计数
func (r *PostLikeRepository) Like(ctx context.Context, userID, postID uint64) (changed bool, count int64, err error) {
	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPost(tx, postID)
		if err != nil {
			return err
		}
		count = p.LikesCount

		var n int64
		if err = tx.Model(&model.PostLike{}).
			Where("user_id = ? AND post_id = ?", userID, postID).
			Count(&n).Error; err != nil {
			return err
		}
		// 已存在，幂等
		if n > 0 {
			return nil
		}
		if err = tx.Create(&model.PostLike{UserID: userID, PostID: postID}).Error; err != nil {
			return err
		}
		if err = adjustPostCounter(tx, postID, "likes_count", +1); err != nil {
			return err
		}
		changed = true
		count++
		return insertOutbox(tx, change{table: TableLikes, event: model.ChangeInsert, communityID: p.CommunityID, postID: u64(postID), userID: u64(userID), origin: userID})
	})
	return changed, count, err
}

func (r *PostLikeRepository) Unlike(ctx context.Context, userID, postID uint64) (changed bool, count int64, err error) {
	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPost(tx, postID)
		if err != nil {
			return err
		}
		count = p.LikesCount

		res := tx.Where("user_id = ? AND post_id = ?", userID, postID).Delete(&model.PostLike{})
		if res.Error != nil {
			return res.Error
		}
		// 未删除任何行 -> 幂等
		if res.RowsAffected == 0 {
			return nil
		}
		if err = adjustPostCounter(tx, postID, "likes_count", -1); err != nil {
			return err
		}
		changed = true
		if count > 0 {
			count--
		}
		return insertOutbox(tx, change{table: TableLikes, event: model.ChangeDelete, communityID: p.CommunityID, postID: u64(postID), userID: u64(userID), origin: userID})
	})
	return changed, count, err
}

func (r *PostLikeRepository) IsLiked(ctx context.Context, userID, postID uint64) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).
		Model(&model.PostLike{}).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Count(&count).Error
	return count > 0, err
}

// LikedSet 一次查出用户对一批帖子的点赞状态
func (r *PostLikeRepository) LikedSet(ctx context.Context, userID uint64, postIDs []uint64) (map[uint64]bool, error) {
	out := make(map[uint64]bool, len(postIDs))
	if userID == 0 || len(postIDs) == 0 {
		return out, nil
	}
	var liked []uint64
	if err := r.DB.WithContext(ctx).Model(&model.PostLike{}).
		Where("user_id = ? AND post_id IN ?", userID, postIDs).
		Pluck("post_id", &liked).Error; err != nil {
		return nil, err
	}
	for _, id := range liked {
		out[id] = true
	}
	return out, nil
}

func (r *PostLikeRepository) GetLikeCount(ctx context.Context, postID uint64) (int64, error) {
	var p model.Post
	err := r.DB.WithContext(ctx).Select("id", "likes_count").First(&p, "id = ? AND status = ?", postID, model.PostNormal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, pkg.NotFound("post not found")
	}
	if err != nil {
		return 0, err
	}
	return p.LikesCount, nil
}

// ListLikers 点赞用户，按点赞时间倒序
func (r *PostLikeRepository) ListLikers(ctx context.Context, postID uint64, limit int) ([]uint64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var ids []uint64
	err := r.DB.WithContext(ctx).Model(&model.PostLike{}).
		Where("post_id = ?", postID).
		Order("id DESC").
		Limit(limit).
		Pluck("user_id", &ids).Error
	return ids, err
}

// LikerIDs 回填缓存用的完整点赞者，最多 limit 个
func (r *PostLikeRepository) LikerIDs(ctx context.Context, postID uint64, limit int) ([]uint64, error) {
	var ids []uint64
	err := r.DB.WithContext(ctx).Model(&model.PostLike{}).
		Where("post_id = ?", postID).
		Limit(limit).
		Pluck("user_id", &ids).Error
	return ids, err
}

func lockPost(tx *gorm.DB, postID uint64) (*model.Post, error) {
	var p model.Post
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, "id = ? AND status = ?", postID, model.PostNormal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkg.NotFound("post not found")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// adjustPostCounter 计数不减到负数，误差交给对账修正
func adjustPostCounter(tx *gorm.DB, postID uint64, column string, delta int64) error {
	return tx.Model(&model.Post{}).
		Where("id = ?", postID).
		UpdateColumn(column, gorm.Expr("CASE WHEN "+column+" + ? < 0 THEN 0 ELSE "+column+" + ? END", delta, delta)).Error
}
