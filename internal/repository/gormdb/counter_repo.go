package gormdb

import (
	"context"

	"gorm.io/gorm"

	"community_core/internal/model"
)

type CounterReconcilerRepo struct {
	DB *gorm.DB
}

// PostCounters 对账用的帖子计数快照
type PostCounters struct {
	ID            uint64
	CommunityID   *uint64
	LikesCount    int64
	CommentsCount int64
}

type CommunityCounters struct {
	ID          uint64
	MemberCount int64
}

// PostBatch 按 id 升序分批，返回本批最后一个 id 作为下一批游标
func (r *CounterReconcilerRepo) PostBatch(ctx context.Context, batchSize int, lastID uint64) ([]PostCounters, uint64, error) {
	var list []PostCounters
	if err := r.DB.WithContext(ctx).Model(&model.Post{}).
		Select("id", "community_id", "likes_count", "comments_count").
		Where("id > ? AND status = ?", lastID, model.PostNormal).
		Order("id ASC").
		Limit(batchSize).
		Find(&list).Error; err != nil {
		return nil, lastID, err
	}
	if len(list) == 0 {
		return nil, lastID, nil
	}
	return list, list[len(list)-1].ID, nil
}

func (r *CounterReconcilerRepo) CommunityBatch(ctx context.Context, batchSize int, lastID uint64) ([]CommunityCounters, uint64, error) {
	var list []CommunityCounters
	if err := r.DB.WithContext(ctx).Model(&model.Community{}).
		Select("id", "member_count").
		Where("id > ?", lastID).
		Order("id ASC").
		Limit(batchSize).
		Find(&list).Error; err != nil {
		return nil, lastID, err
	}
	if len(list) == 0 {
		return nil, lastID, nil
	}
	return list, list[len(list)-1].ID, nil
}

// RealLikes 真实点赞数
func (r *CounterReconcilerRepo) RealLikes(ctx context.Context, postID uint64) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.PostLike{}).Where("post_id = ?", postID).Count(&n).Error
	return n, err
}

// RealComments 真实评论数
func (r *CounterReconcilerRepo) RealComments(ctx context.Context, postID uint64) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.Comment{}).Where("post_id = ?", postID).Count(&n).Error
	return n, err
}

// RealMembers 真实活跃成员数
func (r *CounterReconcilerRepo) RealMembers(ctx context.Context, communityID uint64) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.CommunityMember{}).
		Where("community_id = ? AND status = ?", communityID, model.MemberActive).
		Count(&n).Error
	return n, err
}

// FixPost 修正帖子计数并写一条 update 事件
func (r *CounterReconcilerRepo) FixPost(ctx context.Context, p PostCounters, likes, comments int64) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Post{}).Where("id = ?", p.ID).
			UpdateColumns(map[string]any{"likes_count": likes, "comments_count": comments}).Error; err != nil {
			return err
		}
		return insertOutbox(tx, change{table: TablePosts, event: model.ChangeUpdate, communityID: p.CommunityID, postID: u64(p.ID)})
	})
}

// FixMembers 修正社区成员数
func (r *CounterReconcilerRepo) FixMembers(ctx context.Context, communityID uint64, members int64) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Community{}).Where("id = ?", communityID).
			UpdateColumn("member_count", members).Error; err != nil {
			return err
		}
		return insertOutbox(tx, change{table: TableCommunities, event: model.ChangeUpdate, communityID: u64(communityID)})
	})
}
