package gormdb

import (
	"context"

	"gorm.io/gorm"

	"community_core/internal/model"
)

const (
	TableCommunities = "communities"
	TableMembers     = "community_members"
	TablePosts       = "posts"
	TableLikes       = "post_likes"
	TableComments    = "comments"
)

type OutboxRepository struct {
	DB *gorm.DB
}

// change 一条待写入 outbox 的变更
type change struct {
	table       string
	event       model.ChangeType
	communityID *uint64
	postID      *uint64
	userID      *uint64
	origin      uint64
}

func u64(v uint64) *uint64 { return &v }

// insertOutbox 必须与业务写入使用同一个 tx
func insertOutbox(tx *gorm.DB, changes ...change) error {
	for _, c := range changes {
		ob := &model.ChangeOutbox{
			Resource:    c.table,
			EventType:   c.event,
			CommunityID: c.communityID,
			PostID:      c.postID,
			UserID:      c.userID,
			Origin:      c.origin,
			Status:      model.OutboxPending,
		}
		if err := tx.Create(ob).Error; err != nil {
			return err
		}
	}
	return nil
}

// List 待投递和投递失败且未超过重试上限的记录
func (r *OutboxRepository) List(ctx context.Context, batchSize, maxRetry int) ([]model.ChangeOutbox, error) {
	var list []model.ChangeOutbox
	if err := r.DB.WithContext(ctx).
		Where("status = ? OR (status = ? AND retry < ?)", model.OutboxPending, model.OutboxFailed, maxRetry).
		Order("id ASC").
		Limit(batchSize).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// RetryUpdate outbox记录消息失败重试
func (r *OutboxRepository) RetryUpdate(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Model(&model.ChangeOutbox{}).Where("id = ?", id).
		Updates(map[string]any{"status": model.OutboxFailed, "retry": gorm.Expr("retry + 1")}).Error
}

// SuccessUpdate outbox成功记录消息更新
func (r *OutboxRepository) SuccessUpdate(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Model(&model.ChangeOutbox{}).Where("id = ?", id).
		Update("status", model.OutboxSent).Error
}

// PurgeSent 清理早于 id 的已投递记录
func (r *OutboxRepository) PurgeSent(ctx context.Context, beforeID uint64) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("status = ? AND id < ?", model.OutboxSent, beforeID).
		Delete(&model.ChangeOutbox{})
	return res.RowsAffected, res.Error
}
