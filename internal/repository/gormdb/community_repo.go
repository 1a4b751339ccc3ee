package gormdb

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"community_core/internal/model"
	"community_core/internal/pkg"
)

type CommunityRepository struct {
	DB *gorm.DB
}

// Create 创建社区，创建者以管理员身份加入，member_count=1
func (r *CommunityRepository) Create(ctx context.Context, c *model.Community) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c.MemberCount = 1
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		if err := tx.Create(&model.CommunityMember{
			CommunityID: c.ID,
			UserID:      c.CreatorID,
			Role:        model.RoleAdmin,
			Status:      model.MemberActive,
			JoinedAt:    time.Now(),
		}).Error; err != nil {
			return err
		}
		return insertOutbox(tx,
			change{table: TableCommunities, event: model.ChangeInsert, communityID: u64(c.ID), origin: c.CreatorID},
			change{table: TableMembers, event: model.ChangeInsert, communityID: u64(c.ID), userID: u64(c.CreatorID), origin: c.CreatorID},
		)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return pkg.NewAppError(pkg.ErrConflict, "community name already taken", err)
	}
	return err
}

func (r *CommunityRepository) FindByID(ctx context.Context, id uint64) (*model.Community, error) {
	var community model.Community
	err := r.DB.WithContext(ctx).First(&community, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkg.NotFound("community not found")
	}
	if err != nil {
		return nil, err
	}
	return &community, nil
}

func (r *CommunityRepository) FindByName(ctx context.Context, name string) (*model.Community, error) {
	var community model.Community
	err := r.DB.WithContext(ctx).Where("name = ?", name).First(&community).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkg.NotFound("community not found")
	}
	if err != nil {
		return nil, err
	}
	return &community, nil
}

// ListPublic 公开社区，按成员数和 id 倒序
func (r *CommunityRepository) ListPublic(ctx context.Context, query string, offset, limit int) ([]model.Community, error) {
	var list []model.Community
	q := r.DB.WithContext(ctx).Where("is_private = ?", false)
	if query = strings.TrimSpace(query); query != "" {
		q = q.Where("name LIKE ? ESCAPE '!'", "%"+escapeLike(query)+"%")
	}
	err := q.Order("member_count DESC, id DESC").Offset(offset).Limit(limit).Find(&list).Error
	return list, err
}

func (r *CommunityRepository) ListByIDs(ctx context.Context, ids []uint64) ([]model.Community, error) {
	var list []model.Community
	if len(ids) == 0 {
		return list, nil
	}
	err := r.DB.WithContext(ctx).Where("id IN ?", ids).Order("id DESC").Find(&list).Error
	return list, err
}

func (r *CommunityRepository) ReassignCreator(ctx context.Context, communityID, userID uint64) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return reassignCreatorTx(tx, communityID, userID)
	})
}

func reassignCreatorTx(tx *gorm.DB, communityID, userID uint64) error {
	res := tx.Model(&model.Community{}).Where("id = ?", communityID).Update("creator_id", userID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkg.NotFound("community not found")
	}
	return insertOutbox(tx, change{table: TableCommunities, event: model.ChangeUpdate, communityID: u64(communityID), origin: userID})
}

// DeleteByID 级联删除评论、点赞、帖子、成员和社区；不存在也视为成功，保证幂等
func (r *CommunityRepository) DeleteByID(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c model.Community
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		posts := tx.Model(&model.Post{}).Select("id").Where("community_id = ?", id)
		if err = tx.Where("post_id IN (?)", posts).Delete(&model.Comment{}).Error; err != nil {
			return err
		}
		if err = tx.Where("post_id IN (?)", posts).Delete(&model.PostLike{}).Error; err != nil {
			return err
		}
		if err = tx.Where("community_id = ?", id).Delete(&model.Post{}).Error; err != nil {
			return err
		}
		if err = tx.Where("community_id = ?", id).Delete(&model.CommunityMember{}).Error; err != nil {
			return err
		}
		if err = tx.Delete(&model.Community{}, id).Error; err != nil {
			return err
		}
		return insertOutbox(tx,
			change{table: TableCommunities, event: model.ChangeDelete, communityID: u64(id)},
			change{table: TableMembers, event: model.ChangeDelete, communityID: u64(id)},
			change{table: TablePosts, event: model.ChangeDelete, communityID: u64(id)},
		)
	})
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}
