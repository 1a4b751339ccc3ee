package gormdb

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"community_core/internal/model"
	"community_core/internal/pkg"
)

type CommunityMemberRepository struct {
	DB *gorm.DB
}

func (r *CommunityMemberRepository) Find(ctx context.Context, communityID, userID uint64) (*model.CommunityMember, error) {
	var m model.CommunityMember
	err := r.DB.WithContext(ctx).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Join 插入或重新激活，同一事务内 member_count+1
func (r *CommunityMemberRepository) Join(ctx context.Context, communityID, userID uint64) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁社区行，串行化同一社区的计数更新
		if _, err := lockCommunity(tx, communityID); err != nil {
			return err
		}
		var m model.CommunityMember
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("community_id = ? AND user_id = ?", communityID, userID).
			First(&m).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err = tx.Create(&model.CommunityMember{
				CommunityID: communityID,
				UserID:      userID,
				Role:        model.RoleMember,
				Status:      model.MemberActive,
				JoinedAt:    time.Now(),
			}).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		case m.Active():
			return pkg.NewAppError(pkg.ErrAlreadyMember, "already an active member", nil)
		default:
			if err = tx.Model(&model.CommunityMember{}).
				Where("id = ? AND status = ?", m.ID, model.MemberLeft).
				Updates(map[string]any{"status": model.MemberActive, "role": model.RoleMember, "joined_at": time.Now()}).Error; err != nil {
				return err
			}
		}
		if err = adjustMemberCount(tx, communityID, +1); err != nil {
			return err
		}
		return insertOutbox(tx, change{table: TableMembers, event: model.ChangeInsert, communityID: u64(communityID), userID: u64(userID), origin: userID})
	})
}

// Leave 状态置为 left，同一事务内 member_count-1
func (r *CommunityMemberRepository) Leave(ctx context.Context, communityID, userID uint64) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockCommunity(tx, communityID); err != nil {
			return err
		}
		return leaveTx(tx, communityID, userID)
	})
}

func leaveTx(tx *gorm.DB, communityID, userID uint64) error {
	res := tx.Model(&model.CommunityMember{}).
		Where("community_id = ? AND user_id = ? AND status = ?", communityID, userID, model.MemberActive).
		Updates(map[string]any{"status": model.MemberLeft, "role": model.RoleMember})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkg.NewAppError(pkg.ErrNotMember, "not an active member", nil)
	}
	if err := adjustMemberCount(tx, communityID, -1); err != nil {
		return err
	}
	return insertOutbox(tx, change{table: TableMembers, event: model.ChangeDelete, communityID: u64(communityID), userID: u64(userID), origin: userID})
}

// Promote 继任者必须仍是活跃成员，否则 CONFLICT
func (r *CommunityMemberRepository) Promote(ctx context.Context, communityID, userID uint64) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return promoteTx(tx, communityID, userID)
	})
}

func promoteTx(tx *gorm.DB, communityID, userID uint64) error {
	var m model.CommunityMember
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !m.Active()) {
		return pkg.NewAppError(pkg.ErrConflict, "successor is no longer an active member", nil)
	}
	if err != nil {
		return err
	}
	if m.Role == model.RoleAdmin {
		return nil
	}
	if err = tx.Model(&model.CommunityMember{}).Where("id = ?", m.ID).Update("role", model.RoleAdmin).Error; err != nil {
		return err
	}
	return insertOutbox(tx, change{table: TableMembers, event: model.ChangeUpdate, communityID: u64(communityID), userID: u64(userID), origin: userID})
}

// TransferOwnership 提升继任者、转移创建者、移除离开者，全部在一个事务里
func (r *CommunityMemberRepository) TransferOwnership(ctx context.Context, communityID, fromUserID, toUserID uint64, reassignCreator bool) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockCommunity(tx, communityID); err != nil {
			return err
		}
		if err := promoteTx(tx, communityID, toUserID); err != nil {
			return err
		}
		if reassignCreator {
			if err := reassignCreatorTx(tx, communityID, toUserID); err != nil {
				return err
			}
		}
		return leaveTx(tx, communityID, fromUserID)
	})
}

// ListOtherActive 按继任顺序返回：管理员优先，加入时间升序，user_id 升序
func (r *CommunityMemberRepository) ListOtherActive(ctx context.Context, communityID, userID uint64) ([]model.CommunityMember, error) {
	var list []model.CommunityMember
	err := r.DB.WithContext(ctx).
		Where("community_id = ? AND user_id <> ? AND status = ?", communityID, userID, model.MemberActive).
		Order("role DESC, joined_at ASC, user_id ASC").
		Find(&list).Error
	return list, err
}

func (r *CommunityMemberRepository) ActiveCommunityIDs(ctx context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.DB.WithContext(ctx).Model(&model.CommunityMember{}).
		Where("user_id = ? AND status = ?", userID, model.MemberActive).
		Order("community_id ASC").
		Pluck("community_id", &ids).Error
	return ids, err
}

func (r *CommunityMemberRepository) IsActiveMember(ctx context.Context, communityID, userID uint64) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.CommunityMember{}).
		Where("community_id = ? AND user_id = ? AND status = ?", communityID, userID, model.MemberActive).
		Count(&count).Error
	return count > 0, err
}

// CountActive 服务端聚合，不拉取成员列表
func (r *CommunityMemberRepository) CountActive(ctx context.Context, communityID uint64) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.CommunityMember{}).
		Where("community_id = ? AND status = ?", communityID, model.MemberActive).
		Count(&count).Error
	return count, err
}

func lockCommunity(tx *gorm.DB, communityID uint64) (*model.Community, error) {
	var c model.Community
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, communityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkg.NotFound("community not found")
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func adjustMemberCount(tx *gorm.DB, communityID uint64, delta int64) error {
	return tx.Model(&model.Community{}).
		Where("id = ?", communityID).
		UpdateColumn("member_count", gorm.Expr("CASE WHEN member_count + ? < 0 THEN 0 ELSE member_count + ? END", delta, delta)).Error
}
