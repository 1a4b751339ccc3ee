package membership

import (
	"context"

	"community_core/internal/model"
)

// Store 状态机依赖的存储原语；计数与状态变更由实现方放在同一事务里
type Store interface {
	// CreateCommunity 创建社区，创建者成为唯一管理员，member_count=1
	CreateCommunity(ctx context.Context, c *model.Community) error
	// FindCommunity 不存在时返回 NOT_FOUND
	FindCommunity(ctx context.Context, communityID uint64) (*model.Community, error)
	// FindMembership 没有记录时返回 nil, nil
	FindMembership(ctx context.Context, communityID, userID uint64) (*model.CommunityMember, error)
	// Join 插入或重新激活成员并 member_count+1；已是活跃成员返回 ALREADY_MEMBER
	Join(ctx context.Context, communityID, userID uint64) error
	// Leave 状态置为 left 并 member_count-1；非活跃成员返回 NOT_MEMBER
	Leave(ctx context.Context, communityID, userID uint64) error
	// OtherActiveMembers 除 userID 外的所有活跃成员，顺序不作保证
	OtherActiveMembers(ctx context.Context, communityID, userID uint64) ([]model.CommunityMember, error)
	Promote(ctx context.Context, communityID, userID uint64) error
	ReassignCreator(ctx context.Context, communityID, userID uint64) error
	// DeleteCommunity 级联删除成员、帖子、点赞、评论；已删除视为成功
	DeleteCommunity(ctx context.Context, communityID uint64) error
}

// OwnershipTransferer 可选能力：在一个事务里完成提升、转移创建者、移除离开者。
// 事务内需重新确认继任者仍是活跃成员，否则返回 CONFLICT。
type OwnershipTransferer interface {
	TransferOwnership(ctx context.Context, communityID, fromUserID, toUserID uint64, reassignCreator bool) error
}
