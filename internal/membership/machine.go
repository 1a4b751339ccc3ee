package membership

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"community_core/internal/auth"
	"community_core/internal/model"
	"community_core/internal/pkg"
)

var (
	ErrAlreadyMember    = pkg.NewAppError(pkg.ErrAlreadyMember, "already an active member", nil)
	ErrNotMember        = pkg.NewAppError(pkg.ErrNotMember, "not an active member", nil)
	ErrPrivateCommunity = pkg.NewAppError(pkg.ErrPrivateCommunity, "community is private", nil)
)

type CreateInput struct {
	Name        string
	Description string
	IsPrivate   bool
	IsPaid      bool
	PriceCents  *int64
	Currency    *string
}

// LeaveResult 管理员离开时的结果，普通成员离开时只有 Left=true
type LeaveResult struct {
	Left             bool
	CommunityDeleted bool
	SuccessorID      uint64
}

// Machine 每个 (社区, 用户) 的成员状态机与管理员离开时的所有权转移
type Machine struct {
	store Store
	log   *slog.Logger
}

func NewMachine(store Store, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{store: store, log: log}
}

func (m *Machine) Create(ctx context.Context, actor auth.Identity, in CreateInput) (*model.Community, error) {
	if actor.Anonymous() {
		return nil, pkg.NewAppError(pkg.ErrUnauthorized, "login required", nil)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, pkg.Invalid("community name required")
	}
	if len(name) > 64 {
		return nil, pkg.Invalid("community name too long")
	}
	c := &model.Community{
		Name:        name,
		Description: in.Description,
		IsPrivate:   in.IsPrivate,
		IsPaid:      in.IsPaid,
		CreatorID:   actor.UserID,
	}
	if in.IsPaid {
		if in.PriceCents == nil || *in.PriceCents <= 0 {
			return nil, pkg.Invalid("paid community requires a positive price")
		}
		if in.Currency == nil || len(strings.TrimSpace(*in.Currency)) != 3 {
			return nil, pkg.Invalid("paid community requires a 3-letter currency")
		}
		cur := strings.ToUpper(strings.TrimSpace(*in.Currency))
		price := *in.PriceCents
		c.PriceCents, c.Currency = &price, &cur
	}
	if err := m.store.CreateCommunity(ctx, c); err != nil {
		return nil, pkg.Database("create community failed", err)
	}
	m.log.Info("community created", "community_id", c.ID, "creator", actor.UserID)
	return c, nil
}

func (m *Machine) Join(ctx context.Context, actor auth.Identity, communityID uint64) error {
	if actor.Anonymous() {
		return pkg.NewAppError(pkg.ErrUnauthorized, "login required", nil)
	}
	c, err := m.store.FindCommunity(ctx, communityID)
	if err != nil {
		return pkg.Database("find community failed", err)
	}
	if c.IsPrivate {
		return ErrPrivateCommunity
	}
	cur, err := m.store.FindMembership(ctx, communityID, actor.UserID)
	if err != nil {
		return pkg.Database("find membership failed", err)
	}
	if cur != nil && cur.Active() {
		return ErrAlreadyMember
	}
	if err = m.store.Join(ctx, communityID, actor.UserID); err != nil {
		return pkg.Database("join community failed", err)
	}
	m.log.Info("community joined", "community_id", communityID, "user_id", actor.UserID)
	return nil
}

// Leave 普通成员直接离开；管理员离开走所有权转移，没有其他成员时删除社区
func (m *Machine) Leave(ctx context.Context, actor auth.Identity, communityID uint64) (LeaveResult, error) {
	if actor.Anonymous() {
		return LeaveResult{}, pkg.NewAppError(pkg.ErrUnauthorized, "login required", nil)
	}
	cur, err := m.store.FindMembership(ctx, communityID, actor.UserID)
	if err != nil {
		return LeaveResult{}, pkg.Database("find membership failed", err)
	}
	if cur == nil || !cur.Active() {
		return LeaveResult{}, ErrNotMember
	}
	if cur.Role != model.RoleAdmin {
		if err = m.store.Leave(ctx, communityID, actor.UserID); err != nil {
			return LeaveResult{}, pkg.Database("leave community failed", err)
		}
		return LeaveResult{Left: true}, nil
	}
	return m.adminLeave(ctx, actor.UserID, communityID)
}

// adminLeave 继任者在转移期间离开会得到 CONFLICT，此时按最新成员重新走一遍
func (m *Machine) adminLeave(ctx context.Context, userID, communityID uint64) (LeaveResult, error) {
	res, err := m.adminLeaveOnce(ctx, userID, communityID)
	if pkg.IsCode(err, pkg.ErrConflict) {
		m.log.Info("successor changed during transfer, retrying", "community_id", communityID, "user_id", userID)
		return m.adminLeaveOnce(ctx, userID, communityID)
	}
	return res, err
}

func (m *Machine) adminLeaveOnce(ctx context.Context, userID, communityID uint64) (LeaveResult, error) {
	others, err := m.store.OtherActiveMembers(ctx, communityID, userID)
	if err != nil {
		return LeaveResult{}, pkg.Database("list members failed", err)
	}
	if len(others) == 0 {
		if err = m.store.DeleteCommunity(ctx, communityID); err != nil && !pkg.IsCode(err, pkg.ErrNotFound) {
			return LeaveResult{}, pkg.Database("delete community failed", err)
		}
		m.log.Info("last member left, community deleted", "community_id", communityID, "user_id", userID)
		return LeaveResult{Left: true, CommunityDeleted: true}, nil
	}

	c, err := m.store.FindCommunity(ctx, communityID)
	if err != nil {
		return LeaveResult{}, pkg.Database("find community failed", err)
	}
	successor := ChooseSuccessor(others)
	reassign := c.CreatorID == userID

	if t, ok := m.store.(OwnershipTransferer); ok {
		if err = t.TransferOwnership(ctx, communityID, userID, successor.UserID, reassign); err != nil {
			return LeaveResult{}, pkg.Database("ownership transfer failed", err)
		}
	} else if err = m.transferStepwise(ctx, communityID, userID, successor.UserID, reassign); err != nil {
		return LeaveResult{}, err
	}
	m.log.Info("ownership transferred", "community_id", communityID, "from", userID, "to", successor.UserID)
	return LeaveResult{Left: true, SuccessorID: successor.UserID}, nil
}

// transferStepwise 提升 → 转移创建者 → 移除离开者；任一步失败即停止，离开者保持原状
func (m *Machine) transferStepwise(ctx context.Context, communityID, from, to uint64, reassign bool) error {
	if err := m.store.Promote(ctx, communityID, to); err != nil {
		return pkg.Database(fmt.Sprintf("promote user %d failed", to), err)
	}
	if reassign {
		if err := m.store.ReassignCreator(ctx, communityID, to); err != nil {
			return pkg.Database("reassign creator failed", err)
		}
	}
	if err := m.store.Leave(ctx, communityID, from); err != nil {
		return pkg.Database("remove departing admin failed", err)
	}
	return nil
}

// DeleteCommunity 仅创建者或活跃管理员可删；重复删除视为成功
func (m *Machine) DeleteCommunity(ctx context.Context, requester auth.Identity, communityID uint64) error {
	if requester.Anonymous() {
		return pkg.NewAppError(pkg.ErrUnauthorized, "login required", nil)
	}
	c, err := m.store.FindCommunity(ctx, communityID)
	if pkg.IsCode(err, pkg.ErrNotFound) {
		return nil
	}
	if err != nil {
		return pkg.Database("find community failed", err)
	}
	if c.CreatorID != requester.UserID {
		cur, err := m.store.FindMembership(ctx, communityID, requester.UserID)
		if err != nil {
			return pkg.Database("find membership failed", err)
		}
		if cur == nil || !cur.IsAdmin() {
			return pkg.Forbidden("only the creator or an admin can delete a community")
		}
	}
	if err = m.store.DeleteCommunity(ctx, communityID); err != nil && !pkg.IsCode(err, pkg.ErrNotFound) {
		return pkg.Database("delete community failed", err)
	}
	m.log.Info("community deleted", "community_id", communityID, "by", requester.UserID)
	return nil
}

// ChooseSuccessor 已有管理员优先，其次最早加入，同时加入取最小 user id
func ChooseSuccessor(candidates []model.CommunityMember) model.CommunityMember {
	sorted := make([]model.CommunityMember, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if (a.Role == model.RoleAdmin) != (b.Role == model.RoleAdmin) {
			return a.Role == model.RoleAdmin
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.UserID < b.UserID
	})
	return sorted[0]
}
