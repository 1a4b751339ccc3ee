package service

import (
	"context"
	"log/slog"

	"community_core/internal/auth"
	"community_core/internal/membership"
	"community_core/internal/model"
	"community_core/internal/pkg"
	"community_core/internal/repository/gormdb"
	"community_core/internal/visibility"
)

type CommunityService struct {
	machine *membership.Machine
	policy  *visibility.Policy
	members *gormdb.CommunityMemberRepository
}

// CommunityView 社区详情，成员数为服务端实时聚合
type CommunityView struct {
	model.Community
	ActiveMembers int64  `json:"active_members"`
	MyRole        string `json:"my_role,omitempty"`
}

func NewCommunityService(store *gormdb.Store, log *slog.Logger) *CommunityService {
	return &CommunityService{
		machine: membership.NewMachine(store, log),
		policy:  visibility.NewPolicy(store),
		members: store.Members,
	}
}

func (s *CommunityService) CreateCommunity(ctx context.Context, actor auth.Identity, in membership.CreateInput) (*model.Community, error) {
	return s.machine.Create(ctx, actor, in)
}

func (s *CommunityService) JoinCommunity(ctx context.Context, actor auth.Identity, communityID uint64) error {
	if communityID == 0 {
		return pkg.Invalid("invalid community id")
	}
	return s.machine.Join(ctx, actor, communityID)
}

func (s *CommunityService) LeaveCommunity(ctx context.Context, actor auth.Identity, communityID uint64) (membership.LeaveResult, error) {
	if communityID == 0 {
		return membership.LeaveResult{}, pkg.Invalid("invalid community id")
	}
	return s.machine.Leave(ctx, actor, communityID)
}

func (s *CommunityService) DeleteCommunity(ctx context.Context, actor auth.Identity, communityID uint64) error {
	if communityID == 0 {
		return pkg.Invalid("invalid community id")
	}
	return s.machine.DeleteCommunity(ctx, actor, communityID)
}

func (s *CommunityService) Discover(ctx context.Context, viewer auth.Identity, query string, page, size int) ([]model.Community, error) {
	return s.policy.Discover(ctx, viewer, query, visibility.Page{Page: page, Size: size})
}

func (s *CommunityService) Mine(ctx context.Context, viewer auth.Identity) ([]model.Community, error) {
	return s.policy.MyCommunities(ctx, viewer)
}

func (s *CommunityService) Get(ctx context.Context, viewer auth.Identity, communityID uint64) (*CommunityView, error) {
	c, err := s.policy.Community(ctx, viewer, communityID)
	if err != nil {
		return nil, err
	}
	n, err := s.members.CountActive(ctx, communityID)
	if err != nil {
		return nil, pkg.Database("count members failed", err)
	}
	view := &CommunityView{Community: *c, ActiveMembers: n}
	if !viewer.Anonymous() {
		m, err := s.members.Find(ctx, communityID, viewer.UserID)
		if err != nil {
			return nil, pkg.Database("find membership failed", err)
		}
		if m != nil && m.Active() {
			view.MyRole = m.Role.String()
		}
	}
	return view, nil
}

func (s *CommunityService) Policy() *visibility.Policy { return s.policy }
