package gormdb

import (
	"context"

	"gorm.io/gorm"

	"community_core/internal/model"
	"community_core/internal/visibility"
)

// Store 把各个 repository 组合成核心包需要的存储接口
type Store struct {
	Communities *CommunityRepository
	Members     *CommunityMemberRepository
	Posts       *PostRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		Communities: &CommunityRepository{DB: db},
		Members:     &CommunityMemberRepository{DB: db},
		Posts:       &PostRepository{DB: db},
	}
}

func (s *Store) CreateCommunity(ctx context.Context, c *model.Community) error {
	return s.Communities.Create(ctx, c)
}

func (s *Store) FindCommunity(ctx context.Context, communityID uint64) (*model.Community, error) {
	return s.Communities.FindByID(ctx, communityID)
}

func (s *Store) FindMembership(ctx context.Context, communityID, userID uint64) (*model.CommunityMember, error) {
	return s.Members.Find(ctx, communityID, userID)
}

func (s *Store) Join(ctx context.Context, communityID, userID uint64) error {
	return s.Members.Join(ctx, communityID, userID)
}

func (s *Store) Leave(ctx context.Context, communityID, userID uint64) error {
	return s.Members.Leave(ctx, communityID, userID)
}

func (s *Store) OtherActiveMembers(ctx context.Context, communityID, userID uint64) ([]model.CommunityMember, error) {
	return s.Members.ListOtherActive(ctx, communityID, userID)
}

func (s *Store) Promote(ctx context.Context, communityID, userID uint64) error {
	return s.Members.Promote(ctx, communityID, userID)
}

func (s *Store) ReassignCreator(ctx context.Context, communityID, userID uint64) error {
	return s.Communities.ReassignCreator(ctx, communityID, userID)
}

func (s *Store) DeleteCommunity(ctx context.Context, communityID uint64) error {
	return s.Communities.DeleteByID(ctx, communityID)
}

func (s *Store) TransferOwnership(ctx context.Context, communityID, fromUserID, toUserID uint64, reassignCreator bool) error {
	return s.Members.TransferOwnership(ctx, communityID, fromUserID, toUserID, reassignCreator)
}

func (s *Store) ListPublicCommunities(ctx context.Context, query string, offset, limit int) ([]model.Community, error) {
	return s.Communities.ListPublic(ctx, query, offset, limit)
}

func (s *Store) ListCommunitiesByIDs(ctx context.Context, ids []uint64) ([]model.Community, error) {
	return s.Communities.ListByIDs(ctx, ids)
}

func (s *Store) ActiveCommunityIDs(ctx context.Context, userID uint64) ([]uint64, error) {
	return s.Members.ActiveCommunityIDs(ctx, userID)
}

func (s *Store) IsActiveMember(ctx context.Context, communityID, userID uint64) (bool, error) {
	return s.Members.IsActiveMember(ctx, communityID, userID)
}

func (s *Store) ListPosts(ctx context.Context, q visibility.PostQuery) ([]model.Post, error) {
	return s.Posts.ListFeed(ctx, q)
}
