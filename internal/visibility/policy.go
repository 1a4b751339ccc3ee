package visibility

import (
	"context"
	"time"

	"community_core/internal/auth"
	"community_core/internal/model"
	"community_core/internal/pkg"
)

// Page 页码分页，Size 默认 20，上限 50
type Page struct {
	Page int
	Size int
}

func (p Page) normalize() (offset, limit int) {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Size <= 0 || p.Size > 50 {
		p.Size = 20
	}
	return (p.Page - 1) * p.Size, p.Size
}

// Cursor 时间游标，(CreatedAt, ID) 严格小于
type Cursor struct {
	CreatedAt time.Time
	ID        uint64
}

func (c Cursor) IsZero() bool { return c.CreatedAt.IsZero() && c.ID == 0 }

// PostQuery 帖子列表条件：CommunityIDs 与 IncludeGeneral 取并集
type PostQuery struct {
	CommunityIDs   []uint64
	IncludeGeneral bool
	Kind           model.PostKind
	After          Cursor
	Limit          int
}

type Store interface {
	ListPublicCommunities(ctx context.Context, query string, offset, limit int) ([]model.Community, error)
	ListCommunitiesByIDs(ctx context.Context, ids []uint64) ([]model.Community, error)
	FindCommunity(ctx context.Context, communityID uint64) (*model.Community, error)
	ActiveCommunityIDs(ctx context.Context, userID uint64) ([]uint64, error)
	IsActiveMember(ctx context.Context, communityID, userID uint64) (bool, error)
	ListPosts(ctx context.Context, q PostQuery) ([]model.Post, error)
}

// Policy 决定某个用户能列出和查询哪些社区、帖子
type Policy struct {
	store Store
}

func NewPolicy(store Store) *Policy {
	return &Policy{store: store}
}

// Discover 只返回公开社区，按名称模糊搜索
func (p *Policy) Discover(ctx context.Context, _ auth.Identity, query string, page Page) ([]model.Community, error) {
	offset, limit := page.normalize()
	list, err := p.store.ListPublicCommunities(ctx, query, offset, limit)
	if err != nil {
		return nil, pkg.Database("list communities failed", err)
	}
	return list, nil
}

// MyCommunities 观看者活跃加入的社区，包括私有社区
func (p *Policy) MyCommunities(ctx context.Context, viewer auth.Identity) ([]model.Community, error) {
	if viewer.Anonymous() {
		return []model.Community{}, nil
	}
	ids, err := p.store.ActiveCommunityIDs(ctx, viewer.UserID)
	if err != nil {
		return nil, pkg.Database("list memberships failed", err)
	}
	if len(ids) == 0 {
		return []model.Community{}, nil
	}
	list, err := p.store.ListCommunitiesByIDs(ctx, ids)
	if err != nil {
		return nil, pkg.Database("list communities failed", err)
	}
	return list, nil
}

func (p *Policy) CanView(ctx context.Context, viewer auth.Identity, c *model.Community) (bool, error) {
	if c == nil {
		return false, nil
	}
	if !c.IsPrivate {
		return true, nil
	}
	if viewer.Anonymous() {
		return false, nil
	}
	ok, err := p.store.IsActiveMember(ctx, c.ID, viewer.UserID)
	if err != nil {
		return false, pkg.Database("check membership failed", err)
	}
	return ok, nil
}

// Community 按 id 取社区；私有且不可见时返回 NOT_FOUND，不暴露存在性
func (p *Policy) Community(ctx context.Context, viewer auth.Identity, communityID uint64) (*model.Community, error) {
	c, err := p.store.FindCommunity(ctx, communityID)
	if err != nil {
		return nil, pkg.Database("find community failed", err)
	}
	ok, err := p.CanView(ctx, viewer, c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkg.NotFound("community not found")
	}
	return c, nil
}

// HomeFeed community_id 为空的帖子，或属于观看者活跃加入的社区
func (p *Policy) HomeFeed(ctx context.Context, viewer auth.Identity, after Cursor, limit int) ([]model.Post, error) {
	q := PostQuery{IncludeGeneral: true, After: after, Limit: limit}
	if !viewer.Anonymous() {
		ids, err := p.store.ActiveCommunityIDs(ctx, viewer.UserID)
		if err != nil {
			return nil, pkg.Database("list memberships failed", err)
		}
		q.CommunityIDs = ids
	}
	list, err := p.store.ListPosts(ctx, q)
	if err != nil {
		return nil, pkg.Database("list posts failed", err)
	}
	return list, nil
}

// CommunityFeed 指定社区下 kind=community 的帖子；私有社区非成员返回 FORBIDDEN
func (p *Policy) CommunityFeed(ctx context.Context, viewer auth.Identity, communityID uint64, after Cursor, limit int) ([]model.Post, error) {
	c, err := p.store.FindCommunity(ctx, communityID)
	if err != nil {
		return nil, pkg.Database("find community failed", err)
	}
	ok, err := p.CanView(ctx, viewer, c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkg.Forbidden("community is private")
	}
	list, err := p.store.ListPosts(ctx, PostQuery{
		CommunityIDs: []uint64{communityID},
		Kind:         model.PostCommunity,
		After:        after,
		Limit:        limit,
	})
	if err != nil {
		return nil, pkg.Database("list posts failed", err)
	}
	return list, nil
}

// CheckPost 无社区的帖子对所有人可见；社区帖子跟随社区可见性，不可见时返回 FORBIDDEN
func (p *Policy) CheckPost(ctx context.Context, viewer auth.Identity, post *model.Post) error {
	if post == nil {
		return pkg.NotFound("post not found")
	}
	if post.CommunityID == nil {
		return nil
	}
	c, err := p.store.FindCommunity(ctx, *post.CommunityID)
	if err != nil {
		return pkg.Database("find community failed", err)
	}
	ok, err := p.CanView(ctx, viewer, c)
	if err != nil {
		return err
	}
	if !ok {
		return pkg.Forbidden("community is private")
	}
	return nil
}
