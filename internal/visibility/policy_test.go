package visibility

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"community_core/internal/auth"
	"community_core/internal/model"
	"community_core/internal/pkg"
)

type fakeStore struct {
	communities []model.Community
	members     map[uint64][]uint64 // user -> active community ids
	posts       []model.Post
}

func (f *fakeStore) ListPublicCommunities(_ context.Context, _ string, offset, limit int) ([]model.Community, error) {
	var out []model.Community
	for _, c := range f.communities {
		if !c.IsPrivate {
			out = append(out, c)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	return out[offset:min(len(out), offset+limit)], nil
}

func (f *fakeStore) ListCommunitiesByIDs(_ context.Context, ids []uint64) ([]model.Community, error) {
	var out []model.Community
	for _, c := range f.communities {
		if slices.Contains(ids, c.ID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) FindCommunity(_ context.Context, id uint64) (*model.Community, error) {
	for _, c := range f.communities {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, pkg.NotFound("community not found")
}

func (f *fakeStore) ActiveCommunityIDs(_ context.Context, uid uint64) ([]uint64, error) {
	return f.members[uid], nil
}

func (f *fakeStore) IsActiveMember(_ context.Context, cid, uid uint64) (bool, error) {
	return slices.Contains(f.members[uid], cid), nil
}

func (f *fakeStore) ListPosts(_ context.Context, q PostQuery) ([]model.Post, error) {
	var out []model.Post
	for _, p := range f.posts {
		in := (p.CommunityID == nil && q.IncludeGeneral) || (p.CommunityID != nil && slices.Contains(q.CommunityIDs, *p.CommunityID))
		if in && (q.Kind == "" || p.Kind == q.Kind) {
			out = append(out, p)
		}
	}
	return out, nil
}

func ptr(v uint64) *uint64 { return &v }

func fixture() *fakeStore {
	return &fakeStore{
		communities: []model.Community{
			{ID: 1, Name: "open"},
			{ID: 2, Name: "secret", IsPrivate: true},
		},
		members: map[uint64][]uint64{10: {2}},
		posts: []model.Post{
			{ID: 100, Kind: model.PostGeneral},
			{ID: 101, CommunityID: ptr(1), Kind: model.PostCommunity},
			{ID: 102, CommunityID: ptr(2), Kind: model.PostCommunity},
		},
	}
}

func ids(posts []model.Post) []uint64 {
	out := make([]uint64, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func TestDiscoverHidesPrivate(t *testing.T) {
	p := NewPolicy(fixture())
	list, err := p.Discover(context.Background(), auth.User(10), "", Page{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "open", list[0].Name)
}

func TestMyCommunitiesIncludesPrivate(t *testing.T) {
	p := NewPolicy(fixture())
	list, err := p.MyCommunities(context.Background(), auth.User(10))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsPrivate)

	list, err = p.MyCommunities(context.Background(), auth.User(11))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestHomeFeed(t *testing.T) {
	p := NewPolicy(fixture())
	ctx := context.Background()

	posts, err := p.HomeFeed(ctx, auth.User(10), Cursor{}, 20)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{100, 102}, ids(posts))

	posts, err = p.HomeFeed(ctx, auth.User(11), Cursor{}, 20)
	require.NoError(t, err)
	assert.Equal(t, []uint64{100}, ids(posts))
}

func TestCommunityFeed(t *testing.T) {
	p := NewPolicy(fixture())
	ctx := context.Background()

	posts, err := p.CommunityFeed(ctx, auth.User(11), 1, Cursor{}, 20)
	require.NoError(t, err)
	assert.Equal(t, []uint64{101}, ids(posts))

	_, err = p.CommunityFeed(ctx, auth.User(11), 2, Cursor{}, 20)
	assert.True(t, pkg.IsCode(err, pkg.ErrForbidden))

	posts, err = p.CommunityFeed(ctx, auth.User(10), 2, Cursor{}, 20)
	require.NoError(t, err)
	assert.Equal(t, []uint64{102}, ids(posts))
}

func TestCommunityLookupHidesPrivate(t *testing.T) {
	p := NewPolicy(fixture())
	ctx := context.Background()

	_, err := p.Community(ctx, auth.Identity{}, 2)
	assert.True(t, pkg.IsCode(err, pkg.ErrNotFound))

	c, err := p.Community(ctx, auth.User(10), 2)
	require.NoError(t, err)
	assert.Equal(t, "secret", c.Name)
}

func TestCheckPost(t *testing.T) {
	f := fixture()
	p := NewPolicy(f)
	ctx := context.Background()

	assert.NoError(t, p.CheckPost(ctx, auth.Identity{}, &f.posts[0]))
	assert.NoError(t, p.CheckPost(ctx, auth.Identity{}, &f.posts[1]))

	err := p.CheckPost(ctx, auth.User(11), &f.posts[2])
	assert.True(t, pkg.IsCode(err, pkg.ErrForbidden))
	err = p.CheckPost(ctx, auth.Identity{}, &f.posts[2])
	assert.True(t, pkg.IsCode(err, pkg.ErrForbidden))
	assert.NoError(t, p.CheckPost(ctx, auth.User(10), &f.posts[2]))

	gone := model.Post{ID: 103, CommunityID: ptr(9)}
	err = p.CheckPost(ctx, auth.User(10), &gone)
	assert.True(t, pkg.IsCode(err, pkg.ErrNotFound))
	assert.True(t, pkg.IsCode(p.CheckPost(ctx, auth.User(10), nil), pkg.ErrNotFound))
}
