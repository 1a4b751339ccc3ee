package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"community_core/internal/changefeed"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestUserToken(t *testing.T) {
	mr, rdb := newTestClient(t)
	repo := &UserRepository{RDB: rdb}
	ctx := context.Background()

	_, err := repo.GetUserToken(ctx, 1)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, repo.AddUserToken(ctx, 1, "tok"))
	got, err := repo.GetUserToken(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "tok", got)

	mr.FastForward(UserTokenExpire - time.Minute)
	require.NoError(t, repo.ExtendUserToken(ctx, 1))
	mr.FastForward(2 * time.Minute)
	_, err = repo.GetUserToken(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteUserToken(ctx, 1))
	_, err = repo.GetUserToken(ctx, 1)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestLikeCacheLazyWarm(t *testing.T) {
	_, rdb := newTestClient(t)
	cache := NewLikeCacheRepository(rdb)
	ctx := context.Background()

	// 集合不存在时不回填
	cache.WarmIsLiked(ctx, 1, 10, true)
	_, hit, err := cache.IsLikedCached(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, hit)

	// 集合不存在时 AddLike 不创建只含部分点赞者的集合
	require.NoError(t, cache.AddLike(ctx, 2, 10))
	_, hit, err = cache.IsLikedCached(ctx, 2, 10)
	require.NoError(t, err)
	assert.False(t, hit)

	gen, err := cache.LikeGeneration(ctx, 10)
	require.NoError(t, err)
	filled, err := cache.FillLikers(ctx, 10, gen, []uint64{2})
	require.NoError(t, err)
	require.True(t, filled)
	cache.WarmIsLiked(ctx, 1, 10, true)
	liked, hit, err := cache.IsLikedCached(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.True(t, liked)

	require.NoError(t, cache.RemoveLike(ctx, 1, 10))
	liked, _, err = cache.IsLikedCached(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, liked)

	require.NoError(t, cache.SetLikeCount(ctx, 10, 5))
	n, ok, err := cache.GetLikeCountCached(ctx, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), n)

	require.NoError(t, cache.DeleteCount(ctx, 10))
	_, ok, err = cache.GetLikeCountCached(ctx, 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDistLock(t *testing.T) {
	_, rdb := newTestClient(t)
	lock := &DistLock{RDB: rdb}
	ctx := context.Background()

	got, err := lock.Acquire(ctx, 1, "a")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = lock.Acquire(ctx, 1, "b")
	require.NoError(t, err)
	assert.False(t, got)

	// 别人的 token 释放不了
	require.NoError(t, lock.Release(ctx, 1, "b"))
	got, _ = lock.Acquire(ctx, 1, "b")
	assert.False(t, got)

	require.NoError(t, lock.Release(ctx, 1, "a"))
	got, err = lock.Acquire(ctx, 1, "b")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestPubSubTransportDeliversToClient(t *testing.T) {
	_, rdb := newTestClient(t)
	transport := &PubSubTransport{RDB: rdb}
	client := changefeed.NewClient(transport, nil)
	pub := changefeed.NewPublisher(transport)
	ctx := context.Background()

	keys := make(chan string, 4)
	h, err := client.Subscribe(ctx, changefeed.ColumnFilter("comments", "post_id", 3), func(k string) { keys <- k })
	require.NoError(t, err)

	require.NoError(t, pub.PublishEvent(ctx, changefeed.Event{
		Table:   "comments",
		Type:    changefeed.EventInsert,
		Columns: map[string]string{"post_id": "3"},
	}))

	select {
	case k := <-keys:
		assert.Equal(t, "comments:post_id=eq.3", k)
	case <-time.After(2 * time.Second):
		t.Fatal("no invalidation over redis")
	}

	require.NoError(t, client.Unsubscribe(h))
	assert.ErrorIs(t, client.Unsubscribe(h), changefeed.ErrUnknownHandle)
	require.NoError(t, client.Close())
}

func TestFillLikersSkipsAfterConcurrentWrite(t *testing.T) {
	_, rdb := newTestClient(t)
	cache := NewLikeCacheRepository(rdb)
	ctx := context.Background()

	gen, err := cache.LikeGeneration(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, "0", gen)

	// 读库之后、回填之前有人点赞
	require.NoError(t, cache.AddLike(ctx, 3, 20))
	filled, err := cache.FillLikers(ctx, 20, gen, []uint64{1, 2})
	require.NoError(t, err)
	assert.False(t, filled)
	_, hit, err := cache.IsLikedCached(ctx, 1, 20)
	require.NoError(t, err)
	assert.False(t, hit)

	gen, err = cache.LikeGeneration(ctx, 20)
	require.NoError(t, err)
	filled, err = cache.FillLikers(ctx, 20, gen, []uint64{1, 2, 3})
	require.NoError(t, err)
	require.True(t, filled)

	require.NoError(t, cache.AddLike(ctx, 4, 20))
	require.NoError(t, cache.RemoveLike(ctx, 1, 20))
	members, err := rdb.SMembers(ctx, "like:set:post:20").Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2", "3", "4"}, members)
}
