package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"community_core/internal/auth"
	"community_core/internal/changefeed"
	"community_core/internal/feed"
	"community_core/internal/model"
	"community_core/internal/pkg"
)

// countingSubscriber 包一层 changefeed.Client，记录每个句柄的退订次数
type countingSubscriber struct {
	*changefeed.Client
	mu     sync.Mutex
	unsubs map[*changefeed.Handle]int
	subs   int
}

func newCountingSubscriber(hub *changefeed.Hub) *countingSubscriber {
	return &countingSubscriber{Client: changefeed.NewClient(hub, nil), unsubs: map[*changefeed.Handle]int{}}
}

func (c *countingSubscriber) Subscribe(ctx context.Context, f changefeed.Filter, fn func(string)) (*changefeed.Handle, error) {
	h, err := c.Client.Subscribe(ctx, f, fn)
	if err == nil {
		c.mu.Lock()
		c.subs++
		c.mu.Unlock()
	}
	return h, err
}

func (c *countingSubscriber) Unsubscribe(h *changefeed.Handle) error {
	c.mu.Lock()
	c.unsubs[h]++
	c.mu.Unlock()
	return c.Client.Unsubscribe(h)
}

type fakeBackend struct {
	likeErr    error
	commentErr error
	delay      time.Duration
	likes      atomic.Int64
}

func (b *fakeBackend) Like(ctx context.Context, _ auth.Identity, _ uint64) (int64, error) {
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if b.likeErr != nil {
		return 0, b.likeErr
	}
	return b.likes.Add(1), nil
}

func (b *fakeBackend) Unlike(_ context.Context, _ auth.Identity, _ uint64) (int64, error) {
	return b.likes.Add(-1), nil
}

func (b *fakeBackend) Comment(_ context.Context, v auth.Identity, postID uint64, content string) (*model.Comment, error) {
	if b.commentErr != nil {
		return nil, b.commentErr
	}
	return &model.Comment{ID: 501, PostID: postID, AuthorID: v.UserID, Content: content, CreatedAt: time.Now()}, nil
}

var viewer = auth.User(10)

func fetcher(calls *atomic.Int32) Fetcher {
	return func(context.Context, auth.Identity) ([]feed.Item, error) {
		calls.Add(1)
		return []feed.Item{{PostID: 1}, {PostID: 2}}, nil
	}
}

func TestMountSubscribesThenFetches(t *testing.T) {
	hub := changefeed.NewHub()
	sub := newCountingSubscriber(hub)
	var calls atomic.Int32

	s, err := NewScreen(sub, Options{
		Viewer:  viewer,
		Filters: []changefeed.Filter{changefeed.TableFilter("posts"), changefeed.TableFilter("comments")},
		Fetch:   fetcher(&calls),
	})
	require.NoError(t, err)
	require.NoError(t, s.Mount(context.Background()))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 2, sub.subs)
	assert.Len(t, s.View(), 2)

	select {
	case <-s.Done():
		t.Fatal("done before unmount")
	default:
	}
	s.Unmount()
	s.Unmount()
	<-s.Done()
	assert.Equal(t, 0, sub.Active())
	for _, n := range sub.unsubs {
		assert.Equal(t, 1, n)
	}
	assert.Len(t, sub.unsubs, 2)
}

func TestInvalidationTriggersRefetch(t *testing.T) {
	hub := changefeed.NewHub()
	sub := newCountingSubscriber(hub)
	pub := changefeed.NewPublisher(hub)
	var calls atomic.Int32

	s, err := NewScreen(sub, Options{Viewer: viewer, Filters: []changefeed.Filter{changefeed.TableFilter("posts")}, Fetch: fetcher(&calls)})
	require.NoError(t, err)
	require.NoError(t, s.Mount(context.Background()))
	defer s.Unmount()

	require.NoError(t, pub.PublishEvent(context.Background(), changefeed.Event{Table: "posts", Type: changefeed.EventInsert}))
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestRedundantInvalidationsCoalesce(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	slow := func(context.Context, auth.Identity) ([]feed.Item, error) {
		if calls.Add(1) == 2 {
			<-release
		}
		return nil, nil
	}
	s, err := NewScreen(newCountingSubscriber(changefeed.NewHub()), Options{Viewer: viewer, Fetch: slow})
	require.NoError(t, err)
	require.NoError(t, s.Mount(context.Background()))

	s.Refresh()
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	// 第二次刷新阻塞期间的 10 个信号只会再触发一次
	for i := 0; i < 10; i++ {
		s.Refresh()
	}
	close(release)
	assert.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	s.Unmount()
}

func TestLikeCommitAndRollback(t *testing.T) {
	var calls atomic.Int32
	be := &fakeBackend{}
	s, err := NewScreen(newCountingSubscriber(changefeed.NewHub()), Options{Viewer: viewer, Fetch: fetcher(&calls), Backend: be})
	require.NoError(t, err)
	require.NoError(t, s.Mount(context.Background()))
	defer s.Unmount()

	require.NoError(t, s.Like(context.Background(), 1))
	assert.True(t, s.View()[0].LikedByMe)
	assert.Equal(t, int64(1), s.View()[0].LikesCount)

	be.likeErr = errors.New("db down")
	err = s.Like(context.Background(), 2)
	require.Error(t, err)
	assert.False(t, s.View()[1].LikedByMe)
	assert.Zero(t, s.View()[1].LikesCount)
}

func TestTimeoutRollsBack(t *testing.T) {
	var calls atomic.Int32
	be := &fakeBackend{delay: 200 * time.Millisecond}
	s, err := NewScreen(newCountingSubscriber(changefeed.NewHub()), Options{
		Viewer: viewer, Fetch: fetcher(&calls), Backend: be, CommandTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, s.Mount(context.Background()))
	defer s.Unmount()

	err = s.Like(context.Background(), 1)
	assert.True(t, pkg.IsCode(err, pkg.ErrTimeout))
	assert.False(t, s.View()[0].LikedByMe)
}

func TestCommentIntent(t *testing.T) {
	var calls atomic.Int32
	be := &fakeBackend{}
	var views atomic.Int32
	s, err := NewScreen(newCountingSubscriber(changefeed.NewHub()), Options{
		Viewer: viewer, Fetch: fetcher(&calls), Backend: be,
		OnView: func([]feed.Item) { views.Add(1) },
	})
	require.NoError(t, err)
	require.NoError(t, s.Mount(context.Background()))
	defer s.Unmount()

	c, err := s.Comment(context.Background(), 2, "nice")
	require.NoError(t, err)
	assert.Equal(t, uint64(501), c.ID)

	it := s.View()[1]
	require.Len(t, it.Comments, 1)
	assert.Equal(t, uint64(501), it.Comments[0].ID)
	assert.False(t, it.Comments[0].Pending)
	// 挂载 1 次 + 乐观 1 次 + 确认 1 次
	assert.GreaterOrEqual(t, views.Load(), int32(3))

	be.commentErr = errors.New("rejected")
	_, err = s.Comment(context.Background(), 2, "again")
	require.Error(t, err)
	assert.Len(t, s.View()[1].Comments, 1)
}

func TestSetFiltersResubscribes(t *testing.T) {
	hub := changefeed.NewHub()
	sub := newCountingSubscriber(hub)
	var calls atomic.Int32
	s, err := NewScreen(sub, Options{Viewer: viewer, Filters: []changefeed.Filter{changefeed.ColumnFilter("posts", "community_id", 1)}, Fetch: fetcher(&calls)})
	require.NoError(t, err)
	require.NoError(t, s.Mount(context.Background()))
	defer s.Unmount()

	require.NoError(t, s.SetFilters(context.Background(), nil, changefeed.ColumnFilter("posts", "community_id", 2)))
	assert.Equal(t, 0, hub.Subscribers("cf:posts:community_id=eq.1"))
	assert.Equal(t, 1, hub.Subscribers("cf:posts:community_id=eq.2"))
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestMountFailureReleasesSubscriptions(t *testing.T) {
	hub := changefeed.NewHub()
	sub := newCountingSubscriber(hub)
	s, err := NewScreen(sub, Options{
		Viewer:  viewer,
		Filters: []changefeed.Filter{changefeed.TableFilter("posts")},
		Fetch:   func(context.Context, auth.Identity) ([]feed.Item, error) { return nil, errors.New("nope") },
	})
	require.NoError(t, err)
	require.Error(t, s.Mount(context.Background()))
	assert.Equal(t, 0, hub.Subscribers("cf:posts"))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	var calls atomic.Int32
	s, err := NewScreen(newCountingSubscriber(changefeed.NewHub()), Options{Viewer: viewer, Fetch: fetcher(&calls)})
	require.NoError(t, err)
	require.NoError(t, s.Mount(context.Background()))

	r.Add(s)
	got, ok := r.Get(viewer.UserID, s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = r.Get(viewer.UserID+1, s.ID())
	assert.False(t, ok)

	r.UnmountAll()
	assert.Equal(t, 0, r.Len())
}

func TestInvalidCommentNeverShown(t *testing.T) {
	var calls atomic.Int32
	be := &fakeBackend{}
	var views atomic.Int32
	var drafts atomic.Int32
	s, err := NewScreen(newCountingSubscriber(changefeed.NewHub()), Options{
		Viewer: viewer, Fetch: fetcher(&calls), Backend: be,
		OnView: func(items []feed.Item) {
			views.Add(1)
			for _, it := range items {
				if len(it.Comments) > 0 {
					drafts.Add(1)
				}
			}
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Mount(context.Background()))
	defer s.Unmount()
	mounted := views.Load()

	_, err = s.Comment(context.Background(), 2, "   ")
	assert.True(t, pkg.IsCode(err, pkg.ErrInvalidInput))
	_, err = s.Comment(context.Background(), 2, strings.Repeat("x", feed.MaxCommentLen+1))
	assert.True(t, pkg.IsCode(err, pkg.ErrInvalidInput))

	assert.Equal(t, mounted, views.Load())
	assert.Zero(t, drafts.Load())
	assert.Empty(t, s.View()[1].Comments)
}
