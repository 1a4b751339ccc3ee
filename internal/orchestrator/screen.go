package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"community_core/internal/auth"
	"community_core/internal/changefeed"
	"community_core/internal/feed"
	"community_core/internal/model"
	"community_core/internal/pkg"
)

const DefaultCommandTimeout = 10 * time.Second

// Subscriber changefeed.Client 的窄接口
type Subscriber interface {
	Subscribe(ctx context.Context, f changefeed.Filter, onInvalidate func(key string)) (*changefeed.Handle, error)
	Unsubscribe(h *changefeed.Handle) error
}

// Fetcher 拉取当前筛选条件下的权威数据
type Fetcher func(ctx context.Context, viewer auth.Identity) ([]feed.Item, error)

// Backend 修改意图对应的后端命令
type Backend interface {
	Like(ctx context.Context, viewer auth.Identity, postID uint64) (int64, error)
	Unlike(ctx context.Context, viewer auth.Identity, postID uint64) (int64, error)
	Comment(ctx context.Context, viewer auth.Identity, postID uint64, content string) (*model.Comment, error)
}

type Options struct {
	Viewer         auth.Identity
	Filters        []changefeed.Filter
	Fetch          Fetcher
	Backend        Backend
	Window         int
	CommandTimeout time.Duration
	OnView         func([]feed.Item)
	OnError        func(error)
	Logger         *slog.Logger
}

// Screen 把变更信号绑定到重新拉取和合并；每个 Screen 只有一个工作协程处理刷新
type Screen struct {
	id      string
	viewer  auth.Identity
	sub     Subscriber
	backend Backend
	rec     *feed.Reconciler
	timeout time.Duration
	onView  func([]feed.Item)
	onError func(error)
	log     *slog.Logger

	mu      sync.Mutex
	fetch   Fetcher
	filters []changefeed.Filter
	handles []*changefeed.Handle
	mounted bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
	gone    chan struct{}

	viewMu sync.Mutex
	dirty  chan struct{}
}

func NewScreen(sub Subscriber, opts Options) (*Screen, error) {
	if sub == nil || opts.Fetch == nil {
		return nil, errors.New("orchestrator: subscriber and fetch required")
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	id := uuid.NewString()
	return &Screen{
		id:      id,
		viewer:  opts.Viewer,
		sub:     sub,
		backend: opts.Backend,
		rec:     feed.NewReconciler(opts.Viewer.UserID, opts.Window),
		timeout: opts.CommandTimeout,
		onView:  opts.OnView,
		onError: opts.OnError,
		log:     opts.Logger.With("screen", id, "viewer", opts.Viewer.UserID),
		fetch:   opts.Fetch,
		filters: append([]changefeed.Filter(nil), opts.Filters...),
		dirty:   make(chan struct{}, 1),
		gone:    make(chan struct{}),
	}, nil
}

func (s *Screen) ID() string { return s.id }

func (s *Screen) Viewer() auth.Identity { return s.viewer }

// Done Unmount 之后关闭
func (s *Screen) Done() <-chan struct{} { return s.gone }

// Mount 先订阅再首次拉取，保证拉取期间的变更不会丢
func (s *Screen) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.mounted || s.closed {
		s.mu.Unlock()
		return fmt.Errorf("orchestrator: screen %s already mounted", s.id)
	}
	handles, err := s.subscribeLocked(ctx, s.filters)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.handles = handles
	s.mounted = true
	s.mu.Unlock()

	if err = s.refresh(ctx); err != nil {
		s.Unmount()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	wctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.worker(wctx)
	return nil
}

func (s *Screen) subscribeLocked(ctx context.Context, filters []changefeed.Filter) ([]*changefeed.Handle, error) {
	handles := make([]*changefeed.Handle, 0, len(filters))
	for _, f := range filters {
		h, err := s.sub.Subscribe(ctx, f, s.invalidate)
		if err != nil {
			for _, done := range handles {
				_ = s.sub.Unsubscribe(done)
			}
			return nil, pkg.NewAppError(pkg.ErrTransport, "subscribe "+f.Key()+" failed", err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// invalidate 合并信号：已经有一次刷新在排队时直接丢弃
func (s *Screen) invalidate(key string) {
	select {
	case s.dirty <- struct{}{}:
		s.log.Debug("invalidated", "key", key)
	default:
	}
}

func (s *Screen) worker(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dirty:
			if err := s.refresh(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("refresh failed", "err", err)
				s.reportError(err)
			}
		}
	}
}

func (s *Screen) refresh(ctx context.Context) error {
	s.mu.Lock()
	fetch := s.fetch
	s.mu.Unlock()

	items, err := fetch(ctx, s.viewer)
	if err != nil {
		return err
	}
	s.rec.Replace(items)
	s.publish()
	return nil
}

// Refresh 立即排队一次刷新
func (s *Screen) Refresh() { s.invalidate("manual") }

// SetFilters 退订旧条件、订阅新条件，然后重新拉取
func (s *Screen) SetFilters(ctx context.Context, fetch Fetcher, filters ...changefeed.Filter) error {
	s.mu.Lock()
	if !s.mounted || s.closed {
		s.mu.Unlock()
		return fmt.Errorf("orchestrator: screen %s not mounted", s.id)
	}
	for _, h := range s.handles {
		if err := s.sub.Unsubscribe(h); err != nil {
			s.log.Warn("unsubscribe failed", "key", h.Key(), "err", err)
		}
	}
	s.handles = nil
	handles, err := s.subscribeLocked(ctx, filters)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.handles = handles
	s.filters = append([]changefeed.Filter(nil), filters...)
	if fetch != nil {
		s.fetch = fetch
	}
	s.mu.Unlock()

	s.invalidate("filters")
	return nil
}

// Unmount 每个订阅只退订一次；可重复调用
func (s *Screen) Unmount() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.gone)
	handles := s.handles
	s.handles = nil
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	for _, h := range handles {
		if err := s.sub.Unsubscribe(h); err != nil {
			s.log.Warn("unsubscribe failed", "key", h.Key(), "err", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.log.Debug("screen unmounted")
}

// View 当前物化视图
func (s *Screen) View() []feed.Item { return s.rec.Items() }

func (s *Screen) Like(ctx context.Context, postID uint64) error {
	return s.mutate(ctx, postID, feed.Like(s.viewer.UserID), func(cctx context.Context) (feed.Confirmation, error) {
		n, err := s.backend.Like(cctx, s.viewer, postID)
		return feed.Confirmation{LikesCount: &n}, err
	})
}

func (s *Screen) Unlike(ctx context.Context, postID uint64) error {
	return s.mutate(ctx, postID, feed.Unlike(s.viewer.UserID), func(cctx context.Context) (feed.Confirmation, error) {
		n, err := s.backend.Unlike(cctx, s.viewer, postID)
		return feed.Confirmation{LikesCount: &n}, err
	})
}

// Comment 先校验再乐观显示，非法内容不会出现在视图里
func (s *Screen) Comment(ctx context.Context, postID uint64, content string) (*model.Comment, error) {
	content, err := feed.NormalizeComment(content)
	if err != nil {
		return nil, err
	}
	var created *model.Comment
	err = s.mutate(ctx, postID, feed.AddComment(s.viewer.UserID, content), func(cctx context.Context) (feed.Confirmation, error) {
		c, err := s.backend.Comment(cctx, s.viewer, postID, content)
		if err != nil {
			return feed.Confirmation{}, err
		}
		created = c
		return feed.Confirmation{CommentID: c.ID, Content: c.Content, CreatedAt: c.CreatedAt}, nil
	})
	return created, err
}

// mutate 乐观修改 → 后端命令 → 确认或回滚；超时视为失败
func (s *Screen) mutate(ctx context.Context, postID uint64, d feed.Delta, run func(context.Context) (feed.Confirmation, error)) error {
	if s.backend == nil {
		return errors.New("orchestrator: screen has no backend")
	}
	h, err := s.rec.ApplyOptimistic(postID, d)
	if err != nil {
		return err
	}
	s.publish()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	conf, err := run(cctx)
	if err == nil && cctx.Err() != nil {
		err = cctx.Err()
	}
	if err != nil {
		s.rec.Rollback(h)
		s.publish()
		if errors.Is(err, context.DeadlineExceeded) {
			err = pkg.NewAppError(pkg.ErrTimeout, d.Kind.String()+" timed out", err)
		}
		s.log.Info("optimistic edit rolled back", "post_id", postID, "kind", d.Kind.String(), "err", err)
		return err
	}
	s.rec.Commit(h, conf)
	s.publish()
	return nil
}

func (s *Screen) publish() {
	if s.onView == nil {
		return
	}
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.onView(s.rec.Items())
}

func (s *Screen) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}
